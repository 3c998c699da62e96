package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/devsim/core/schema"
)

const (
	ref1 = `{ "type" : "string" ,
		      "$id" : "http://some_host.com/string.json"}`
	ref2 = `{ "$id" : "http://some_host.com/maxlength.json",
	 		  "maxLength" : 5 }`

	topLevel = `
	{ "$id" : "http://some_host.com/top1.json",
	  "allOf" : [
		{ "$ref" : "http://some_host.com/string.json" },
		{ "$ref" : "http://some_host.com/maxlength.json" }
		]
	}`
)

func TestValidatorWithRefs(t *testing.T) {
	v, err := schema.NewValidator([]string{topLevel}, []string{ref1, ref2})
	require.NoError(t, err)

	schemaID := "http://some_host.com/top1.json"
	assert.True(t, v.HasSchema(schemaID))
	assert.NoError(t, v.Validate([]byte(`"short"`), schemaID))
	assert.Error(t, v.Validate([]byte(`"a very long string"`), schemaID))
	assert.Error(t, v.Validate([]byte(`"short"`), "http://some_host.com/unknown.json"))
}

func TestSchemaWithoutID(t *testing.T) {
	_, err := schema.NewValidator([]string{`{"type": "string"}`}, nil)
	assert.Error(t, err)
}

func TestTelemetrySchema(t *testing.T) {
	v, err := schema.Telemetry()
	require.NoError(t, err)
	require.True(t, v.HasSchema(schema.TelemetrySchemaID))

	valid := []string{
		`{"temperature": 21.5, "humidity": 59.37}`,
		`{"humidity": 60, "temperature": -3}`,
	}
	for _, doc := range valid {
		assert.NoError(t, v.Validate([]byte(doc), schema.TelemetrySchemaID), doc)
	}

	invalid := []string{
		`{"temperature": 21.5}`,
		`{"temperature": "21.5", "humidity": 59.37}`,
		`{"temperature": 21.5, "humidity": 59.37, "pressure": 1013}`,
		`[21.5, 59.37]`,
	}
	for _, doc := range invalid {
		assert.Error(t, v.Validate([]byte(doc), schema.TelemetrySchemaID), doc)
	}
}
