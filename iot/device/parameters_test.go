package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/devsim/iot"
	"github.com/relabs-tech/devsim/iot/credentials"
)

func clearEnvironment(t *testing.T) {
	for _, key := range []string{
		"DEVICE_ID", "PROVISIONING_ENDPOINT", "ID_SCOPE", "GROUP_PRIMARY_KEY",
		"DPS_DEVICE_ID", "DPS_ENDPOINT", "DPS_ID_SCOPE", "DPS_PRIMARY_KEY",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadParameters(t *testing.T) {
	clearEnvironment(t)
	t.Setenv("DEVICE_ID", "sim-001")
	t.Setenv("ID_SCOPE", "0ne00ABCDEF")
	t.Setenv("GROUP_PRIMARY_KEY", groupKey)

	p, err := LoadParameters()
	require.NoError(t, err)
	assert.Equal(t, "sim-001", p.DeviceID)
	assert.Equal(t, "0ne00ABCDEF", p.IDScope)
	assert.Equal(t, groupKey, p.GroupPrimaryKey)
	assert.Equal(t, DefaultProvisioningEndpoint, p.ProvisioningEndpoint)
}

func TestLoadLegacyParameters(t *testing.T) {
	clearEnvironment(t)
	t.Setenv("DEVICE_ID", "sim-002")
	t.Setenv("DPS_ENDPOINT", "dps.example.net")
	t.Setenv("DPS_ID_SCOPE", "0ne00LEGACY")
	t.Setenv("DPS_PRIMARY_KEY", groupKey)
	t.Setenv("ID_SCOPE", "0ne00CURRENT")

	p, err := LoadParameters()
	require.NoError(t, err)
	assert.Equal(t, "sim-002", p.DeviceID)
	assert.Equal(t, "dps.example.net", p.ProvisioningEndpoint)
	assert.Equal(t, "0ne00CURRENT", p.IDScope, "current names win over legacy names")
	assert.Equal(t, groupKey, p.GroupPrimaryKey)
}

func TestMissingParameters(t *testing.T) {
	clearEnvironment(t)
	t.Setenv("DEVICE_ID", "sim-001")

	_, err := LoadParameters()
	assert.ErrorIs(t, err, iot.ErrConfig)
	assert.Contains(t, err.Error(), "ID_SCOPE is missing")
	assert.Contains(t, err.Error(), "GROUP_PRIMARY_KEY is missing")
	assert.NotContains(t, err.Error(), "DEVICE_ID")
}

func TestInvalidGroupKey(t *testing.T) {
	p := testParameters()
	p.GroupPrimaryKey = "not base64!"
	err := p.Validate()
	assert.ErrorIs(t, err, iot.ErrConfig)
	assert.Contains(t, err.Error(), "not valid base64")
}

func TestDeriveKeyOnce(t *testing.T) {
	p := testParameters()
	expected, err := credentials.DeriveKey(groupKey, "sim-001")
	require.NoError(t, err)

	key, err := p.DeriveKey()
	require.NoError(t, err)
	assert.Equal(t, expected, key)

	// changing the inputs later does not change the derived key
	p.DeviceID = "sim-999"
	key, err = p.DeriveKey()
	require.NoError(t, err)
	assert.Equal(t, expected, key)
}
