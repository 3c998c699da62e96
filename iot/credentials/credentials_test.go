package credentials

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/devsim/iot"
)

var groupKey = base64.StdEncoding.EncodeToString([]byte("a group enrollment primary key!!"))

func TestDeriveKeyIsDeterministic(t *testing.T) {
	first, err := DeriveKey(groupKey, "sim-001")
	require.NoError(t, err)
	second, err := DeriveKey(groupKey, "sim-001")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := DeriveKey(groupKey, "sim-002")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestDeriveKeyMatchesHMAC(t *testing.T) {
	raw, _ := base64.StdEncoding.DecodeString(groupKey)
	mac := hmac.New(sha256.New, raw)
	mac.Write([]byte("thermostat-ü"))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	derived, err := DeriveKey(groupKey, "thermostat-ü")
	require.NoError(t, err)
	assert.Equal(t, expected, derived)

	decoded, err := base64.StdEncoding.DecodeString(derived)
	require.NoError(t, err)
	assert.Len(t, decoded, sha256.Size)
}

func TestDeriveKeyRejectsInvalidBase64(t *testing.T) {
	for _, key := range []string{"not base64!", "abc", ""} {
		_, err := DeriveKey(key, "sim-001")
		assert.ErrorIs(t, err, iot.ErrCredential, key)
	}
}

func TestSASToken(t *testing.T) {
	deviceKey, err := DeriveKey(groupKey, "sim-001")
	require.NoError(t, err)
	expiry := time.Unix(1700000000, 0)

	token, err := SASToken(ProvisioningResourceURI("0ne00ABCDEF", "sim-001"), deviceKey, RegistrationPolicy, expiry)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(token, "SharedAccessSignature "))

	values, err := url.ParseQuery(strings.TrimPrefix(token, "SharedAccessSignature "))
	require.NoError(t, err)
	assert.Equal(t, "0ne00ABCDEF/registrations/sim-001", values.Get("sr"))
	assert.Equal(t, "1700000000", values.Get("se"))
	assert.Equal(t, "registration", values.Get("skn"))

	raw, _ := base64.StdEncoding.DecodeString(deviceKey)
	mac := hmac.New(sha256.New, raw)
	mac.Write([]byte(url.QueryEscape("0ne00ABCDEF/registrations/sim-001") + "\n1700000000"))
	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), values.Get("sig"))

	// the resource is url-encoded inside the token
	assert.Contains(t, token, "sr=0ne00ABCDEF%2Fregistrations%2Fsim-001&")
}

func TestSASTokenWithoutPolicy(t *testing.T) {
	deviceKey, err := DeriveKey(groupKey, "sim-001")
	require.NoError(t, err)

	token, err := SASToken(HubResourceURI("hub.azure-devices.net", "sim-001"), deviceKey, "", time.Now().Add(DefaultTokenLifetime))
	require.NoError(t, err)
	assert.NotContains(t, token, "skn=")
	assert.Contains(t, token, "sr=hub.azure-devices.net%2Fdevices%2Fsim-001&")

	_, err = SASToken("", deviceKey, "", time.Now())
	assert.ErrorIs(t, err, iot.ErrCredential)

	_, err = SASToken("hub/devices/x", "%%%", "", time.Now())
	assert.ErrorIs(t, err, iot.ErrCredential)
}
