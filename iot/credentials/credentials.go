package credentials

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/relabs-tech/devsim/iot"
)

// RegistrationPolicy is the policy name of SAS tokens for the provisioning service
const RegistrationPolicy = "registration"

// DefaultTokenLifetime is the validity of SAS tokens created by the device
const DefaultTokenLifetime = time.Hour

// DeriveKey computes the device key from the base64 group key and the device ID.
// It is deterministic and has no side effects.
func DeriveKey(groupKey, deviceID string) (string, error) {
	key, err := decodeKey(groupKey)
	if err != nil {
		return "", fmt.Errorf("%w: group key is not valid base64: %v", iot.ErrCredential, err)
	}
	return base64.StdEncoding.EncodeToString(sign(key, deviceID)), nil
}

// SASToken creates a shared access signature for resourceURI, signed with the base64 device key.
// policy is optional.
func SASToken(resourceURI, deviceKey, policy string, expiry time.Time) (string, error) {
	key, err := decodeKey(deviceKey)
	if err != nil {
		return "", fmt.Errorf("%w: device key is not valid base64: %v", iot.ErrCredential, err)
	}
	if resourceURI == "" {
		return "", fmt.Errorf("%w: empty resource uri", iot.ErrCredential)
	}

	sr := url.QueryEscape(resourceURI)
	se := strconv.FormatInt(expiry.Unix(), 10)
	sig := base64.StdEncoding.EncodeToString(sign(key, sr+"\n"+se))

	token := "SharedAccessSignature sr=" + sr + "&sig=" + url.QueryEscape(sig) + "&se=" + se
	if policy != "" {
		token += "&skn=" + url.QueryEscape(policy)
	}
	return token, nil
}

// ProvisioningResourceURI returns the SAS resource of a device registration
func ProvisioningResourceURI(idScope, deviceID string) string {
	return idScope + "/registrations/" + deviceID
}

// HubResourceURI returns the SAS resource of a device on an IoT hub
func HubResourceURI(hubHost, deviceID string) string {
	return hubHost + "/devices/" + deviceID
}

func decodeKey(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("empty key")
	}
	return base64.StdEncoding.DecodeString(key)
}

func sign(key []byte, message string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return mac.Sum(nil)
}
