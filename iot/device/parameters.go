package device

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/joeshaw/envdecode"

	"github.com/relabs-tech/devsim/iot"
	"github.com/relabs-tech/devsim/iot/credentials"
)

// DefaultProvisioningEndpoint is the global Azure Device Provisioning Service host
const DefaultProvisioningEndpoint = "global.azure-devices-provisioning.net"

// environment is what is read from the process environment. The DPS_ variables are the names
// used by earlier versions of the simulator.
type environment struct {
	DeviceID             string `env:"DEVICE_ID" description:"registration id of the device"`
	ProvisioningEndpoint string `env:"PROVISIONING_ENDPOINT" description:"host of the provisioning service"`
	IDScope              string `env:"ID_SCOPE" description:"id scope of the provisioning service"`
	GroupPrimaryKey      string `env:"GROUP_PRIMARY_KEY" description:"base64 primary key of the group enrollment"`

	LegacyDeviceID   string `env:"DPS_DEVICE_ID"`
	LegacyEndpoint   string `env:"DPS_ENDPOINT"`
	LegacyIDScope    string `env:"DPS_ID_SCOPE"`
	LegacyPrimaryKey string `env:"DPS_PRIMARY_KEY"`
}

// Parameters identify a simulated device and the provisioning service it registers with
type Parameters struct {
	DeviceID             string
	ProvisioningEndpoint string
	IDScope              string
	GroupPrimaryKey      string

	deriveOnce sync.Once
	derivedKey string
	deriveErr  error
}

// LoadParameters reads the parameters from the environment and validates them
func LoadParameters() (*Parameters, error) {
	env := environment{}
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("%w: %v", iot.ErrConfig, err)
	}
	p := &Parameters{
		DeviceID:             firstOf(env.DeviceID, env.LegacyDeviceID),
		ProvisioningEndpoint: firstOf(env.ProvisioningEndpoint, env.LegacyEndpoint, DefaultProvisioningEndpoint),
		IDScope:              firstOf(env.IDScope, env.LegacyIDScope),
		GroupPrimaryKey:      firstOf(env.GroupPrimaryKey, env.LegacyPrimaryKey),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks that all mandatory parameters are present and well formed
func (p *Parameters) Validate() error {
	var errList []string
	if p.DeviceID == "" {
		errList = append(errList, "DEVICE_ID is missing")
	}
	if p.ProvisioningEndpoint == "" {
		errList = append(errList, "PROVISIONING_ENDPOINT is missing")
	}
	if p.IDScope == "" {
		errList = append(errList, "ID_SCOPE is missing")
	}
	if p.GroupPrimaryKey == "" {
		errList = append(errList, "GROUP_PRIMARY_KEY is missing")
	} else if _, err := base64.StdEncoding.DecodeString(p.GroupPrimaryKey); err != nil {
		errList = append(errList, "GROUP_PRIMARY_KEY is not valid base64")
	}
	if len(errList) > 0 {
		return fmt.Errorf("%w: %s", iot.ErrConfig, strings.Join(errList, ", "))
	}
	return nil
}

// DeriveKey returns the device key derived from the group key. The key is computed on the
// first call, later calls return the same result.
func (p *Parameters) DeriveKey() (string, error) {
	p.deriveOnce.Do(func() {
		p.derivedKey, p.deriveErr = credentials.DeriveKey(p.GroupPrimaryKey, p.DeviceID)
	})
	return p.derivedKey, p.deriveErr
}
