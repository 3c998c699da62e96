package simulator

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/relabs-tech/devsim/iot"
)

// Settings are the tunables of a simulation
type Settings struct {
	BaseTemperature      float64       `env:"SIM_BASE_TEMPERATURE,default=20.0,strict" description:"initial temperature baseline"`
	BaseHumidity         float64       `env:"SIM_BASE_HUMIDITY,default=60.0,strict" description:"humidity baseline"`
	TemperatureIncrement float64       `env:"SIM_TEMPERATURE_INCREMENT,default=2.0,strict" description:"step of the + and - controls"`
	Interval             time.Duration `env:"SIM_INTERVAL,default=2s,strict" description:"delay between two telemetry messages"`
}

// DefaultSettings returns the settings used when nothing is configured
func DefaultSettings() Settings {
	return Settings{
		BaseTemperature:      20.0,
		BaseHumidity:         60.0,
		TemperatureIncrement: 2.0,
		Interval:             2 * time.Second,
	}
}

// LoadSettings reads the settings from the environment
func LoadSettings() (Settings, error) {
	settings := DefaultSettings()
	if err := envdecode.Decode(&settings); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return settings, fmt.Errorf("%w: %v", iot.ErrConfig, err)
	}
	if err := settings.Validate(); err != nil {
		return settings, err
	}
	return settings, nil
}

// Validate checks that the settings can drive a simulation
func (s Settings) Validate() error {
	if s.Interval <= 0 {
		return fmt.Errorf("%w: SIM_INTERVAL must be positive, got %s", iot.ErrConfig, s.Interval)
	}
	if s.TemperatureIncrement <= 0 {
		return fmt.Errorf("%w: SIM_TEMPERATURE_INCREMENT must be positive, got %v", iot.ErrConfig, s.TemperatureIncrement)
	}
	return nil
}
