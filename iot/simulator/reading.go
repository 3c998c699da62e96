package simulator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/devsim/core/schema"
	"github.com/relabs-tech/devsim/iot"
)

// content properties of every telemetry message
const (
	ContentType     = "application/json"
	ContentEncoding = "utf-8"
)

// Source is a source of uniformly distributed numbers in [0, 1). *rand.Rand is a Source.
type Source interface {
	Float64() float64
}

// Reading is one telemetry sample
type Reading struct {
	Temperature float64
	Humidity    float64
	Time        time.Time
}

// Tick derives a reading from one snapshot of the session's baseline
func Tick(session *Session, rng Source) Reading {
	baseline := session.Snapshot()
	temperatureNoise := rng.Float64()*2 - 1
	humidityNoise := rng.Float64()*3 - 1
	return Reading{
		Temperature: round2(baseline.Temperature + temperatureNoise),
		Humidity:    round2(baseline.Humidity + humidityNoise),
		Time:        time.Now().UTC(),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Payload renders the reading as the JSON body of a telemetry message,
// e.g. {"temperature": 21.5, "humidity": 59.37}
func (r Reading) Payload() ([]byte, error) {
	temperature, err := json.Marshal(r.Temperature)
	if err != nil {
		return nil, err
	}
	humidity, err := json.Marshal(r.Humidity)
	if err != nil {
		return nil, err
	}
	return []byte(`{"temperature": ` + string(temperature) + `, "humidity": ` + string(humidity) + `}`), nil
}

// Publish sends the reading through publisher. Errors wrap iot.ErrPublish.
func Publish(ctx context.Context, publisher iot.Publisher, r Reading) error {
	payload, err := r.Payload()
	if err != nil {
		return fmt.Errorf("%w: cannot render reading: %v", iot.ErrPublish, err)
	}
	validator, err := schema.Telemetry()
	if err != nil {
		return fmt.Errorf("%w: %v", iot.ErrPublish, err)
	}
	if err = validator.Validate(payload, schema.TelemetrySchemaID); err != nil {
		return fmt.Errorf("%w: %v", iot.ErrPublish, err)
	}
	if err = publisher.Send(ctx, payload, ContentType, ContentEncoding); err != nil {
		if errors.Is(err, iot.ErrPublish) {
			return err
		}
		return fmt.Errorf("%w: %v", iot.ErrPublish, err)
	}
	return nil
}
