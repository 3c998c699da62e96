package simulator

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/devsim/core/logger"
	"github.com/relabs-tech/devsim/iot"
)

// DefaultPublishTimeout bounds a single in-flight publish
const DefaultPublishTimeout = 30 * time.Second

// State is the lifecycle state of an Engine
type State int32

// Engine states, in order
const (
	StateIdle State = iota
	StateRunning
	// StateDraining means the engine was cancelled while a publish was in flight
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Builder is a builder helper for the Engine
type Builder struct {
	// Session is the shared simulation state. Mandatory.
	Session *Session
	// Publisher sends the telemetry. Mandatory.
	Publisher iot.Publisher
	// Settings provide the interval. If zero, DefaultSettings are used.
	Settings Settings
	// Rand is the jitter source. Default is a time seeded *rand.Rand.
	Rand Source
	// Console receives one line per published reading. Optional.
	Console io.Writer
	// PublishTimeout bounds a single publish. Default is DefaultPublishTimeout.
	PublishTimeout time.Duration
}

// Engine is the periodic telemetry publisher
type Engine struct {
	session        *Session
	publisher      iot.Publisher
	interval       time.Duration
	rng            Source
	console        io.Writer
	publishTimeout time.Duration

	state     atomic.Int32
	published atomic.Int64
	failed    atomic.Int64
	runOnce   sync.Once
}

// Statistics is a point-in-time view of an engine
type Statistics struct {
	State     string `json:"state"`
	Published int64  `json:"published"`
	Failed    int64  `json:"failed"`
}

// NewEngine creates a new engine
func NewEngine(bb *Builder) *Engine {
	if bb.Session == nil {
		panic("session is missing")
	}
	if bb.Publisher == nil {
		panic("publisher is missing")
	}
	interval := bb.Settings.Interval
	if interval <= 0 {
		interval = DefaultSettings().Interval
	}
	rng := bb.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	console := bb.Console
	if console == nil {
		console = io.Discard
	}
	publishTimeout := bb.PublishTimeout
	if publishTimeout <= 0 {
		publishTimeout = DefaultPublishTimeout
	}
	return &Engine{
		session:        bb.Session,
		publisher:      bb.Publisher,
		interval:       interval,
		rng:            rng,
		console:        console,
		publishTimeout: publishTimeout,
	}
}

// Run publishes one reading per interval until ctx is cancelled. Cancellation is checked
// before every tick and during the wait, a publish in flight is completed. Run can only be
// called once, later calls return immediately.
func (e *Engine) Run(ctx context.Context) {
	e.runOnce.Do(func() {
		e.run(ctx)
	})
}

func (e *Engine) run(ctx context.Context) {
	rlog := logger.FromContext(ctx)
	e.state.Store(int32(StateRunning))
	rlog.Infoln("sending telemetry")

	timer := time.NewTimer(e.interval)
	timer.Stop()
	defer timer.Stop()

	for ctx.Err() == nil {
		e.tick(ctx)

		timer.Reset(e.interval)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}

	e.state.Store(int32(StateStopped))
	rlog.Infoln("telemetry stopped")
}

func (e *Engine) tick(ctx context.Context) {
	reading := Tick(e.session, e.rng)

	// an in-flight publish is not interrupted by cancellation, only bounded
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.publishTimeout)
	defer cancel()
	stopDraining := context.AfterFunc(ctx, func() {
		e.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
	})
	defer stopDraining()

	fmt.Fprintf(e.console, "Message: temperature: %v  humidity: %v\n", reading.Temperature, reading.Humidity)
	if err := Publish(publishCtx, e.publisher, reading); err != nil {
		e.failed.Add(1)
		logger.FromContext(ctx).WithError(err).Warnln("cannot publish telemetry")
		return
	}
	e.published.Add(1)
}

// State returns the lifecycle state
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Statistics returns the counters of the engine
func (e *Engine) Statistics() Statistics {
	return Statistics{
		State:     e.State().String(),
		Published: e.published.Load(),
		Failed:    e.failed.Load(),
	}
}
