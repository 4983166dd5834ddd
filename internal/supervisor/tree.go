// Package supervisor runs the long-lived services of the bot under a suture
// tree so a crashed service is restarted with backoff.
package supervisor

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
)

type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree has two layers: core services (gateway, snapshots) and the HTTP surface.
type Tree struct {
	root   *suture.Supervisor
	core   *suture.Supervisor
	api    *suture.Supervisor
	logger *zap.Logger
}

func NewTree(logger *zap.Logger, config TreeConfig) *Tree {
	defaults := DefaultTreeConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = defaults.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = defaults.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}

	spec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	rootSpec := spec
	rootSpec.EventHook = EventHook(logger)

	root := suture.New("aegis", rootSpec)
	core := suture.New("core", spec)
	api := suture.New("api", spec)
	root.Add(core)
	root.Add(api)

	return &Tree{root: root, core: core, api: api, logger: logger}
}

func (t *Tree) AddCoreService(svc suture.Service) suture.ServiceToken {
	return t.core.Add(svc)
}

func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// EventHook logs supervisor events through zap.
func EventHook(logger *zap.Logger) suture.EventHook {
	return func(e suture.Event) {
		fields := []zap.Field{zap.String("event_type", eventName(e.Type())), zap.Any("event", e.Map())}
		switch e.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeStopTimeout:
			logger.Error(e.String(), fields...)
		case suture.EventTypeServiceTerminate, suture.EventTypeBackoff:
			logger.Warn(e.String(), fields...)
		default:
			logger.Info(e.String(), fields...)
		}
	}
}

func eventName(t suture.EventType) string {
	switch t {
	case suture.EventTypeStopTimeout:
		return "stop_timeout"
	case suture.EventTypeServicePanic:
		return "service_panic"
	case suture.EventTypeServiceTerminate:
		return "service_terminate"
	case suture.EventTypeBackoff:
		return "backoff"
	case suture.EventTypeResume:
		return "resume"
	default:
		return "unknown"
	}
}
