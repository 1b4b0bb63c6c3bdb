/*
Execution Environment

The Environment holds the runtime state that serialized jobs cannot
carry: the configured backend, the amboy queue bulk jobs run on and
the script registry used by backends that execute update scripts
in-process. GetEnvironment returns the process-wide instance; tests
can inject their own through the job constructors.
*/
package docstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/mongodb/amboy"
	"github.com/mongodb/docstore/db"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

var globalEnv *envState

func init() {
	globalEnv = newEnvState()
}

// Environment exposes the configured backend and queue to jobs.
//
// Implementations should be thread-safe, and are not required to be
// reconfigurable after their initial configuration.
type Environment interface {
	// Setup installs the backend and, optionally, a started queue.
	Setup(amboy.Queue, db.Backend) error
	GetBackend() (db.Backend, error)
	GetQueue() (amboy.Queue, error)
	Scripts() *db.ScriptRegistry
	Close(context.Context) error
}

// GetEnvironment returns the global environment object. Because this
// produces a pointer to the global object, make sure that you have a
// way to replace it with a mock as needed for testing.
func GetEnvironment() Environment { return globalEnv }

// NewEnvironment returns an unconfigured environment independent of
// the global one.
func NewEnvironment() Environment { return newEnvState() }

type envState struct {
	queue   amboy.Queue
	backend db.Backend
	scripts *db.ScriptRegistry
	options []Option
	isSetup bool
	closed  bool
	mu      sync.RWMutex
}

func newEnvState() *envState {
	return &envState{scripts: db.NewScriptRegistry()}
}

func (e *envState) Setup(q amboy.Queue, backend db.Backend) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isSetup {
		return errors.New("reconfiguring the environment is not supported")
	}
	if backend == nil {
		return errors.New("configuring the environment without a backend")
	}
	if q != nil && !q.Info().Started {
		return errors.New("configuring the environment with a non-running queue")
	}

	e.queue = q
	e.backend = backend
	e.isSetup = true

	return nil
}

func (e *envState) GetBackend() (db.Backend, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.backend == nil {
		return nil, errors.New("no backend defined")
	}
	if e.closed {
		return nil, errors.New("environment is closed")
	}

	return e.backend, nil
}

func (e *envState) GetQueue() (amboy.Queue, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.queue == nil {
		return nil, errors.New("no queue defined")
	}

	return e.queue, nil
}

func (e *envState) Scripts() *db.ScriptRegistry { return e.scripts }

// configuredEnvironment is implemented by environments that carry the
// client options of the configuration they were set up from.
type configuredEnvironment interface {
	clientOptions() []Option
	setClientOptions(...Option)
}

func (e *envState) clientOptions() []Option {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Option(nil), e.options...)
}

func (e *envState) setClientOptions(opts ...Option) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.options = opts
}

// envOptions resolves the client options jobs running in env use.
// Environments that were not set up from a configuration get the
// client defaults.
func envOptions(env Environment) options {
	if ce, ok := env.(configuredEnvironment); ok {
		return newOptions(ce.clientOptions()...)
	}
	return newOptions()
}

func (e *envState) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.backend == nil {
		return nil
	}
	e.closed = true

	return errors.Wrap(e.backend.Close(ctx), "closing backend")
}

// SetupFromConfig builds the configured backend and installs it. Bulk
// jobs running in env use the configured batch size, scroll keep-alive
// and acknowledgement mode, sharing one AckTracker.
func SetupFromConfig(ctx context.Context, env Environment, q amboy.Queue, conf *Config) error {
	backend, err := conf.NewBackend(ctx, env.Scripts())
	if err != nil {
		return errors.Wrap(err, "building backend")
	}
	if err = env.Setup(q, backend); err != nil {
		grip.Warning(message.WrapError(backend.Close(ctx), "closing unused backend"))
		return errors.Wrap(err, "setting up environment")
	}

	if ce, ok := env.(configuredEnvironment); ok {
		opts := append(conf.ClientOptions(), WithAckTracker(NewAckTracker(conf.StrictAcks)))
		ce.setClientOptions(opts...)
	} else {
		grip.Debug(message.Fields{
			"message": "environment does not carry client options, bulk jobs use defaults",
			"env":     fmt.Sprintf("%T", env),
		})
	}
	return nil
}
