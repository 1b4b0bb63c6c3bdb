package mock

import (
	"context"

	"github.com/mongodb/amboy"
	"github.com/mongodb/docstore/db"
)

// Environment is a configurable stand-in for the execution
// environment used by bulk jobs. The error fields make the matching
// accessor fail.
type Environment struct {
	Queue    amboy.Queue
	Backend  db.Backend
	Cluster  *Cluster
	Registry *db.ScriptRegistry

	IsSetup      bool
	Closed       bool
	SetupError   error
	BackendError error
	QueueError   error
}

// NewEnvironment returns an environment backed by a fresh Cluster
// that shares the environment's script registry.
func NewEnvironment() *Environment {
	cluster := NewCluster()
	return &Environment{
		Backend:  cluster,
		Cluster:  cluster,
		Registry: cluster.Scripts,
	}
}

func (e *Environment) Setup(q amboy.Queue, b db.Backend) error {
	e.Queue = q
	if b != nil {
		e.Backend = b
	}
	e.IsSetup = true

	return e.SetupError
}

func (e *Environment) GetBackend() (db.Backend, error) {
	if e.BackendError != nil {
		return nil, e.BackendError
	}
	return e.Backend, nil
}

func (e *Environment) GetQueue() (amboy.Queue, error) {
	if e.QueueError != nil {
		return nil, e.QueueError
	}
	return e.Queue, nil
}

func (e *Environment) Scripts() *db.ScriptRegistry { return e.Registry }

func (e *Environment) Close(ctx context.Context) error {
	e.Closed = true
	if e.Backend == nil {
		return nil
	}
	return e.Backend.Close(ctx)
}
