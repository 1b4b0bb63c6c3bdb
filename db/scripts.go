package db

import (
	"sync"

	"github.com/mongodb/docstore/model"
	"github.com/pkg/errors"
)

// ScriptOp is what a script asks the backend to do with the document
// after it ran, mirroring ctx.op.
type ScriptOp string

const (
	ScriptOpIndex  ScriptOp = "index"
	ScriptOpNone   ScriptOp = "none"
	ScriptOpDelete ScriptOp = "delete"
)

// ScriptContext is the view a script runs against. Source is a private
// copy of the stored document; Params must be treated as read-only.
type ScriptContext struct {
	Source map[string]any
	Params map[string]any
	Op     ScriptOp
}

// ScriptFunc is a script body compiled to Go for backends that cannot
// run the script language themselves.
type ScriptFunc func(*ScriptContext) error

// ScriptRegistry maps script bodies to Go implementations. The zero
// value is not usable; use NewScriptRegistry.
type ScriptRegistry struct {
	mu      sync.RWMutex
	scripts map[string]ScriptFunc
}

func NewScriptRegistry() *ScriptRegistry {
	return &ScriptRegistry{scripts: map[string]ScriptFunc{}}
}

// Register binds a script body. Registering the same body twice is an
// error.
func (r *ScriptRegistry) Register(source string, fn ScriptFunc) error {
	if source == "" {
		return errors.New("cannot register a script with an empty body")
	}
	if fn == nil {
		return errors.Errorf("script '%s' has no implementation", source)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.scripts[source]; ok {
		return errors.Errorf("script '%s' is already registered", source)
	}
	r.scripts[source] = fn
	return nil
}

func (r *ScriptRegistry) Get(source string) (ScriptFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.scripts[source]
	return fn, ok
}

// Execute runs the script against a copy of source and returns the
// mutated copy and the requested op. The stored source is never
// touched, so a failing script leaves no partial writes behind.
func (r *ScriptRegistry) Execute(index, id string, script model.Script, source map[string]any) (map[string]any, ScriptOp, error) {
	fn, ok := r.Get(script.Source)
	if !ok {
		return nil, "", Errorf(KindScriptFailure, "script", index, id, "unknown %s script '%s'", script.Language(), script.Source)
	}

	sctx := &ScriptContext{
		Source: model.CloneSource(source),
		Params: model.CloneSource(script.Params),
		Op:     ScriptOpIndex,
	}
	if sctx.Source == nil {
		sctx.Source = map[string]any{}
	}

	if err := fn(sctx); err != nil {
		return nil, "", NewError(KindScriptFailure, "script", index, id, err)
	}

	switch sctx.Op {
	case ScriptOpIndex, ScriptOpNone, ScriptOpDelete:
	case "":
		sctx.Op = ScriptOpIndex
	default:
		return nil, "", Errorf(KindScriptFailure, "script", index, id, "invalid op '%s'", sctx.Op)
	}

	return sctx.Source, sctx.Op, nil
}
