package mediation

import (
	"context"

	"github.com/flemzord/warden/internal/core"
)

// Interface guards.
var (
	_ core.Module  = (*Module)(nil)
	_ core.Stopper = (*Module)(nil)
)

// Module adapts a wired Mediator to the module lifecycle. It is assembled
// by the application after the configured modules have provisioned their
// services, so it is appended rather than registered.
type Module struct {
	mediator *Mediator
}

// NewModule wraps an assembled mediator.
func NewModule(m *Mediator) *Module {
	return &Module{mediator: m}
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "mediator",
		New: func() core.Module { return &Module{} },
	}
}

// Mediator returns the wrapped mediator.
func (m *Module) Mediator() *Mediator { return m.mediator }

// Stop implements core.Stopper. In-flight calls are cancelled and audited
// before shutdown proceeds.
func (m *Module) Stop(ctx context.Context) error {
	if m.mediator == nil {
		return nil
	}
	return m.mediator.Shutdown(ctx)
}
