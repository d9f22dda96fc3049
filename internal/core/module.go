package core

import "strings"

// ModuleID identifies a module, optionally namespaced with dots
// (e.g. "gateway", "approver.telegram", "audit.sqlite").
type ModuleID string

// Namespace returns the portion of the ID before the last dot,
// or "" for un-namespaced IDs.
func (id ModuleID) Namespace() string {
	s := string(id)
	i := strings.LastIndex(s, ".")
	if i < 0 {
		return ""
	}
	return s[:i]
}

// Name returns the portion of the ID after the last dot.
func (id ModuleID) Name() string {
	s := string(id)
	i := strings.LastIndex(s, ".")
	if i < 0 {
		return s
	}
	return s[i+1:]
}

// Module is the interface all warden modules implement. Modules register
// themselves in init() via RegisterModule and participate in the lifecycle
// through the optional interfaces in lifecycle.go.
type Module interface {
	// ModuleInfo returns the module's identity and constructor.
	ModuleInfo() ModuleInfo
}

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	// ID is the unique module identifier used in configuration.
	ID ModuleID

	// New returns a fresh, unconfigured instance of the module.
	New func() Module
}
