// Package jsonl implements an append-only JSONL audit sink. Each terminal
// mediation record and each protocol anomaly becomes one JSON line in a
// single file, suitable for tailing and for shipping into external log
// pipelines.
package jsonl

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/flemzord/warden/internal/audit"
	"github.com/flemzord/warden/internal/core"
	"gopkg.in/yaml.v3"
)

const defaultFile = "audit.jsonl"

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ audit.Sink        = (*Sink)(nil)
	_ audit.AnomalySink = (*Sink)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Config holds the JSONL sink configuration.
type Config struct {
	// Path is the output file. Defaults to {DataDir}/audit.jsonl.
	Path string `yaml:"path"`

	// Fsync forces a sync after every line. Slower, but a crash loses
	// nothing. Defaults to false.
	Fsync bool `yaml:"fsync"`
}

// Module appends audit output to a JSONL file.
type Module struct {
	config Config
	sink   *Sink
	logger *slog.Logger
}

// Sink serializes writes to the underlying file.
type Sink struct {
	mu    sync.Mutex
	f     *os.File
	fsync bool
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "audit.jsonl",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("audit jsonl: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger

	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultFile)
	}
	if dir := filepath.Dir(m.config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("audit jsonl: create directory %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(m.config.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("audit jsonl: open %s: %w", m.config.Path, err)
	}
	m.sink = &Sink{f: f, fsync: m.config.Fsync}

	svc, ok := ctx.Service("audit.dispatcher")
	if !ok {
		_ = f.Close()
		return fmt.Errorf("audit jsonl: audit.dispatcher service not available")
	}
	dispatcher, ok := svc.(*audit.Dispatcher)
	if !ok {
		_ = f.Close()
		return fmt.Errorf("audit jsonl: audit.dispatcher has unexpected type %T", svc)
	}
	dispatcher.AddSink(m.sink)

	m.logger.Info("jsonl audit sink provisioned", "path", m.config.Path, "fsync", m.config.Fsync)
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.sink != nil {
		return m.sink.close()
	}
	return nil
}

// recordLine and anomalyLine tag each line so consumers can tell the two
// entry kinds apart without sniffing fields.
type recordLine struct {
	Type string `json:"type"`
	audit.Record
}

type anomalyLine struct {
	Type string `json:"type"`
	audit.Anomaly
}

// Name implements audit.Sink.
func (s *Sink) Name() string { return "jsonl" }

// Write implements audit.Sink.
func (s *Sink) Write(_ context.Context, rec audit.Record) error {
	return s.append(recordLine{Type: "record", Record: rec})
}

// WriteAnomaly implements audit.AnomalySink.
func (s *Sink) WriteAnomaly(_ context.Context, a audit.Anomaly) error {
	return s.append(anomalyLine{Type: "anomaly", Anomaly: a})
}

func (s *Sink) append(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("audit jsonl: marshal: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("audit jsonl: append: %w", err)
	}
	if s.fsync {
		if err := s.f.Sync(); err != nil {
			return fmt.Errorf("audit jsonl: sync: %w", err)
		}
	}
	return nil
}

func (s *Sink) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
