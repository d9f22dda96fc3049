// Package console implements a WebSocket approval console. Operators
// connect, see pending approval requests and live mediation events, and
// resolve calls from their terminal or a web UI. The console shares the
// chat channel with other adapters; the broker takes the first resolution
// regardless of surface.
package console

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/flemzord/warden/internal/approval"
	"github.com/flemzord/warden/internal/core"
	"github.com/flemzord/warden/internal/mediation"
	"gopkg.in/yaml.v3"
)

const writeTimeout = 5 * time.Second

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ approval.Requester = (*Module)(nil)
	_ core.Configurable  = (*Module)(nil)
	_ core.Provisioner   = (*Module)(nil)
	_ core.Validator     = (*Module)(nil)
	_ core.Starter       = (*Module)(nil)
	_ core.Stopper       = (*Module)(nil)
)

// Config holds the console approver configuration.
type Config struct {
	// Tokens lists accepted connection tokens. At least one is required;
	// the console is a resolution surface and never runs open.
	Tokens []string `yaml:"tokens"`
}

// Module is the approver.console module.
type Module struct {
	config Config
	logger *slog.Logger
	appCtx *core.AppContext
	broker *approval.Broker

	mu      sync.Mutex
	clients map[*client]struct{}

	unsubscribe func()
	wg          sync.WaitGroup
}

// client is one connected console session.
type client struct {
	conn      *websocket.Conn
	responder string

	mu sync.Mutex // serializes writes
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "approver.console",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("console: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner. The module registers itself as a
// chat requester and publishes its WebSocket handler for the gateway to
// mount.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.appCtx = ctx
	m.logger = ctx.Logger
	m.clients = make(map[*client]struct{})

	svc, ok := ctx.Service("approval.broker")
	if !ok {
		return errors.New("console: approval.broker service not available")
	}
	broker, ok := svc.(*approval.Broker)
	if !ok {
		return fmt.Errorf("console: approval.broker has unexpected type %T", svc)
	}
	m.broker = broker
	broker.RegisterRequester(m)

	ctx.RegisterService("console.handler", http.Handler(http.HandlerFunc(m.handleWebSocket)))
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if len(m.config.Tokens) == 0 {
		return errors.New("console: at least one token is required")
	}
	return nil
}

// Start implements core.Starter. It begins mirroring mediation events to
// connected sessions.
func (m *Module) Start() error {
	svc, ok := m.appCtx.Service("mediation.events")
	if !ok {
		return nil
	}
	notifier, ok := svc.(*mediation.Notifier)
	if !ok {
		return nil
	}

	ch, cancel := notifier.Subscribe(64)
	m.unsubscribe = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for ev := range ch {
			m.broadcast(MsgEvent, ev.CallID, ev)
		}
	}()
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("console approver stopping")
	if m.unsubscribe != nil {
		m.unsubscribe()
	}

	m.mu.Lock()
	for c := range m.clients {
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}

// Channel implements approval.Requester.
func (m *Module) Channel() approval.Channel { return approval.ChannelChat }

// Request implements approval.Requester. The ask is fanned out to every
// connected session; with none connected it still succeeds, and the
// transaction times out unless another chat adapter collects a decision.
func (m *Module) Request(_ context.Context, req approval.Request) error {
	m.broadcast(MsgApprovalRequest, req.CallID, req)
	return nil
}

// handleWebSocket runs one console session.
func (m *Module) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		m.logger.Error("console websocket accept failed", "error", err)
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusInternalError, "unexpected close")
	}()

	responder := r.URL.Query().Get("name")
	if responder == "" {
		responder = "console"
	}
	c := &client{conn: conn, responder: "console:" + responder}

	m.mu.Lock()
	m.clients[c] = struct{}{}
	m.mu.Unlock()
	m.logger.Info("console session connected", "responder", c.responder)

	// Late joiners see what is already waiting.
	m.send(c, MsgPending, "", m.broker.Pending())

	m.readLoop(r.Context(), c)

	m.mu.Lock()
	delete(m.clients, c)
	m.mu.Unlock()
	m.logger.Info("console session disconnected", "responder", c.responder)
}

func (m *Module) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			m.send(c, MsgError, "", ErrorPayload{Message: "invalid message format"})
			continue
		}
		if env.Type != MsgResolve {
			m.send(c, MsgError, env.ID, ErrorPayload{Message: fmt.Sprintf("unsupported message type %q", env.Type)})
			continue
		}

		var res ResolvePayload
		if err := json.Unmarshal(env.Payload, &res); err != nil {
			m.send(c, MsgError, env.ID, ErrorPayload{Message: "invalid resolve payload"})
			continue
		}
		if res.CallID == "" {
			m.send(c, MsgError, env.ID, ErrorPayload{Message: "call_id is required"})
			continue
		}

		err = m.broker.Resolve(res.CallID, approval.Resolution{
			Approved:    res.Approved,
			Reason:      res.Reason,
			ResponderID: c.responder,
		})
		switch {
		case errors.Is(err, approval.ErrUnknownTransaction):
			m.send(c, MsgError, env.ID, ErrorPayload{Message: "unknown call"})
		case errors.Is(err, approval.ErrAlreadyResolved):
			m.send(c, MsgError, env.ID, ErrorPayload{Message: "already resolved"})
		case err != nil:
			m.send(c, MsgError, env.ID, ErrorPayload{Message: "resolution failed"})
		default:
			m.send(c, MsgAck, env.ID, AckPayload{CallID: res.CallID})
		}
	}
}

// broadcast sends one envelope to every connected session.
func (m *Module) broadcast(t MessageType, id string, payload any) {
	m.mu.Lock()
	clients := make([]*client, 0, len(m.clients))
	for c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	for _, c := range clients {
		m.send(c, t, id, payload)
	}
}

// send writes one envelope to a session. A failed write is logged; the read
// loop notices the dead connection and cleans up.
func (m *Module) send(c *client, t MessageType, id string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error("console marshal failed", "type", t, "error", err)
		return
	}
	data, err := json.Marshal(Envelope{Type: t, ID: id, Payload: raw, Timestamp: time.Now().UTC()})
	if err != nil {
		m.logger.Error("console marshal failed", "type", t, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		m.logger.Debug("console write failed", "responder", c.responder, "error", err)
	}
}

// authorized checks the connection token in constant time.
func (m *Module) authorized(r *http.Request) bool {
	token := r.URL.Query().Get("token")
	if token == "" {
		return false
	}
	for _, t := range m.config.Tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(t)) == 1 {
			return true
		}
	}
	return false
}
