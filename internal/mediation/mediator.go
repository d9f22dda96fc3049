package mediation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/flemzord/warden/internal/approval"
	"github.com/flemzord/warden/internal/audit"
	"github.com/flemzord/warden/internal/gate"
	"github.com/flemzord/warden/internal/policy"
	"github.com/flemzord/warden/internal/runner"
)

// tracer emits spans through the globally installed provider; without one
// every span is a no-op.
var tracer = otel.Tracer("github.com/flemzord/warden/internal/mediation")

// Limiter throttles mediations per tool. A non-nil error refuses the call.
type Limiter interface {
	AllowMediation(tool string) error
}

// MediatorConfig wires the mediator's collaborators.
type MediatorConfig struct {
	// Policies, Gate, Broker, and Audit are required.
	Policies *policy.Store
	Gate     *gate.Gate
	Broker   *approval.Broker
	Audit    *audit.Dispatcher

	// Executor, if non-nil, runs approved calls. Without one the mediator
	// only returns verdicts.
	Executor runner.Executor

	// Limiter, if non-nil, throttles calls per tool before resolution. A
	// refused call is denied with reason ratelimit.
	Limiter Limiter

	// Events receives lifecycle notifications. Created when nil.
	Events *Notifier

	// OnDecision, if non-nil, is called once per terminal decision. Used
	// for metrics.
	OnDecision func(Decision)

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Now overrides time.Now for testing.
	Now func() time.Time
}

// Mediator drives every tool call through resolution, the content safety
// gate, and the approval branches, and guarantees exactly one terminal
// decision and one audit record per call. Each call runs in the goroutine
// that submitted it; calls never block each other.
type Mediator struct {
	policies   *policy.Store
	gate       *gate.Gate
	broker     *approval.Broker
	audit      *audit.Dispatcher
	executor   runner.Executor
	limiter    Limiter
	events     *Notifier
	onDecision func(Decision)
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	active map[string]*callState
	closed bool
	wg     sync.WaitGroup
}

// callState is the mutable mediation record for one in-flight call. All
// writes happen under Mediator.mu so snapshots observe consistent values.
type callState struct {
	req        ToolCallRequest
	state      State
	strategy   policy.Strategy
	source     policy.Source
	gateResult gate.Result
	channel    approval.Channel
	deadline   time.Time
	startedAt  time.Time
	cancel     context.CancelFunc
}

// NewMediator validates the wiring and returns a ready mediator.
func NewMediator(cfg MediatorConfig) (*Mediator, error) {
	var missing []error
	if cfg.Policies == nil {
		missing = append(missing, errors.New("policy store is required"))
	}
	if cfg.Gate == nil {
		missing = append(missing, errors.New("gate is required"))
	}
	if cfg.Broker == nil {
		missing = append(missing, errors.New("approval broker is required"))
	}
	if cfg.Audit == nil {
		missing = append(missing, errors.New("audit dispatcher is required"))
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("mediation: %w", errors.Join(missing...))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	events := cfg.Events
	if events == nil {
		events = NewNotifier(logger)
	}

	return &Mediator{
		policies:   cfg.Policies,
		gate:       cfg.Gate,
		broker:     cfg.Broker,
		audit:      cfg.Audit,
		executor:   cfg.Executor,
		limiter:    cfg.Limiter,
		events:     events,
		onDecision: cfg.OnDecision,
		logger:     logger,
		now:        now,
		active:     make(map[string]*callState),
	}, nil
}

// Events returns the notifier observers subscribe to.
func (m *Mediator) Events() *Notifier { return m.events }

// Policies returns the policy store backing resolution.
func (m *Mediator) Policies() *policy.Store { return m.policies }

// Mediate runs one call through the full lifecycle and blocks until its
// terminal decision. The context bounds the whole mediation: cancelling it
// tears the call down with a denied, cancelled decision.
func (m *Mediator) Mediate(ctx context.Context, req ToolCallRequest) (Decision, error) {
	if err := req.normalize(m.now); err != nil {
		return Decision{}, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Decision{}, ErrShuttingDown
	}
	if _, dup := m.active[req.CallID]; dup {
		m.mu.Unlock()
		return Decision{}, fmt.Errorf("%w: %s", ErrDuplicateCall, req.CallID)
	}
	callCtx, cancel := context.WithCancel(ctx)
	st := &callState{
		req:       req,
		state:     StateCreated,
		startedAt: m.now(),
		cancel:    cancel,
	}
	m.active[req.CallID] = st
	m.wg.Add(1)
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		delete(m.active, req.CallID)
		m.mu.Unlock()
		m.wg.Done()
	}()

	m.logger.Info("mediation started",
		"call_id", req.CallID,
		"tool", req.ToolID,
		"context", string(req.ContextID),
		"model", req.ModelID)

	callCtx, span := tracer.Start(callCtx, "mediate")
	span.SetAttributes(
		attribute.String("call_id", req.CallID),
		attribute.String("tool", req.ToolID),
		attribute.String("context", string(req.ContextID)),
	)

	dec := m.run(callCtx, st)
	span.SetAttributes(
		attribute.String("verdict", string(dec.Verdict)),
		attribute.String("reason", string(dec.Reason)),
		attribute.String("strategy", string(st.strategy)),
	)
	span.End()

	dec.CallID = req.CallID
	dec.OpenedAt = st.startedAt
	dec.ResolvedAt = m.now()
	dec.Strategy = st.strategy
	dec.Source = st.source
	dec.GateResult = st.gateResult
	dec.Channel = st.channel

	m.mu.Lock()
	if dec.Verdict == VerdictDenied {
		st.state = StateDenied
	} else {
		st.state = StateCompleted
	}
	m.mu.Unlock()

	m.writeAudit(req, dec)
	m.events.Publish(Event{
		Type:      EventVerdict,
		CallID:    req.CallID,
		Tool:      req.ToolID,
		Channel:   string(dec.Channel),
		Verdict:   string(dec.Verdict),
		Reason:    string(dec.Reason),
		SessionID: req.SessionID,
	})
	if m.onDecision != nil {
		m.onDecision(dec)
	}

	m.logger.Info("mediation resolved",
		"call_id", req.CallID,
		"tool", req.ToolID,
		"verdict", string(dec.Verdict),
		"reason", string(dec.Reason),
		"elapsed", dec.ResolvedAt.Sub(dec.OpenedAt))
	return dec, nil
}

// Cancel tears down an in-flight mediation. The owning goroutine resolves
// it as denied with reason cancelled.
func (m *Mediator) Cancel(callID string) error {
	m.mu.Lock()
	st, ok := m.active[callID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCall, callID)
	}
	m.logger.Info("mediation cancel requested", "call_id", callID)
	st.cancel()
	return nil
}

// Active lists the in-flight mediations, oldest first.
func (m *Mediator) Active() []CallSnapshot {
	m.mu.Lock()
	out := make([]CallSnapshot, 0, len(m.active))
	for _, st := range m.active {
		out = append(out, CallSnapshot{
			CallID:    st.req.CallID,
			ToolID:    st.req.ToolID,
			ContextID: st.req.ContextID,
			ModelID:   st.req.ModelID,
			SessionID: st.req.SessionID,
			State:     st.state,
			Strategy:  st.strategy,
			Channel:   st.channel,
			Deadline:  st.deadline,
			StartedAt: st.startedAt,
		})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].CallID < out[j].CallID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Shutdown refuses new calls, cancels the in-flight ones, and waits for
// their terminal decisions. Every cancelled call still gets its audit
// record before Shutdown returns.
func (m *Mediator) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancels := make([]context.CancelFunc, 0, len(m.active))
	for _, st := range m.active {
		cancels = append(cancels, st.cancel)
	}
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mediation: shutdown interrupted with calls in flight: %w", ctx.Err())
	}
}

// run drives the state machine and returns the verdict-bearing part of the
// decision. It never writes audit records; Mediate does that exactly once.
func (m *Mediator) run(ctx context.Context, st *callState) Decision {
	req := st.req

	if m.limiter != nil {
		if err := m.limiter.AllowMediation(req.ToolID); err != nil {
			m.logger.Warn("mediation rate limited",
				"call_id", req.CallID,
				"tool", req.ToolID)
			return Decision{Verdict: VerdictDenied, Reason: ReasonRateLimited}
		}
	}

	snap := m.policies.Snapshot()
	res := snap.Resolve(req.ToolID, req.ContextID, req.ModelID)
	m.mu.Lock()
	st.strategy = res.Strategy
	st.source = res.Source
	m.mu.Unlock()

	if res.Bypassed() {
		m.logger.Warn("mediation disabled, allowing call without checks",
			"call_id", req.CallID,
			"tool", req.ToolID)
		return m.execute(ctx, st)
	}

	if ctx.Err() != nil {
		return Decision{Verdict: VerdictDenied, Reason: ReasonCancelled}
	}

	switch res.Strategy {
	case policy.StrategyAllow:
		return m.execute(ctx, st)

	case policy.StrategyDeny:
		return Decision{Verdict: VerdictDenied, Reason: ReasonPolicy}

	case policy.StrategyFilter:
		// The gate is the sole check: anything but a clean scan denies,
		// including a scanner that is missing or unreachable.
		out := m.checkGate(ctx, st)
		if out.Result != gate.ResultClean {
			return Decision{Verdict: VerdictDenied, Reason: ReasonGate}
		}
		return m.execute(ctx, st)

	case policy.StrategyHITL:
		return m.approve(ctx, st, snap, approval.ChannelChat, snap.HITLTimeout())

	case policy.StrategyPITL:
		if snap.PhoneNumber() == "" {
			m.logger.Error("pitl resolved but no phone number configured",
				"call_id", req.CallID,
				"tool", req.ToolID)
			return Decision{Verdict: VerdictDenied, Reason: ReasonMisconfigured}
		}
		return m.approve(ctx, st, snap, approval.ChannelPhone, snap.PITLTimeout())

	case policy.StrategyAITL:
		return m.approve(ctx, st, snap, approval.ChannelAIReview, snap.AITLTimeout())

	default:
		m.logger.Error("unknown strategy resolved",
			"call_id", req.CallID,
			"strategy", string(res.Strategy))
		return Decision{Verdict: VerdictDenied, Reason: ReasonPolicy}
	}
}

// checkGate runs the content safety check and records its classification.
func (m *Mediator) checkGate(ctx context.Context, st *callState) gate.Outcome {
	m.setState(st, StateGateCheck)
	ctx, span := tracer.Start(ctx, "gate.check")
	out := m.gate.Check(ctx, st.req.ToolID, st.req.Arguments)
	span.SetAttributes(attribute.String("result", string(out.Result)))
	span.End()
	m.mu.Lock()
	st.gateResult = out.Result
	m.mu.Unlock()
	return out
}

// approve runs the pre-check, opens a transaction on the channel, and waits
// for its resolution or deadline.
func (m *Mediator) approve(ctx context.Context, st *callState, snap *policy.Snapshot, ch approval.Channel, timeout time.Duration) Decision {
	out := m.checkGate(ctx, st)
	if out.Blocks() {
		return Decision{Verdict: VerdictDenied, Reason: ReasonGate}
	}
	if ctx.Err() != nil {
		return Decision{Verdict: VerdictDenied, Reason: ReasonCancelled}
	}

	req := st.req
	deadline := m.now().Add(timeout)
	areq := approval.Request{
		CallID:    req.CallID,
		Tool:      req.ToolID,
		Arguments: req.Arguments,
		Channel:   ch,
		ContextID: string(req.ContextID),
		SessionID: req.SessionID,
		Deadline:  deadline,
	}
	if ch == approval.ChannelPhone {
		areq.PhoneNumber = snap.PhoneNumber()
	}
	pending := StatePendingApproval
	if ch == approval.ChannelAIReview {
		pending = StatePendingReview
		areq.ReviewModel = snap.AITLModel()
		if snap.AITLSpotlighting() {
			areq.Arguments = spotlightArguments(req.Arguments)
		}
	}

	tx, err := m.broker.Open(ctx, areq)
	if err != nil {
		m.logger.Error("approval channel unusable",
			"call_id", req.CallID,
			"channel", string(ch),
			"error", err)
		return Decision{Verdict: VerdictDenied, Reason: ReasonMisconfigured}
	}

	m.mu.Lock()
	st.state = pending
	st.channel = ch
	st.deadline = deadline
	m.mu.Unlock()

	m.events.Publish(Event{
		Type:      EventApprovalRequested,
		CallID:    req.CallID,
		Tool:      req.ToolID,
		Channel:   string(ch),
		Deadline:  deadline,
		SessionID: req.SessionID,
	})

	waitCtx, span := tracer.Start(ctx, "approval.wait")
	span.SetAttributes(attribute.String("channel", string(ch)))
	outcome := m.broker.Await(waitCtx, tx)
	span.SetAttributes(attribute.String("status", string(outcome.Status)))
	span.End()

	m.events.Publish(Event{
		Type:      EventApprovalResolved,
		CallID:    req.CallID,
		Tool:      req.ToolID,
		Channel:   string(ch),
		Verdict:   string(outcome.Status),
		SessionID: req.SessionID,
	})

	switch outcome.Status {
	case approval.StatusApproved:
		dec := m.execute(ctx, st)
		dec.Responder = outcome.ResponderID
		return dec
	case approval.StatusDenied:
		return Decision{Verdict: VerdictDenied, Reason: ReasonRejected, Responder: outcome.ResponderID}
	case approval.StatusTimedOut:
		return Decision{Verdict: VerdictDenied, Reason: ReasonTimeout}
	default:
		return Decision{Verdict: VerdictDenied, Reason: ReasonCancelled}
	}
}

// execute finishes an allowed call. Without an executor the verdict is
// approved; with one the call runs and the verdict is completed. An
// execution failure is carried in the output, not turned into a denial.
func (m *Mediator) execute(ctx context.Context, st *callState) Decision {
	if m.executor == nil {
		return Decision{Verdict: VerdictApproved}
	}

	req := st.req
	m.setState(st, StateExecuting)
	m.events.Publish(Event{
		Type:      EventToolStarted,
		CallID:    req.CallID,
		Tool:      req.ToolID,
		SessionID: req.SessionID,
	})

	execCtx, span := tracer.Start(ctx, "tool.execute")
	span.SetAttributes(attribute.String("tool", req.ToolID))
	output, err := m.executor.Execute(execCtx, runner.ExecRequest{
		CallID:    req.CallID,
		ToolID:    req.ToolID,
		Arguments: req.Arguments,
		SessionID: req.SessionID,
	})
	span.End()
	if err != nil {
		m.logger.Error("tool execution failed",
			"call_id", req.CallID,
			"tool", req.ToolID,
			"error", err)
		output = runner.Output{Content: err.Error(), IsError: true}
	}

	m.events.Publish(Event{
		Type:      EventToolDone,
		CallID:    req.CallID,
		Tool:      req.ToolID,
		SessionID: req.SessionID,
	})
	return Decision{Verdict: VerdictCompleted, Output: &output}
}

func (m *Mediator) setState(st *callState, s State) {
	m.mu.Lock()
	st.state = s
	m.mu.Unlock()
}

// writeAudit emits the single terminal record for a call. The dispatcher
// owns redaction and payload bounding. A fresh context keeps cancelled
// mediations auditable.
func (m *Mediator) writeAudit(req ToolCallRequest, dec Decision) {
	m.audit.Write(context.Background(), audit.Record{
		CallID:           req.CallID,
		ToolID:           req.ToolID,
		ContextID:        string(req.ContextID),
		ModelID:          req.ModelID,
		SessionID:        req.SessionID,
		ResolvedStrategy: string(dec.Strategy),
		ResolutionSource: string(dec.Source),
		GateResult:       string(dec.GateResult),
		Channel:          string(dec.Channel),
		Verdict:          string(dec.Verdict),
		Reason:           string(dec.Reason),
		Arguments:        string(req.Arguments),
		OpenedAt:         dec.OpenedAt,
		ResolvedAt:       dec.ResolvedAt,
	})
}
