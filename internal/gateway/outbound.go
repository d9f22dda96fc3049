package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/flemzord/warden/internal/mediation"
)

// outboundTimeout bounds each delivery attempt. Slow targets lose events
// rather than backing up the subscription buffer.
const outboundTimeout = 10 * time.Second

// VerdictNotifier posts terminal verdict events to configured webhook
// targets, signed the same way inbound webhooks are validated. Delivery is
// best effort and never feeds back into the mediation.
type VerdictNotifier struct {
	targets map[string]NotifyTarget
	events  *mediation.Notifier
	logger  *slog.Logger
	client  *http.Client

	cancel func()
	wg     sync.WaitGroup
}

// NewVerdictNotifier creates a notifier for the given targets.
func NewVerdictNotifier(targets map[string]NotifyTarget, events *mediation.Notifier, logger *slog.Logger) *VerdictNotifier {
	return &VerdictNotifier{
		targets: targets,
		events:  events,
		logger:  logger,
		client:  &http.Client{Timeout: outboundTimeout},
	}
}

// Start subscribes to the event stream and begins delivering verdicts.
func (n *VerdictNotifier) Start() {
	ch, cancel := n.events.Subscribe(64)
	n.cancel = cancel

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for ev := range ch {
			if ev.Type != mediation.EventVerdict {
				continue
			}
			n.deliver(ev)
		}
	}()
}

// Stop unsubscribes and waits for in-flight deliveries.
func (n *VerdictNotifier) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
}

func (n *VerdictNotifier) deliver(ev mediation.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("verdict webhook marshal failed", "call_id", ev.CallID, "error", err)
		return
	}

	for name, target := range n.targets {
		ctx, cancel := context.WithTimeout(context.Background(), outboundTimeout)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
		if err != nil {
			cancel()
			n.logger.Error("verdict webhook request failed", "target", name, "error", err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		if target.Secret != "" {
			req.Header.Set("X-Signature-256", signHMAC(body, target.Secret))
		}

		resp, err := n.client.Do(req)
		cancel()
		if err != nil {
			n.logger.Warn("verdict webhook delivery failed",
				"target", name,
				"call_id", ev.CallID,
				"error", err)
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 300 {
			n.logger.Warn("verdict webhook rejected",
				"target", name,
				"call_id", ev.CallID,
				"status", resp.StatusCode)
		}
	}
}
