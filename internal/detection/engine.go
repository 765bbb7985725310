// Package detection runs every captured event through the stateless
// and stateful rule families described for MANTIS's detection engine,
// saving any resulting Alert and dispatching it to a configured
// webhook. Modeled on the teacher's small rule-engine shape (a slice of
// rule functions run in order against one input, each free to produce
// zero or more findings) generalized from chat-message masking rules to
// honeypot event rules.
package detection

import (
	"context"
	"log/slog"

	"github.com/syn2much/mantis/internal/model"
)

// store is the subset of *storage.Store the engine depends on.
type store interface {
	SaveAlert(ctx context.Context, a *model.Alert) (*model.Alert, error)
}

// Engine runs the stateless and stateful rule families over every event
// handed to Process, in the order spec'd: stateless first, then
// stateful.
type Engine struct {
	store     store
	webhook   *webhookDispatcher
	logger    *slog.Logger
	stateful  []statefulRule
}

// New constructs an Engine. webhookURL may be empty, disabling alert
// dispatch. headers are attached to every dispatched request.
func New(st store, webhookURL string, headers map[string]string) *Engine {
	return &Engine{
		store:   st,
		webhook: newWebhookDispatcher(webhookURL, headers),
		logger:  slog.Default().With("component", "detection"),
		stateful: []statefulRule{
			newBruteForceRule(),
			newReconnaissanceRule(),
		},
	}
}

// Process runs event through every stateless rule, then every stateful
// rule, saving and dispatching any alert produced.
func (e *Engine) Process(ctx context.Context, ev *model.Event) {
	for _, fn := range statelessRules {
		if alert := fn(ev); alert != nil {
			e.emit(ctx, alert)
		}
	}
	for _, r := range e.stateful {
		if alert := r.Eval(ev); alert != nil {
			e.emit(ctx, alert)
		}
	}
}

func (e *Engine) emit(ctx context.Context, alert *model.Alert) {
	saved, err := e.store.SaveAlert(ctx, alert)
	if err != nil {
		e.logger.Warn("save alert failed", "rule", alert.Rule, "error", err)
		return
	}
	e.webhook.Dispatch(saved)
}

// ResetStatefulRules discards all sliding-window state and
// already-alerted sets. Invoked jointly with a Storage reset.
func (e *Engine) ResetStatefulRules() {
	for _, r := range e.stateful {
		r.Reset()
	}
}

// Close releases the webhook dispatcher's HTTP client resources.
func (e *Engine) Close() {
	e.webhook.Close()
}
