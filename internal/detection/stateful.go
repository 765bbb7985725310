package detection

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/syn2much/mantis/internal/model"
)

// statefulRule tracks cross-event window state for one detection rule.
type statefulRule interface {
	Eval(ev *model.Event) *model.Alert
	Reset()
}

const (
	bruteForceWindow       = 300 * time.Second
	bruteForceThreshold    = 20
	reconWindow            = 600 * time.Second
	reconServiceThreshold  = 3
)

// bruteForceRule maintains a per-IP sliding window of auth_attempt
// timestamps.
type bruteForceRule struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
	alerted  map[string]bool
}

func newBruteForceRule() *bruteForceRule {
	return &bruteForceRule{
		attempts: make(map[string][]time.Time),
		alerted:  make(map[string]bool),
	}
}

func (r *bruteForceRule) Eval(ev *model.Event) *model.Alert {
	if ev.Kind != model.EventAuthAttempt {
		return nil
	}
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	times := append(r.attempts[ev.SrcIP], now)
	cutoff := now.Add(-bruteForceWindow)
	times = pruneBefore(times, cutoff)
	r.attempts[ev.SrcIP] = times

	if len(times) < bruteForceThreshold || r.alerted[ev.SrcIP] {
		return nil
	}
	r.alerted[ev.SrcIP] = true
	return newAlert(ev, "brute_force", model.SeverityHigh,
		fmt.Sprintf("%d auth attempts from %s within %s", len(times), ev.SrcIP, bruteForceWindow), nil)
}

func (r *bruteForceRule) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = make(map[string][]time.Time)
	r.alerted = make(map[string]bool)
}

func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	out := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// reconnaissanceRule maintains a per-IP service->first-seen map.
type reconnaissanceRule struct {
	mu      sync.Mutex
	seen    map[string]map[string]time.Time
	alerted map[string]bool
}

func newReconnaissanceRule() *reconnaissanceRule {
	return &reconnaissanceRule{
		seen:    make(map[string]map[string]time.Time),
		alerted: make(map[string]bool),
	}
}

func (r *reconnaissanceRule) Eval(ev *model.Event) *model.Alert {
	if ev.Kind != model.EventConnection {
		return nil
	}
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	services, ok := r.seen[ev.SrcIP]
	if !ok {
		services = make(map[string]time.Time)
		r.seen[ev.SrcIP] = services
	}
	if _, exists := services[ev.Service]; !exists {
		services[ev.Service] = now
	}

	cutoff := now.Add(-reconWindow)
	for svc, firstSeen := range services {
		if firstSeen.Before(cutoff) {
			delete(services, svc)
		}
	}

	if len(services) < reconServiceThreshold || r.alerted[ev.SrcIP] {
		return nil
	}
	r.alerted[ev.SrcIP] = true

	names := make([]string, 0, len(services))
	for svc := range services {
		names = append(names, svc)
	}
	sort.Strings(names)

	return newAlert(ev, "reconnaissance", model.SeverityMedium,
		fmt.Sprintf("%s probed %d services: %s", ev.SrcIP, len(names), strings.Join(names, ", ")), nil)
}

func (r *reconnaissanceRule) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = make(map[string]map[string]time.Time)
	r.alerted = make(map[string]bool)
}
