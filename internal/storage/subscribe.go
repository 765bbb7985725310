package storage

import (
	"github.com/syn2much/mantis/internal/model"
)

// subscriberCapacity is the bounded queue size from spec §4.1/§5 (~1000).
const subscriberCapacity = 1000

// SubscribeEvents returns a bounded channel that receives every event saved
// after subscription. On overflow the oldest queued item is dropped in
// favor of the new one (spec §5 "drop-oldest"), so a slow dashboard client
// can never stall the capture pipeline.
func (s *Store) SubscribeEvents() chan *model.Event {
	ch := make(chan *model.Event, subscriberCapacity)
	s.subMu.Lock()
	s.eventSubs[ch] = struct{}{}
	s.subMu.Unlock()
	return ch
}

// UnsubscribeEvents removes ch from the subscriber set and closes it.
func (s *Store) UnsubscribeEvents(ch chan *model.Event) {
	s.subMu.Lock()
	if _, ok := s.eventSubs[ch]; ok {
		delete(s.eventSubs, ch)
		close(ch)
	}
	s.subMu.Unlock()
}

// SubscribeAlerts returns a bounded channel that receives every alert saved
// after subscription, with the same drop-oldest overflow policy.
func (s *Store) SubscribeAlerts() chan *model.Alert {
	ch := make(chan *model.Alert, subscriberCapacity)
	s.subMu.Lock()
	s.alertSubs[ch] = struct{}{}
	s.subMu.Unlock()
	return ch
}

// UnsubscribeAlerts removes ch from the subscriber set and closes it.
func (s *Store) UnsubscribeAlerts(ch chan *model.Alert) {
	s.subMu.Lock()
	if _, ok := s.alertSubs[ch]; ok {
		delete(s.alertSubs, ch)
		close(ch)
	}
	s.subMu.Unlock()
}

func (s *Store) publishEvent(e *model.Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.eventSubs {
		pushDropOldest(ch, e)
	}
}

func (s *Store) publishAlert(a *model.Alert) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.alertSubs {
		pushDropOldest(ch, a)
	}
}

// pushDropOldest sends v on ch without blocking. If ch is full, the oldest
// queued item is discarded to make room, so a slow subscriber can never
// stall the capture pipeline.
func pushDropOldest[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
		// Another producer raced us and refilled the channel; drop v.
	}
}
