// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"sync"
	"time"
)

// Event is one immutable audit record. Sequence numbers are assigned on
// append and never reused; PaymentID is zero for administrative events that
// are not tied to a payment.
type Event struct {
	Sequence   uint64
	Name       string
	PaymentID  uint64
	Attributes map[string]string
	Timestamp  int64
}

// EventLog is an ordered, append-only log of structured audit records,
// kept separate from mutable registry state. Mark/Rewind let the payment
// router discard events staged during a failed settlement attempt so a
// reverted payment leaves no trace in the log.
type EventLog struct {
	mu     sync.RWMutex
	events []Event
	seq    uint64

	now func() int64
}

// NewEventLog creates an empty event log.
func NewEventLog() *EventLog {
	return &EventLog{
		now: func() int64 { return time.Now().Unix() },
	}
}

// SetClock overrides the log clock. Test hook.
func (el *EventLog) SetClock(now func() int64) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.now = now
}

// Append records an event and returns it with sequence and timestamp set.
func (el *EventLog) Append(name string, paymentID uint64, attrs map[string]string) Event {
	el.mu.Lock()
	defer el.mu.Unlock()

	el.seq++
	ev := Event{
		Sequence:   el.seq,
		Name:       name,
		PaymentID:  paymentID,
		Attributes: attrs,
		Timestamp:  el.now(),
	}
	el.events = append(el.events, ev)
	return ev
}

// Mark returns the current log position for a later Rewind.
func (el *EventLog) Mark() int {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return len(el.events)
}

// Rewind drops every event appended after the mark. Sequence numbers of
// dropped events are not reissued.
func (el *EventLog) Rewind(mark int) {
	el.mu.Lock()
	defer el.mu.Unlock()

	if mark < 0 || mark > len(el.events) {
		return
	}
	el.events = el.events[:mark]
}

// Len returns the number of events in the log.
func (el *EventLog) Len() int {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return len(el.events)
}

// All returns a copy of the full log in append order.
func (el *EventLog) All() []Event {
	el.mu.RLock()
	defer el.mu.RUnlock()

	out := make([]Event, len(el.events))
	copy(out, el.events)
	return out
}

// ByPaymentID returns every event recorded for the given payment id.
func (el *EventLog) ByPaymentID(paymentID uint64) []Event {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var out []Event
	for _, ev := range el.events {
		if ev.PaymentID == paymentID {
			out = append(out, ev)
		}
	}
	return out
}

// InRange returns events with from <= Timestamp <= to.
func (el *EventLog) InRange(from, to int64) []Event {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var out []Event
	for _, ev := range el.events {
		if ev.Timestamp >= from && ev.Timestamp <= to {
			out = append(out, ev)
		}
	}
	return out
}
