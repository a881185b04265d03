package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalSaved        EventType = "SIGNAL_SAVED"
	EventAdmissionRejected  EventType = "ADMISSION_REJECTED"
	EventTradeOpened        EventType = "TRADE_OPENED"
	EventTradeClosed        EventType = "TRADE_CLOSED"
	EventReconcileAmbiguous EventType = "RECONCILE_AMBIGUOUS"
	EventCycleCompleted     EventType = "CYCLE_COMPLETED"
	EventPriceUpdate        EventType = "PRICE_UPDATE"
	EventError              EventType = "ERROR"
	EventBotPaused          EventType = "BOT_PAUSED"
	EventBotResumed         EventType = "BOT_RESUMED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// String returns a data field as a string, or "" when absent
func (e Event) String(key string) string {
	v, _ := e.Data[key].(string)
	return v
}

// Float returns a data field as a float64, or 0 when absent
func (e Event) Float(key string) float64 {
	switch v := e.Data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions. A nil *EventBus
// discards everything.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
	sync        bool
}

// NewEventBus creates a bus that delivers each event on its own goroutine
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// NewSyncEventBus creates a bus that delivers inline, in subscription order
func NewSyncEventBus() *EventBus {
	eb := NewEventBus()
	eb.sync = true
	return eb
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	if eb == nil {
		return
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	if eb == nil {
		return
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	subs := append([]Subscriber(nil), eb.subscribers[event.Type]...)
	subs = append(subs, eb.allSubs...)
	eb.mu.RUnlock()

	for _, sub := range subs {
		if eb.sync {
			sub(event)
		} else {
			go sub(event)
		}
	}
}

// PublishSignalSaved publishes a persisted signal
func (eb *EventBus) PublishSignalSaved(signalID int64, asset, direction string, valid bool, reason, llm string) {
	eb.Publish(Event{
		Type: EventSignalSaved,
		Data: map[string]interface{}{
			"signal_id": signalID,
			"asset":     asset,
			"direction": direction,
			"valid":     valid,
			"reason":    reason,
			"llm_used":  llm,
		},
	})
}

// PublishAdmissionRejected publishes a gate rejection
func (eb *EventBus) PublishAdmissionRejected(signalID int64, asset, reason string) {
	eb.Publish(Event{
		Type: EventAdmissionRejected,
		Data: map[string]interface{}{
			"signal_id": signalID,
			"asset":     asset,
			"reason":    reason,
		},
	})
}

// PublishTradeOpened publishes a trade opened event
func (eb *EventBus) PublishTradeOpened(tradeID int64, asset, direction string, entry, sl, tp, lot float64, ticket int64) {
	eb.Publish(Event{
		Type: EventTradeOpened,
		Data: map[string]interface{}{
			"trade_id":  tradeID,
			"asset":     asset,
			"direction": direction,
			"entry":     entry,
			"sl":        sl,
			"tp":        tp,
			"lot":       lot,
			"ticket":    ticket,
		},
	})
}

// PublishTradeClosed publishes a trade closed event
func (eb *EventBus) PublishTradeClosed(tradeID int64, asset, direction, reason string, entry, exit, pnl, rr float64) {
	eb.Publish(Event{
		Type: EventTradeClosed,
		Data: map[string]interface{}{
			"trade_id":  tradeID,
			"asset":     asset,
			"direction": direction,
			"reason":    reason,
			"entry":     entry,
			"exit":      exit,
			"pnl":       pnl,
			"rr":        rr,
		},
	})
}

// PublishReconcileAmbiguous publishes a trade the reconciler could not resolve
func (eb *EventBus) PublishReconcileAmbiguous(tradeID int64, asset, detail string) {
	eb.Publish(Event{
		Type: EventReconcileAmbiguous,
		Data: map[string]interface{}{
			"trade_id": tradeID,
			"asset":    asset,
			"detail":   detail,
		},
	})
}

// PublishCycleCompleted publishes one loop iteration's duration
func (eb *EventBus) PublishCycleCompleted(loop string, duration time.Duration) {
	eb.Publish(Event{
		Type: EventCycleCompleted,
		Data: map[string]interface{}{
			"loop":     loop,
			"duration": duration.Seconds(),
		},
	})
}

// PublishPriceUpdate publishes a price update event
func (eb *EventBus) PublishPriceUpdate(asset string, price float64) {
	eb.Publish(Event{
		Type: EventPriceUpdate,
		Data: map[string]interface{}{
			"asset": asset,
			"price": price,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, kind string, err error) {
	data := map[string]interface{}{
		"source": source,
		"kind":   kind,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: EventError, Data: data})
}
