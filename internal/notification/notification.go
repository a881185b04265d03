package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"smc-trading-bot/internal/events"
	"smc-trading-bot/internal/logging"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotifyTradeOpen  NotificationType = "trade_open"
	NotifyTradeClose NotificationType = "trade_close"
	NotifyWarning    NotificationType = "warning"
)

// Notification represents a notification message
type Notification struct {
	Type      NotificationType       `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Asset     string                 `json:"asset,omitempty"`
	Price     float64                `json:"price,omitempty"`
	PnL       float64                `json:"pnl,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans notifications out to every enabled provider
type Manager struct {
	notifiers []Notifier
	logger    *logging.Logger
}

// NewManager creates a new notification manager
func NewManager(logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{logger: logger.WithComponent("notification")}
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send sends a notification to all enabled providers, returning the last error
func (m *Manager) Send(notification *Notification) error {
	var lastErr error
	for _, n := range m.notifiers {
		if !n.IsEnabled() {
			continue
		}
		if err := n.Send(notification); err != nil {
			m.logger.Warn("notification failed", "notifier", n.Name(), "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// SendTradeOpen sends a trade opened notification
func (m *Manager) SendTradeOpen(asset, direction string, entry, sl, tp, lot float64) error {
	return m.Send(&Notification{
		Type:      NotifyTradeOpen,
		Title:     fmt.Sprintf("Trade opened: %s %s", asset, direction),
		Message:   fmt.Sprintf("%s %s %.2f lots @ %.5f\nSL: %.5f | TP: %.5f", direction, asset, lot, entry, sl, tp),
		Asset:     asset,
		Price:     entry,
		Timestamp: time.Now(),
		Extra: map[string]interface{}{
			"direction": direction,
			"sl":        sl,
			"tp":        tp,
			"lot":       lot,
		},
	})
}

// SendTradeClose sends a trade closed notification
func (m *Manager) SendTradeClose(asset string, entry, exit, pnl float64, reason string) error {
	return m.Send(&Notification{
		Type:      NotifyTradeClose,
		Title:     fmt.Sprintf("Trade closed: %s (%s)", asset, reason),
		Message:   fmt.Sprintf("Entry: %.5f -> Exit: %.5f\nP&L: %.2f", entry, exit, pnl),
		Asset:     asset,
		Price:     exit,
		PnL:       pnl,
		Timestamp: time.Now(),
		Extra:     map[string]interface{}{"reason": reason},
	})
}

// SendWarning sends an operator warning
func (m *Manager) SendWarning(title, message string) error {
	return m.Send(&Notification{
		Type:      NotifyWarning,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// Subscribe forwards trade lifecycle events from the bus
func (m *Manager) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventTradeOpened, func(e events.Event) {
		m.SendTradeOpen(e.String("asset"), e.String("direction"),
			e.Float("entry"), e.Float("sl"), e.Float("tp"), e.Float("lot"))
	})
	bus.Subscribe(events.EventTradeClosed, func(e events.Event) {
		m.SendTradeClose(e.String("asset"), e.Float("entry"), e.Float("exit"), e.Float("pnl"), e.String("reason"))
	})
	bus.Subscribe(events.EventReconcileAmbiguous, func(e events.Event) {
		m.SendWarning("Unresolved trade close",
			fmt.Sprintf("%s trade %v: %s", e.String("asset"), e.Data["trade_id"], e.String("detail")))
	})
}

// =============================================================================
// WEBHOOK NOTIFIER
// =============================================================================

// WebhookNotifier POSTs notifications as JSON
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// WebhookConfig holds webhook configuration
type WebhookConfig struct {
	URL     string
	Enabled bool
}

// NewWebhookNotifier creates a webhook notifier, disabled without a URL
func NewWebhookNotifier(config WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:     config.URL,
		enabled: config.Enabled && config.URL != "",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookNotifier) Name() string {
	return "webhook"
}

func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

func (w *WebhookNotifier) Send(notification *Notification) error {
	if !w.enabled {
		return nil
	}

	jsonData, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	resp, err := w.client.Post(w.url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
