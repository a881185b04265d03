package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"smc-trading-bot/internal/events"
)

// counterValue sums the samples of a metric family whose labels match
func counterValue(t *testing.T, r *Recorder, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := r.Registry().Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := true
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					match = false
				}
			}
			if !match {
				continue
			}
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				total += g.GetValue()
			}
		}
	}
	return total
}

func TestRecorderFromBus(t *testing.T) {
	r := New()
	bus := events.NewSyncEventBus()
	r.Subscribe(bus)

	bus.PublishSignalSaved(1, "XAUUSD", "long", true, "", "claude")
	bus.PublishSignalSaved(2, "XAUUSD", "none", false, "oracle_unavailable", "none")
	bus.PublishAdmissionRejected(2, "XAUUSD", "rr_too_low")
	bus.PublishTradeClosed(1, "XAUUSD", "long", "sl", 2000, 1990, -100, -1)
	bus.PublishPriceUpdate("US100", 18010.5)

	if v := counterValue(t, r, "smcbot_signals_total", map[string]string{"asset": "XAUUSD"}); v != 2 {
		t.Errorf("Expected 2 signals, got %v", v)
	}
	if v := counterValue(t, r, "smcbot_signals_total", map[string]string{"valid": "false"}); v != 1 {
		t.Errorf("Expected 1 invalid signal, got %v", v)
	}
	if v := counterValue(t, r, "smcbot_admission_rejections_total", map[string]string{"reason": "rr_too_low"}); v != 1 {
		t.Errorf("Expected 1 rejection, got %v", v)
	}
	if v := counterValue(t, r, "smcbot_realized_pnl_abs_total", map[string]string{"sign": "loss"}); v != 100 {
		t.Errorf("Expected loss 100, got %v", v)
	}
	if v := counterValue(t, r, "smcbot_last_price", map[string]string{"asset": "US100"}); v != 18010.5 {
		t.Errorf("Expected last price 18010.5, got %v", v)
	}
}

func TestRecordersDoNotCollide(t *testing.T) {
	a, b := New(), New()
	a.RecordError("broker")
	if v := counterValue(t, b, "smcbot_errors_total", nil); v != 0 {
		t.Errorf("Expected independent registries, got %v", v)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	r := New()
	r.RecordTradeOpened("XAUUSD", "long")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `smcbot_trades_opened_total{asset="XAUUSD",direction="long"} 1`) {
		t.Errorf("Expected trades opened sample in output, got:\n%s", body)
	}
}
