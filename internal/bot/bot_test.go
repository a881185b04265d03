package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"smc-trading-bot/config"
	"smc-trading-bot/internal/admission"
	"smc-trading-bot/internal/ai/llm"
	"smc-trading-bot/internal/broker"
	"smc-trading-bot/internal/circuit"
	"smc-trading-bot/internal/database"
	"smc-trading-bot/internal/levels"
	"smc-trading-bot/internal/reconcile"
	"smc-trading-bot/internal/retry"
	"smc-trading-bot/internal/signal"
)

const validResponse = `{"a":"XAUUSD","d":"l","s":"r","c":80,"e":2350,"sl":2340,"tp":2380,"rr":3,"cf":["FVG"],"sw":"asia_low","ns":"n","ss":"n","v":true,"r":"ok"}`

type stubOracle struct {
	mu    sync.Mutex
	calls int
	raw   string
}

func (o *stubOracle) Decide(ctx context.Context, snap llm.Snapshot) (string, string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	return o.raw, "claude", nil
}

type stubGate struct {
	mu        sync.Mutex
	processed []int64
}

func (g *stubGate) Process(ctx context.Context, sig *database.Signal, now time.Time) admission.Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.processed = append(g.processed, sig.ID)
	return admission.Outcome{State: admission.StateAdmitted}
}

type stubLevels struct{}

func (stubLevels) Get(ctx context.Context, asset string, now time.Time) (levels.LevelSet, error) {
	return levels.LevelSet{Asset: asset, AsOf: now.Format(levels.DateLayout)}, nil
}

type stubReconciler struct {
	mu    sync.Mutex
	runs  int
	err   error
	ran   chan struct{}
	reply reconcile.Report
}

func (r *stubReconciler) Run(ctx context.Context) (reconcile.Report, error) {
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()
	if r.ran != nil {
		select {
		case r.ran <- struct{}{}:
		default:
		}
	}
	return r.reply, r.err
}

// selectiveMarket fails every call for one symbol
type selectiveMarket struct {
	*broker.PaperClient
	failing string
}

func (m selectiveMarket) GetCandles(ctx context.Context, symbol string, count int) ([]broker.Candle, error) {
	if symbol == m.failing {
		return nil, broker.ErrUnavailable
	}
	return m.PaperClient.GetCandles(ctx, symbol, count)
}

// failingMarket fails every candle fetch and reports each call
type failingMarket struct {
	*broker.PaperClient
	called chan struct{}
}

func (m failingMarket) GetCandles(ctx context.Context, symbol string, count int) ([]broker.Candle, error) {
	select {
	case m.called <- struct{}{}:
	default:
	}
	return nil, broker.ErrUnavailable
}

type fixture struct {
	clock  time.Time
	store  *database.MemoryStore
	paper  *broker.PaperClient
	oracle *stubOracle
	gate   *stubGate
	rec    *stubReconciler
	orch   *Orchestrator
}

func newFixture(t *testing.T, now time.Time, assets ...string) *fixture {
	t.Helper()
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}
	if len(assets) == 0 {
		assets = []string{"XAUUSD"}
	}
	fx := &fixture{
		clock:  now,
		store:  database.NewMemoryStore(),
		oracle: &stubOracle{raw: validResponse},
		gate:   &stubGate{},
		rec:    &stubReconciler{},
	}
	fx.paper = broker.NewPaperClient(broker.PaperConfig{Seed: 7, Now: func() time.Time { return fx.clock }})

	pipeline := signal.NewPipeline(nil, fx.oracle, nil, fx.store, nil, nil)
	fx.orch = New(Config{
		Assets:          assets,
		Location:        paris,
		Window:          config.MustSessionWindow("14:30-21:00"),
		CandlesAnalysis: 20,
		MaxTradesPerDay: 2,
	}, Deps{
		Store:      fx.store,
		Market:     fx.paper,
		Levels:     stubLevels{},
		Pipeline:   pipeline,
		Gate:       fx.gate,
		Reconciler: fx.rec,
	})
	fx.orch.now = func() time.Time { return fx.clock }
	return fx
}

func (fx *fixture) signals(t *testing.T) []*database.Signal {
	t.Helper()
	out, err := fx.store.ListSignals(context.Background(), database.SignalFilter{})
	if err != nil {
		t.Fatalf("ListSignals failed: %v", err)
	}
	return out
}

// 16:00 Paris
var inWindow = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

func TestAnalysisOutsideWindowOnlyMovesCursor(t *testing.T) {
	fx := newFixture(t, time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC))
	fx.orch.AnalysisCycle(context.Background())

	if v, ok, _ := fx.store.GetState(context.Background(), CursorKey("XAUUSD")); !ok || v == "" {
		t.Fatal("Expected the cursor to be saved outside the window")
	}
	if n := len(fx.signals(t)); n != 0 {
		t.Errorf("Expected no signal outside the window, got %d", n)
	}
	if fx.oracle.calls != 0 {
		t.Errorf("Expected the oracle not to be consulted, got %d calls", fx.oracle.calls)
	}
}

func TestAnalysisDailyLimitOnlyMovesCursor(t *testing.T) {
	fx := newFixture(t, inWindow)
	fx.store.IncrementDailyCount(context.Background(), "XAUUSD", "2024-03-04")
	fx.store.IncrementDailyCount(context.Background(), "XAUUSD", "2024-03-04")

	fx.orch.AnalysisCycle(context.Background())

	if _, ok, _ := fx.store.GetState(context.Background(), CursorKey("XAUUSD")); !ok {
		t.Error("Expected the cursor to be saved at the daily limit")
	}
	if n := len(fx.signals(t)); n != 0 {
		t.Errorf("Expected no signal at the daily limit, got %d", n)
	}
}

func TestAnalysisRunsOncePerBar(t *testing.T) {
	fx := newFixture(t, inWindow)

	fx.orch.AnalysisCycle(context.Background())
	sigs := fx.signals(t)
	if len(sigs) != 1 || !sigs[0].TradeValid {
		t.Fatalf("Expected one valid signal, got %+v", sigs)
	}
	if len(fx.gate.processed) != 1 || fx.gate.processed[0] != sigs[0].ID {
		t.Errorf("Expected the valid signal to reach the gate, got %v", fx.gate.processed)
	}

	// same bar: nothing new
	fx.clock = fx.clock.Add(10 * time.Second)
	fx.orch.AnalysisCycle(context.Background())
	if n := len(fx.signals(t)); n != 1 {
		t.Errorf("Expected the bar to be analyzed once, got %d signals", n)
	}

	// next bar
	fx.clock = fx.clock.Add(5 * time.Minute)
	fx.orch.AnalysisCycle(context.Background())
	if n := len(fx.signals(t)); n != 2 {
		t.Errorf("Expected a signal for the new bar, got %d", n)
	}
}

func TestAnalysisInvalidSignalSkipsGate(t *testing.T) {
	fx := newFixture(t, inWindow)
	fx.oracle.raw = `{"v":false,"r":"no setup"}`

	fx.orch.AnalysisCycle(context.Background())
	if n := len(fx.signals(t)); n != 1 {
		t.Fatalf("Expected the invalid signal to be persisted, got %d", n)
	}
	if len(fx.gate.processed) != 0 {
		t.Errorf("Expected the gate to be skipped, got %v", fx.gate.processed)
	}
}

func TestAnalysisPaused(t *testing.T) {
	fx := newFixture(t, inWindow)
	if err := fx.orch.Pause(context.Background()); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	fx.orch.AnalysisCycle(context.Background())
	if n := len(fx.signals(t)); n != 0 {
		t.Errorf("Expected no analysis while paused, got %d signals", n)
	}

	fx.orch.Resume(context.Background())
	fx.orch.AnalysisCycle(context.Background())
	if n := len(fx.signals(t)); n != 1 {
		t.Errorf("Expected analysis after resume, got %d signals", n)
	}
}

func TestAnalysisRestoresCursor(t *testing.T) {
	fx := newFixture(t, inWindow)
	candles, _ := fx.paper.GetCandles(context.Background(), "XAUUSD", 20)
	last := candles[len(candles)-1].Time
	fx.store.SetState(context.Background(), CursorKey("XAUUSD"), last.UTC().Format(time.RFC3339))

	fx.orch.restoreCursors(context.Background())
	fx.orch.AnalysisCycle(context.Background())

	if n := len(fx.signals(t)); n != 0 {
		t.Errorf("Expected the persisted cursor to suppress re-analysis, got %d signals", n)
	}
}

func TestAnalysisFailureIsIsolated(t *testing.T) {
	fx := newFixture(t, inWindow, "XAUUSD", "US100")
	fx.orch.Market = selectiveMarket{PaperClient: fx.paper, failing: "XAUUSD"}

	fx.orch.AnalysisCycle(context.Background())

	sigs := fx.signals(t)
	if len(sigs) != 1 {
		t.Fatalf("Expected US100 to be analyzed despite XAUUSD failing, got %d signals", len(sigs))
	}
	st := fx.orch.Status(context.Background())
	if st.Assets["XAUUSD"].LastError == "" || st.Assets["US100"].LastError != "" {
		t.Errorf("Unexpected per-asset errors %+v", st.Assets)
	}
}

func TestAnalysisBreakerSkipsCycles(t *testing.T) {
	fx := newFixture(t, inWindow)
	fx.orch.Breaker = circuit.NewBreaker(circuit.Config{Enabled: true, MaxConsecutiveFails: 2, Cooldown: time.Hour})
	fx.paper.InjectFailure("GetCandles", broker.ErrUnavailable)

	fx.orch.AnalysisCycle(context.Background())
	fx.orch.AnalysisCycle(context.Background())
	if fx.orch.Breaker.GetState() != circuit.StateOpen {
		t.Fatalf("Expected the breaker to open, got %s", fx.orch.Breaker.GetState())
	}

	fx.paper.InjectFailure("GetCandles", nil)
	fx.orch.AnalysisCycle(context.Background())
	if n := len(fx.signals(t)); n != 0 {
		t.Errorf("Expected no analysis while the breaker is open, got %d signals", n)
	}
}

func TestResumeClearsOpenBreaker(t *testing.T) {
	fx := newFixture(t, inWindow)
	fx.orch.Breaker = circuit.NewBreaker(circuit.Config{Enabled: true, MaxConsecutiveFails: 1, Cooldown: time.Hour})
	fx.paper.InjectFailure("GetCandles", broker.ErrUnavailable)
	fx.orch.AnalysisCycle(context.Background())
	if fx.orch.Breaker.GetState() != circuit.StateOpen {
		t.Fatalf("Expected the breaker to open, got %s", fx.orch.Breaker.GetState())
	}

	fx.paper.InjectFailure("GetCandles", nil)
	if err := fx.orch.Resume(context.Background()); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	fx.orch.AnalysisCycle(context.Background())
	if n := len(fx.signals(t)); n != 1 {
		t.Errorf("Expected analysis right after resume, got %d signals", n)
	}
}

func TestReconcileCycleRecordsState(t *testing.T) {
	fx := newFixture(t, inWindow)
	fx.rec.reply = reconcile.Report{Checked: 2, Closed: 1, StillOpen: 1}

	fx.orch.ReconcileCycle(context.Background())

	if _, ok, _ := fx.store.GetState(context.Background(), StateLastReconcile); !ok {
		t.Error("Expected last_reconcile to be recorded")
	}
	if st := fx.orch.Status(context.Background()); st.LastReconcile.Closed != 1 || st.ReconciledAt == nil {
		t.Errorf("Expected the report in status, got %+v", st)
	}

	fx.rec.err = errors.New("bridge down")
	fx.orch.ReconcileCycle(context.Background())
	if st := fx.orch.Status(context.Background()); st.LastReconcile.Closed != 1 {
		t.Errorf("Expected a failed pass to keep the previous report, got %+v", st.LastReconcile)
	}
}

func TestStartStopAndTrigger(t *testing.T) {
	fx := newFixture(t, time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC))
	fx.rec.ran = make(chan struct{}, 1)
	fx.orch.cfg.AnalysisInterval = time.Hour
	fx.orch.cfg.ReconcileInterval = time.Hour

	if err := fx.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := fx.orch.Start(context.Background()); err == nil {
		t.Error("Expected a second Start to fail")
	}

	waitRun := func() {
		select {
		case <-fx.rec.ran:
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for a reconcile pass")
		}
	}
	waitRun()
	if !fx.orch.TriggerReconcile() {
		t.Fatal("Expected the trigger to be accepted")
	}
	waitRun()

	fx.orch.Stop()
	if fx.orch.Status(context.Background()).Running {
		t.Error("Expected running=false after Stop")
	}
	fx.rec.mu.Lock()
	runs := fx.rec.runs
	fx.rec.mu.Unlock()
	if runs != 2 {
		t.Errorf("Expected two reconcile passes, got %d", runs)
	}
}

func TestStopAbandonsRetryBackoff(t *testing.T) {
	fx := newFixture(t, inWindow)
	market := failingMarket{PaperClient: fx.paper, called: make(chan struct{}, 1)}
	fx.orch.Market = market
	fx.orch.Retry = retry.NewPolicy("market", 3, []time.Duration{time.Hour}, nil)
	fx.orch.cfg.AnalysisInterval = time.Hour
	fx.orch.cfg.ReconcileInterval = time.Hour

	if err := fx.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	select {
	case <-market.called:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the first candle fetch")
	}

	stopped := make(chan struct{})
	go func() {
		fx.orch.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected Stop to return while a backoff was pending")
	}
}
