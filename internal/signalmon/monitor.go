// Package signalmon tracks active conditional signals and converts them
// into executions the moment their trigger predicates become true against
// the live indicator and tick streams.
//
// Concurrency discipline: every status transition goes through a per-signal
// compare-and-set, so a sample arriving twice can never double-trigger.
// Executions are serialized per instrument in FIFO trigger order.
package signalmon

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"trading-corev1/internal/bus"
	"trading-corev1/internal/clock"
	"trading-corev1/internal/condition"
	"trading-corev1/internal/model"
)

// Executor applies a triggered signal to the market. The implementation
// owns retries; a returned error here is final for this attempt.
type Executor interface {
	Execute(ctx context.Context, sig model.Signal) (positionID string, err error)
}

// expiryScanInterval is how often the pending set is swept for TTLs.
const expiryScanInterval = time.Second

// tracked is one in-memory signal with its parsed predicate.
type tracked struct {
	mu   sync.Mutex
	sig  model.Signal
	node *condition.Node
}

// cas transitions the signal's status iff the from-state matches and the
// transition is legal. Returns true when this caller won the transition.
func (t *tracked) cas(from, to model.SignalStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sig.Status != from || !model.CanTransition(from, to) {
		return false
	}
	t.sig.Status = to
	return true
}

// revert undoes TRIGGERED back to PENDING after an execution failure. This
// is the one deliberate exception to the forward-only state machine.
func (t *tracked) revert() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sig.Status != model.StatusTriggered {
		return false
	}
	t.sig.Status = model.StatusPending
	t.sig.TriggeredAt = time.Time{}
	return true
}

func (t *tracked) snapshot() model.Signal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sig
}

// Monitor is the conditional-signal state machine.
type Monitor struct {
	broker *bus.Broker
	store  model.TickStore
	exec   Executor
	clk    clock.Clock
	log    *slog.Logger

	mu      sync.Mutex
	signals map[string]*tracked            // signal_id → tracked
	byInst  map[string]map[string]*tracked // instrument → signal_id → tracked
	ticks   map[string]samplePair          // instrument → price/volume samples
	inds    map[string]samplePair          // instrument|tf → indicator samples

	lanes map[string]*lane // instrument → execution lane

	triggered atomic.Uint64
	expired   atomic.Uint64

	// Optional metric hooks, set before Run.
	OnExpired   func()
	OnCancelled func()
}

type samplePair struct {
	cur  condition.Sample
	prev condition.Sample
}

// New creates a monitor. exec may not be nil.
func New(broker *bus.Broker, store model.TickStore, exec Executor, clk clock.Clock, log *slog.Logger) *Monitor {
	return &Monitor{
		broker:  broker,
		store:   store,
		exec:    exec,
		clk:     clk,
		log:     log.With("component", "signalmon"),
		signals: make(map[string]*tracked),
		byInst:  make(map[string]map[string]*tracked),
		ticks:   make(map[string]samplePair),
		inds:    make(map[string]samplePair),
		lanes:   make(map[string]*lane),
	}
}

// Run recovers active signals from the store, subscribes to the live
// streams, and blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.recover(ctx); err != nil {
		return err
	}

	indSub, err := m.broker.Subscribe("indicators:**")
	if err != nil {
		return err
	}
	defer m.broker.Unsubscribe(indSub)
	tickSub, err := m.broker.Subscribe("market:tick:*")
	if err != nil {
		return err
	}
	defer m.broker.Unsubscribe(tickSub)
	sigSub, err := m.broker.Subscribe("engine:signal:*")
	if err != nil {
		return err
	}
	defer m.broker.Unsubscribe(sigSub)
	execSub, err := m.broker.Subscribe("trading:executed:*")
	if err != nil {
		return err
	}
	defer m.broker.Unsubscribe(execSub)

	m.log.Info("signal monitor started", "recovered", len(m.signals))
	expiry := m.clk.After(expiryScanInterval)
	for {
		select {
		case <-ctx.Done():
			m.log.Info("signal monitor stopped",
				"triggered", m.triggered.Load(), "expired", m.expired.Load())
			return ctx.Err()
		case env, ok := <-indSub.C():
			if !ok {
				return nil
			}
			if set, ok := env.Payload.(model.IndicatorSet); ok {
				m.onIndicators(ctx, set)
			}
		case env, ok := <-tickSub.C():
			if !ok {
				return nil
			}
			if tick, ok := env.Payload.(model.Tick); ok {
				m.onTick(ctx, tick)
			}
		case env, ok := <-sigSub.C():
			if !ok {
				return nil
			}
			if sig, ok := env.Payload.(model.Signal); ok {
				m.Track(sig)
			}
		case env, ok := <-execSub.C():
			if !ok {
				return nil
			}
			if rep, ok := env.Payload.(model.ExecutionReport); ok {
				m.onExecutionReport(ctx, rep)
			}
		case <-expiry:
			m.scanExpiry(ctx)
			expiry = m.clk.After(expiryScanInterval)
		}
	}
}

// recover loads every still-active signal from the store.
func (m *Monitor) recover(ctx context.Context) error {
	active, err := m.store.SignalsByStatus(ctx,
		model.StatusPending, model.StatusTriggered, model.StatusExecuted)
	if err != nil {
		return err
	}
	for _, sig := range active {
		m.Track(sig)
	}
	return nil
}

// Track adds a signal to the working set. Signals with unparseable
// conditions are refused; the orchestrator validates before publishing, so
// this only fires on corrupted persisted state.
func (m *Monitor) Track(sig model.Signal) {
	node, err := condition.Parse(sig.Condition)
	if err != nil {
		m.log.Error("untrackable signal", "signal_id", sig.ID, "err", err)
		return
	}
	t := &tracked{sig: sig, node: node}
	m.mu.Lock()
	if _, dup := m.signals[sig.ID]; dup {
		m.mu.Unlock()
		return
	}
	m.signals[sig.ID] = t
	if m.byInst[sig.Instrument] == nil {
		m.byInst[sig.Instrument] = make(map[string]*tracked)
	}
	m.byInst[sig.Instrument][sig.ID] = t
	m.mu.Unlock()
	m.log.Info("tracking signal",
		"signal_id", sig.ID, "instrument", sig.Instrument, "status", string(sig.Status))
}

// onTick refreshes the per-instrument price/volume sample and evaluates.
func (m *Monitor) onTick(ctx context.Context, tick model.Tick) {
	m.mu.Lock()
	pair := m.ticks[tick.Instrument]
	pair.prev = pair.cur
	pair.cur = condition.Sample{
		"price":  tick.PriceRupees(),
		"volume": float64(tick.Qty),
	}
	m.ticks[tick.Instrument] = pair
	m.mu.Unlock()

	m.evaluate(ctx, tick.Instrument, 0)
}

// onIndicators refreshes the per-series indicator sample and evaluates.
func (m *Monitor) onIndicators(ctx context.Context, set model.IndicatorSet) {
	key := set.Instrument + "|" + set.TF.String()
	sample := make(condition.Sample, len(set.Values))
	for name, v := range set.Values {
		if v != nil {
			sample[name] = *v
		}
	}
	m.mu.Lock()
	pair := m.inds[key]
	pair.prev = pair.cur
	pair.cur = sample
	m.inds[key] = pair
	m.mu.Unlock()

	m.evaluate(ctx, set.Instrument, set.TF)
}

// evaluate walks the instrument's PENDING signals against the merged
// current and previous samples. tf filters indicator-driven evaluation to
// the matching series; tf 0 (tick updates) evaluates all of them.
func (m *Monitor) evaluate(ctx context.Context, instrument string, tf model.Timeframe) {
	m.mu.Lock()
	candidates := make([]*tracked, 0, len(m.byInst[instrument]))
	for _, t := range m.byInst[instrument] {
		candidates = append(candidates, t)
	}
	m.mu.Unlock()

	now := m.clk.Now()
	for _, t := range candidates {
		sig := t.snapshot()
		if sig.Status != model.StatusPending {
			continue
		}
		if tf != 0 && sig.TF != tf {
			continue
		}
		if !sig.ExpiresAt.After(now) {
			continue // the expiry scan owns this transition
		}
		cur, prev := m.mergedSamples(instrument, sig.TF)
		if !t.node.Eval(cur, prev) {
			continue
		}
		m.trigger(ctx, t, now)
	}
}

// mergedSamples joins tick fields (price, volume) with the indicator
// sample of the signal's timeframe.
func (m *Monitor) mergedSamples(instrument string, tf model.Timeframe) (cur, prev condition.Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tp := m.ticks[instrument]
	ip := m.inds[instrument+"|"+tf.String()]

	cur = make(condition.Sample, len(tp.cur)+len(ip.cur))
	prev = make(condition.Sample, len(tp.prev)+len(ip.prev))
	for k, v := range ip.cur {
		cur[k] = v
	}
	for k, v := range tp.cur {
		cur[k] = v
	}
	for k, v := range ip.prev {
		prev[k] = v
	}
	for k, v := range tp.prev {
		prev[k] = v
	}
	return cur, prev
}

// trigger performs the PENDING→TRIGGERED CAS and hands the signal to the
// instrument's execution lane. Only the first caller per signal wins.
func (m *Monitor) trigger(ctx context.Context, t *tracked, now time.Time) {
	if !t.cas(model.StatusPending, model.StatusTriggered) {
		return
	}
	t.mu.Lock()
	t.sig.TriggeredAt = now
	sig := t.sig
	t.mu.Unlock()

	m.triggered.Add(1)
	m.persist(ctx, sig)
	m.broker.Publish("engine:signal:triggered:"+sig.Instrument, sig)
	m.log.Info("signal triggered",
		"signal_id", sig.ID, "instrument", sig.Instrument, "action", string(sig.Action))

	m.laneFor(sig.Instrument).enqueue(ctx, t)
}

// executeOne hands one triggered signal to the executor and applies the
// outcome transition. Runs on the instrument's lane, never concurrently
// with another execution for the same instrument.
func (m *Monitor) executeOne(ctx context.Context, t *tracked) {
	sig := t.snapshot()
	if sig.Status != model.StatusTriggered {
		return // cancelled while queued
	}
	posID, err := m.exec.Execute(ctx, sig)
	if err != nil {
		m.onExecuteFailure(ctx, t, err)
		return
	}
	if !t.cas(model.StatusTriggered, model.StatusExecuted) {
		return
	}
	t.mu.Lock()
	t.sig.PositionID = posID
	sig = t.sig
	t.mu.Unlock()
	m.persist(ctx, sig)
	m.log.Info("signal executed",
		"signal_id", sig.ID, "instrument", sig.Instrument, "position_id", posID)

	// A close-out is terminal the moment it fills. Settle it here on the
	// lane rather than waiting for the execution report, which the broker
	// publishes before this transition lands and which may therefore find
	// no EXECUTED signal to match.
	if sig.PositionAction == model.PosCloseLong || sig.PositionAction == model.PosCloseShort {
		if t.cas(model.StatusExecuted, model.StatusClosed) {
			sig = t.snapshot()
			m.persist(ctx, sig)
			m.untrack(sig.ID)
			m.log.Info("signal closed", "signal_id", sig.ID, "position_id", posID)
		}
	}
}

// onExecuteFailure reverts a failed execution to PENDING so the signal can
// trigger again, unless its TTL has already passed.
func (m *Monitor) onExecuteFailure(ctx context.Context, t *tracked, err error) {
	sig := t.snapshot()
	m.log.Warn("execution failed",
		"signal_id", sig.ID, "instrument", sig.Instrument, "err", err)
	if !t.revert() {
		return
	}
	now := m.clk.Now()
	sig = t.snapshot()
	if !sig.ExpiresAt.After(now) {
		if t.cas(model.StatusPending, model.StatusExpired) {
			t.mu.Lock()
			t.sig.Reason = "ttl"
			sig = t.sig
			t.mu.Unlock()
			m.markExpired()
			m.persist(ctx, sig)
			m.untrack(sig.ID)
		}
		return
	}
	m.persist(ctx, sig)
}

// onExecutionReport closes out EXECUTED signals when their position closes.
func (m *Monitor) onExecutionReport(ctx context.Context, rep model.ExecutionReport) {
	if rep.Status != model.ExecClosed {
		return
	}
	m.mu.Lock()
	matches := make([]*tracked, 0, 2)
	for _, t := range m.byInst[rep.Instrument] {
		sig := t.snapshot()
		if sig.Status == model.StatusExecuted && sig.PositionID == rep.PositionID {
			matches = append(matches, t)
		}
	}
	m.mu.Unlock()

	// Both the opener and any add-on signals carry the position's ID once
	// executed; a close-out retires every one of them.
	for _, t := range matches {
		if t.cas(model.StatusExecuted, model.StatusClosed) {
			sig := t.snapshot()
			m.persist(ctx, sig)
			m.untrack(sig.ID)
			m.log.Info("signal closed", "signal_id", sig.ID, "position_id", rep.PositionID)
		}
	}
}

// scanExpiry expires every PENDING signal whose TTL has passed.
func (m *Monitor) scanExpiry(ctx context.Context) {
	now := m.clk.Now()
	m.mu.Lock()
	candidates := make([]*tracked, 0, len(m.signals))
	for _, t := range m.signals {
		candidates = append(candidates, t)
	}
	m.mu.Unlock()

	for _, t := range candidates {
		sig := t.snapshot()
		if sig.Status != model.StatusPending || sig.ExpiresAt.After(now) {
			continue
		}
		if t.cas(model.StatusPending, model.StatusExpired) {
			t.mu.Lock()
			t.sig.Reason = "ttl"
			sig = t.sig
			t.mu.Unlock()
			m.markExpired()
			m.persist(ctx, sig)
			m.untrack(sig.ID)
			m.log.Info("signal expired", "signal_id", sig.ID, "instrument", sig.Instrument)
		}
	}
}

// cancel marks a signal CANCELLED with a machine-readable reason.
func (m *Monitor) cancel(ctx context.Context, t *tracked, reason string) {
	t.mu.Lock()
	from := t.sig.Status
	t.mu.Unlock()
	if !t.cas(from, model.StatusCancelled) {
		return
	}
	t.mu.Lock()
	t.sig.Reason = reason
	sig := t.sig
	t.mu.Unlock()
	m.persist(ctx, sig)
	m.untrack(sig.ID)
	if m.OnCancelled != nil {
		m.OnCancelled()
	}
	m.log.Info("signal cancelled", "signal_id", sig.ID, "reason", reason)
}

func (m *Monitor) markExpired() {
	m.expired.Add(1)
	if m.OnExpired != nil {
		m.OnExpired()
	}
}

func (m *Monitor) untrack(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.signals[id]
	if !ok {
		return
	}
	delete(m.signals, id)
	sig := t.snapshot()
	if byID := m.byInst[sig.Instrument]; byID != nil {
		delete(byID, id)
	}
}

func (m *Monitor) persist(ctx context.Context, sig model.Signal) {
	if err := m.store.PutSignal(ctx, sig); err != nil {
		m.log.Error("signal persist failed", "signal_id", sig.ID, "err", err)
	}
}

// Tracked returns the number of signals in the working set.
func (m *Monitor) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.signals)
}

// Status returns a signal's current in-memory status.
func (m *Monitor) Status(id string) (model.SignalStatus, bool) {
	m.mu.Lock()
	t, ok := m.signals[id]
	m.mu.Unlock()
	if !ok {
		return "", false
	}
	return t.snapshot().Status, true
}
