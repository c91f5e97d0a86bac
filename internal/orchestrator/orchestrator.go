// Package orchestrator runs the periodic analysis cycle: snapshot the
// market state, fan out to the analyzer agents concurrently, aggregate
// their verdicts into a position-aware decision, and emit a conditional
// signal when conviction clears the configured bar.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"trading-corev1/internal/agent"
	"trading-corev1/internal/bus"
	"trading-corev1/internal/clock"
	"trading-corev1/internal/condition"
	"trading-corev1/internal/model"
)

// Auditor records decisions for post-hoc analysis. The journal implements
// it; a nil auditor disables recording.
type Auditor interface {
	RecordDecision(ctx context.Context, d model.TradingDecision) error
}

// Config tunes the cycle.
type Config struct {
	Instruments   []string
	TF            model.Timeframe
	CycleInterval time.Duration // default 60s
	AgentTimeout  time.Duration // default 20s
	MinConfidence float64       // default 0.55
	MaxPositions  int           // default 3
	AddToPct      float64       // default 0.5 of base quantity when adding
	SignalTTL     time.Duration // default 30m
	BaseQuantity  int64         // contracts per fresh entry
	Weights       map[string]float64
	RecentBars    int // snapshot depth, default 50
}

func (c *Config) fill() {
	if c.CycleInterval <= 0 {
		c.CycleInterval = 60 * time.Second
	}
	if c.AgentTimeout <= 0 {
		c.AgentTimeout = 20 * time.Second
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.55
	}
	if c.MaxPositions <= 0 {
		c.MaxPositions = 3
	}
	if c.AddToPct <= 0 {
		c.AddToPct = 0.5
	}
	if c.SignalTTL <= 0 {
		c.SignalTTL = 30 * time.Minute
	}
	if c.BaseQuantity <= 0 {
		c.BaseQuantity = 50
	}
	if c.RecentBars <= 0 {
		c.RecentBars = 50
	}
	if c.TF == 0 {
		c.TF = model.TF5m
	}
}

// Orchestrator is the cycle scheduler.
type Orchestrator struct {
	cfg     Config
	agents  []agent.Agent
	broker  *bus.Broker
	store   model.TickStore
	clk     clock.Clock
	auditor Auditor
	log     *slog.Logger

	cycles   uint64
	timeouts atomic.Uint64 // agents that missed the per-agent deadline

	// Optional metric hooks, set before Run.
	OnCycleDone    func(d time.Duration)
	OnAgentTimeout func()
}

// New wires an orchestrator. agents must be non-empty.
func New(cfg Config, agents []agent.Agent, broker *bus.Broker, store model.TickStore, clk clock.Clock, auditor Auditor, log *slog.Logger) (*Orchestrator, error) {
	cfg.fill()
	if len(agents) == 0 {
		return nil, fmt.Errorf("orchestrator: no agents configured")
	}
	if len(cfg.Instruments) == 0 {
		return nil, fmt.Errorf("orchestrator: no instruments configured")
	}
	return &Orchestrator{
		cfg:     cfg,
		agents:  agents,
		broker:  broker,
		store:   store,
		clk:     clk,
		auditor: auditor,
		log:     log.With("component", "orchestrator"),
	}, nil
}

// Run drives the cycle timer until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info("orchestrator started",
		"instruments", o.cfg.Instruments,
		"interval", o.cfg.CycleInterval.String(),
		"agents", len(o.agents))
	for {
		select {
		case <-ctx.Done():
			o.log.Info("orchestrator stopped", "cycles", o.cycles)
			return ctx.Err()
		case <-o.clk.After(o.cfg.CycleInterval):
			o.RunCycle(ctx)
		}
	}
}

// RunCycle executes one full cycle across every configured instrument.
// Exported for replay and tests.
func (o *Orchestrator) RunCycle(ctx context.Context) {
	o.cycles++
	started := o.clk.Now()
	for _, inst := range o.cfg.Instruments {
		if err := o.cycleInstrument(ctx, inst); err != nil {
			o.log.Error("cycle aborted", "instrument", inst, "err", err)
		}
	}
	if o.OnCycleDone != nil {
		o.OnCycleDone(o.clk.Now().Sub(started))
	}
}

func (o *Orchestrator) cycleInstrument(ctx context.Context, instrument string) error {
	snap, err := o.snapshot(ctx, instrument)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	verdicts := o.fanOut(ctx, snap)

	totalOpen, err := o.countOpen(ctx)
	if err != nil {
		return fmt.Errorf("positions: %w", err)
	}
	decision := Aggregate(instrument, verdicts, o.cfg.Weights, GateInput{
		InstrumentPositions: snap.Positions,
		TotalOpen:           totalOpen,
		MaxPositions:        o.cfg.MaxPositions,
	})
	decision.CycleAt = snap.Now
	o.attachBracket(&decision, snap)

	if o.auditor != nil {
		if err := o.auditor.RecordDecision(ctx, decision); err != nil {
			o.log.Warn("decision audit failed", "instrument", instrument, "err", err)
		}
	}
	o.broker.Publish(decision.Channel(), decision)

	if decision.PositionAction == model.PosNone || decision.Confidence < o.cfg.MinConfidence {
		o.log.Debug("no signal this cycle",
			"instrument", instrument,
			"action", string(decision.Action),
			"confidence", decision.Confidence)
		return nil
	}

	sig, err := o.buildSignal(decision, verdicts, snap)
	if err != nil {
		o.log.Warn("signal rejected", "instrument", instrument, "err", err)
		return nil
	}
	if err := o.store.PutSignal(ctx, sig); err != nil {
		return fmt.Errorf("persist signal: %w", err)
	}
	o.broker.Publish(sig.Channel(), sig)
	o.log.Info("signal emitted",
		"signal_id", sig.ID,
		"instrument", sig.Instrument,
		"action", string(sig.Action),
		"confidence", sig.Confidence,
		"expires_at", sig.ExpiresAt)
	return nil
}

// snapshot reads a consistent market view once at cycle start; agents all
// score the same data even if fresher ticks arrive mid-cycle.
func (o *Orchestrator) snapshot(ctx context.Context, instrument string) (agent.Snapshot, error) {
	snap := agent.Snapshot{
		Instrument: instrument,
		TF:         o.cfg.TF,
		Now:        o.clk.Now(),
	}
	if tick, err := o.store.LatestTick(ctx, instrument); err == nil {
		snap.LastTick = tick
	} else if err != model.ErrNotFound {
		return snap, err
	}
	if set, err := o.store.LatestIndicators(ctx, instrument, o.cfg.TF); err == nil {
		snap.Indicators = set
	} else if err != model.ErrNotFound {
		return snap, err
	}
	bars, err := o.store.RecentBars(ctx, instrument, o.cfg.TF, o.cfg.RecentBars)
	if err != nil {
		return snap, err
	}
	snap.RecentBars = bars
	positions, err := o.store.OpenPositions(ctx, instrument)
	if err != nil {
		return snap, err
	}
	snap.Positions = positions
	return snap, nil
}

// fanOut runs every agent concurrently with the per-agent timeout. Late or
// failed agents abstain.
func (o *Orchestrator) fanOut(ctx context.Context, snap agent.Snapshot) []model.AgentVerdict {
	type result struct {
		v   model.AgentVerdict
		err error
	}

	var wg sync.WaitGroup
	results := make([]result, len(o.agents))
	for i, a := range o.agents {
		wg.Add(1)
		go func(i int, a agent.Agent) {
			defer wg.Done()
			actx, cancel := context.WithTimeout(ctx, o.cfg.AgentTimeout)
			defer cancel()

			done := make(chan result, 1)
			go func() {
				v, err := a.Analyze(actx, snap)
				done <- result{v, err}
			}()
			select {
			case r := <-done:
				results[i] = r
			case <-actx.Done():
				results[i] = result{err: actx.Err()}
				o.timeouts.Add(1)
				if o.OnAgentTimeout != nil {
					o.OnAgentTimeout()
				}
			}
		}(i, a)
	}
	wg.Wait()

	verdicts := make([]model.AgentVerdict, 0, len(o.agents))
	for i, r := range results {
		if r.err != nil {
			o.log.Warn("agent abstained",
				"agent", o.agents[i].ID(),
				"instrument", snap.Instrument,
				"err", r.err)
			continue
		}
		if r.v.Confidence < 0 || r.v.Confidence > 1 || math.IsNaN(r.v.Confidence) {
			o.log.Warn("agent verdict out of range",
				"agent", o.agents[i].ID(), "confidence", r.v.Confidence)
			continue
		}
		verdicts = append(verdicts, r.v)
	}
	return verdicts
}

func (o *Orchestrator) countOpen(ctx context.Context) (int, error) {
	all, err := o.store.OpenPositions(ctx, "")
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// attachBracket derives entry/stop/target from the last price and ATR for
// fresh entries. Close-outs carry no bracket.
func (o *Orchestrator) attachBracket(d *model.TradingDecision, snap agent.Snapshot) {
	if d.PositionAction != model.PosOpenNew && d.PositionAction != model.PosAddToLong && d.PositionAction != model.PosAddToShort {
		return
	}
	price, ok := snap.Price()
	if !ok {
		return
	}
	atr, ok := snap.Ind(model.IndATR14)
	if !ok || atr <= 0 {
		// Market entry without a bracket; the monitor still expires it.
		d.EntryPrice = paise(price)
		return
	}
	d.EntryPrice = paise(price)
	switch d.Action {
	case model.ActionBuy:
		d.StopLoss = paise(price - 1.5*atr)
		d.TakeProfit = paise(price + 2.5*atr)
	case model.ActionSell:
		d.StopLoss = paise(price + 1.5*atr)
		d.TakeProfit = paise(price - 2.5*atr)
	}
}

func (o *Orchestrator) buildSignal(d model.TradingDecision, verdicts []model.AgentVerdict, snap agent.Snapshot) (model.Signal, error) {
	cond := strongestCondition(d.Action, verdicts, o.cfg.Weights)
	if len(cond) == 0 {
		cond = condition.Marshal(condition.Immediate())
	} else if _, err := condition.Parse(cond); err != nil {
		return model.Signal{}, fmt.Errorf("agent condition invalid: %w", err)
	}

	qty := o.cfg.BaseQuantity
	if d.PositionAction == model.PosAddToLong || d.PositionAction == model.PosAddToShort {
		qty = int64(float64(qty) * o.cfg.AddToPct)
		if qty < 1 {
			qty = 1
		}
	}

	sig := model.Signal{
		ID:             uuid.NewString(),
		Instrument:     d.Instrument,
		TF:             o.cfg.TF,
		Action:         d.Action,
		Status:         model.StatusPending,
		Confidence:     d.Confidence,
		Condition:      cond,
		PositionAction: d.PositionAction,
		EntryPrice:     d.EntryPrice,
		StopLoss:       d.StopLoss,
		TakeProfit:     d.TakeProfit,
		Quantity:       qty,
		CreatedAt:      snap.Now,
		ExpiresAt:      snap.Now.Add(o.cfg.SignalTTL),
		Metadata:       map[string]any{"rationale": d.Rationale},
	}
	if err := sig.Validate(); err != nil {
		return model.Signal{}, err
	}
	return sig, nil
}

// Cycles returns how many cycles have completed.
func (o *Orchestrator) Cycles() uint64 { return o.cycles }

func paise(rupees float64) int64 {
	return int64(math.Round(rupees * 100))
}
