// Package core assembles the whole pipeline from configuration: tick
// source, candle builder, indicator engine, orchestrator, signal monitor,
// executor, gateway, and the observability surface.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"trading-corev1/internal/agent"
	"trading-corev1/internal/api"
	"trading-corev1/internal/bus"
	"trading-corev1/internal/candles"
	"trading-corev1/internal/clock"
	"trading-corev1/internal/config"
	"trading-corev1/internal/execution"
	"trading-corev1/internal/gateway"
	"trading-corev1/internal/indicator"
	"trading-corev1/internal/journal"
	"trading-corev1/internal/llm"
	"trading-corev1/internal/markethours"
	"trading-corev1/internal/metrics"
	"trading-corev1/internal/model"
	"trading-corev1/internal/notification"
	"trading-corev1/internal/orchestrator"
	"trading-corev1/internal/portfolio"
	"trading-corev1/internal/replay"
	"trading-corev1/internal/ringbuf"
	"trading-corev1/internal/signalmon"
	"trading-corev1/internal/store"
	redisstore "trading-corev1/internal/store/redis"
	"trading-corev1/pkg/smartconnect"
)

// Core is the assembled engine.
type Core struct {
	cfg *config.Config
	log *slog.Logger

	clk     clock.Clock
	broker  *bus.Broker
	store   model.TickStore
	journal *journal.Journal
	metrics *metrics.Metrics
	health  *metrics.HealthStatus

	source   model.TickSource
	recorder *replay.Recorder
	ring     *ringbuf.Ring
	builder  *candles.Builder
	indics   *indicator.Engine
	orch     *orchestrator.Orchestrator
	monitor  *signalmon.Monitor
	executor *execution.Executor
	tracker  *portfolio.Tracker
	notify   *notification.Dispatcher
	gateway  *gateway.Server
	obs      *metrics.Server
}

// New builds a Core from configuration. Nothing runs until Run.
func New(cfg *config.Config, log *slog.Logger) (*Core, error) {
	c := &Core{cfg: cfg, log: log}

	if cfg.Replay.Enabled {
		// Replay drives a virtual clock forward tick by tick.
		c.clk = clock.NewVirtual(time.Unix(0, 0))
	} else {
		c.clk = clock.Wall{}
	}

	c.broker = bus.New(cfg.Bus.QueueCap)
	// A per-core registry keeps repeated assembly (tests, embedded use)
	// from tripping duplicate registration.
	reg := prometheus.NewRegistry()
	c.metrics = metrics.New(reg)
	c.health = metrics.NewHealthStatus()
	c.broker.OnDrop = func(pattern string) {
		c.metrics.BusDropsTotal.WithLabelValues(pattern).Inc()
	}
	c.broker.OnUnrouted = func(string) { c.metrics.BusUnroutedTotal.Inc() }

	if err := c.buildStore(); err != nil {
		return nil, err
	}

	jnl, err := journal.Open(cfg.Journal.Path, log)
	if err != nil {
		return nil, err
	}
	c.journal = jnl

	if err := c.buildSource(); err != nil {
		return nil, err
	}

	tfs, err := cfg.ParseTimeframes()
	if err != nil {
		return nil, err
	}
	c.ring = ringbuf.New(4096)
	c.builder = candles.New(tfs, c.broker, c.store)
	c.builder.OnOutOfOrder = func() { c.metrics.DroppedTicks.Inc() }
	c.builder.OnBarClosed = func(b model.Bar) {
		c.metrics.CandlesTotal.WithLabelValues(b.TF.String()).Inc()
	}

	// VWAP accumulates from the 9:15 IST open, not from midnight.
	c.indics = indicator.NewEngine(c.broker, c.store, markethours.OpenOffset(), log)

	agents, err := c.buildAgents()
	if err != nil {
		return nil, err
	}
	c.orch, err = orchestrator.New(orchestrator.Config{
		Instruments:   cfg.Instruments,
		TF:            cfg.DecisionTF(),
		CycleInterval: cfg.CycleInterval(),
		AgentTimeout:  cfg.AgentTimeout(),
		MinConfidence: cfg.Engine.MinConfidence,
		MaxPositions:  cfg.Engine.MaxPositions,
		AddToPct:      cfg.Engine.AddToPositionPct,
		SignalTTL:     cfg.SignalTTL(),
		BaseQuantity:  cfg.Engine.DefaultQuantity,
		Weights:       cfg.Agents.Weights,
	}, agents, c.broker, c.store, c.clk, c.journal, log)
	if err != nil {
		return nil, err
	}
	c.orch.OnCycleDone = func(d time.Duration) { c.metrics.CycleDur.Observe(d.Seconds()) }
	c.orch.OnAgentTimeout = func() { c.metrics.AgentTimeouts.Inc() }

	adapter, err := c.buildAdapter()
	if err != nil {
		return nil, err
	}
	c.executor = execution.New(adapter, c.store, c.broker, c.clk, c.journal, log)
	c.executor.OnRetry = func() { c.metrics.OrderRetries.Inc() }
	c.monitor = signalmon.New(c.broker, c.store, c.executor, c.clk, log)
	c.monitor.OnExpired = func() { c.metrics.SignalsExpired.Inc() }
	c.monitor.OnCancelled = func() { c.metrics.SignalsCancelled.Inc() }

	c.tracker = portfolio.New(c.broker, c.store, c.clk, cfg.Instruments, portfolio.Limits{
		MaxDailyLoss: cfg.Risk.MaxDailyLoss,
		MaxExposure:  cfg.Risk.MaxExposure,
	}, log)
	c.notify = notification.NewDispatcher(c.broker, c.clk, c.buildSinks(), log)

	c.gateway = gateway.NewServer(gateway.Config{
		Addr:             cfg.Gateway.Addr,
		MaxChannels:      cfg.Gateway.MaxChannels,
		MaxWildcards:     cfg.Gateway.MaxWildcards,
		ClientRatePerSec: cfg.Gateway.ClientRatePerSec,
		OutboundBuffer:   cfg.Gateway.OutboundBuffer,
		IdleTimeout:      cfg.GatewayIdleTimeout(),
		Tokens:           cfg.Gateway.Tokens,
	}, c.broker, log)
	c.gateway.OnConnCount = func(n int) { c.metrics.GatewayConnections.Set(float64(n)) }
	c.gateway.OnDataDrop = func() { c.metrics.GatewayDropsTotal.Inc() }

	rest := api.NewRouter(c.store, c.journal, c.tracker, cfg.Instruments, log)
	c.obs = metrics.NewServer(cfg.Metrics.Addr, reg, c.health, rest, log)
	return c, nil
}

// buildSinks assembles alert sinks from config. Sinks with no
// credentials are left out; with none configured the dispatcher logs.
func (c *Core) buildSinks() []notification.Notifier {
	var sinks []notification.Notifier
	if c.cfg.Alerts.TelegramBotToken != "" && c.cfg.Alerts.TelegramChatID != "" {
		sinks = append(sinks, notification.NewTelegram(c.cfg.Alerts.TelegramBotToken, c.cfg.Alerts.TelegramChatID))
	}
	if c.cfg.Alerts.WebhookURL != "" {
		sinks = append(sinks, notification.NewWebhook(c.cfg.Alerts.WebhookURL))
	}
	return sinks
}

func (c *Core) buildStore() error {
	switch c.cfg.Store.Backend {
	case "redis":
		s, err := redisstore.New(redisstore.Config{
			Addr:     c.cfg.Store.RedisAddr,
			Password: c.cfg.Store.RedisPassword,
			DB:       c.cfg.Store.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("core: redis store: %w", err)
		}
		c.store = s
	default:
		c.store = store.NewMemory()
	}
	return nil
}

func (c *Core) buildSource() error {
	if c.cfg.Replay.Enabled {
		src, err := replay.Open(c.cfg.Replay.Path, c.cfg.Instruments, time.Time{}, c.log,
			replay.WithSpeed(c.cfg.Replay.Speed),
			replay.WithVirtualClock(c.clk.(*clock.Virtual)))
		if err != nil {
			return err
		}
		c.source = src
		c.health.SetFeedConnected(true)
		return nil
	}

	sc := smartconnect.New(smartconnect.Config{
		APIKey:     c.cfg.Broker.AngelAPIKey,
		ClientCode: c.cfg.Broker.AngelClientCode,
		Password:   c.cfg.Broker.AngelPassword,
		TOTPSecret: c.cfg.Broker.AngelTOTPSecret,
	}, c.log)
	if err := sc.Login(context.Background()); err != nil {
		return fmt.Errorf("core: broker login: %w", err)
	}
	feed := smartconnect.NewFeed(sc, c.cfg.Broker.ExchangeType, c.listings(), c.log)
	feed.OnConnect = func() { c.health.SetFeedConnected(true) }
	c.source = feed

	if c.cfg.Replay.Record {
		rec, err := replay.OpenRecorder(c.cfg.Replay.Path, 0)
		if err != nil {
			return err
		}
		c.recorder = rec
	}
	return nil
}

func (c *Core) buildAdapter() (model.BrokerAdapter, error) {
	if c.cfg.Broker.Mode == "live" {
		sc := smartconnect.New(smartconnect.Config{
			APIKey:     c.cfg.Broker.AngelAPIKey,
			ClientCode: c.cfg.Broker.AngelClientCode,
			Password:   c.cfg.Broker.AngelPassword,
			TOTPSecret: c.cfg.Broker.AngelTOTPSecret,
		}, c.log)
		if err := sc.Login(context.Background()); err != nil {
			return nil, fmt.Errorf("core: broker login: %w", err)
		}
		return smartconnect.NewLiveAdapter(sc, c.listings()), nil
	}

	lastPrice := func(instrument string) (int64, bool) {
		tick, err := c.store.LatestTick(context.Background(), instrument)
		if err != nil {
			return 0, false
		}
		return tick.Price, true
	}
	return execution.NewPaperAdapter(lastPrice, c.clk, int64(c.cfg.Broker.SlippageBps)), nil
}

func (c *Core) buildAgents() ([]agent.Agent, error) {
	var agents []agent.Agent
	for _, name := range c.cfg.Agents.Enabled {
		if name == "llm" {
			client, err := llm.New(llm.Config{
				BaseURL: c.cfg.LLM.BaseURL,
				APIKey:  c.cfg.LLM.APIKey,
				Model:   c.cfg.LLM.Model,
			})
			if err != nil {
				c.log.Warn("llm agent unavailable, using rule-based fallback", "err", err)
				agents = append(agents, agent.NewLLM(nil, c.log))
				continue
			}
			agents = append(agents, agent.NewLLM(client, c.log))
			continue
		}
		a, err := agent.Build(name)
		if err != nil {
			return nil, fmt.Errorf("core: %w", err)
		}
		agents = append(agents, a)
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("core: no agents enabled")
	}
	return agents, nil
}

func (c *Core) listings() map[string]smartconnect.Instrument {
	out := make(map[string]smartconnect.Instrument, len(c.cfg.Broker.Listings))
	for name, l := range c.cfg.Broker.Listings {
		out[name] = smartconnect.Instrument{
			Symbol: l.Symbol, Token: l.Token, Exchange: l.Exchange, Lot: l.Lot,
		}
	}
	return out
}

// Broker exposes the in-process bus, mainly for tests and tooling.
func (c *Core) Broker() *bus.Broker { return c.broker }

// Store exposes the snapshot store.
func (c *Core) Store() model.TickStore { return c.store }

// Clock exposes the engine time source.
func (c *Core) Clock() clock.Clock { return c.clk }

// Run starts every component and blocks until ctx is cancelled or the tick
// source ends (replay). Components share ctx; resources are released on the
// way out.
func (c *Core) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(runCtx); err != nil && runCtx.Err() == nil {
				c.log.Error("component failed", "component", name, "err", err)
				cancel()
			}
		}()
	}

	start("gateway", c.gateway.Run)
	start("observability", c.obs.Run)
	start("indicators", c.indics.Run)
	start("monitor", c.monitor.Run)
	start("orchestrator", c.orch.Run)
	start("portfolio", c.tracker.Run)
	start("notify", c.notify.Run)
	c.watchCounters(runCtx, &wg)

	// Tick path: source → ring buffer → candle builder.
	tickCh := make(chan model.Tick, 1024)
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.pump(runCtx, tickCh)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.consume(runCtx)
	}()

	streamErr := c.source.Stream(runCtx, tickCh)
	if streamErr == nil {
		// Replay finished; give in-flight work a moment to settle.
		c.log.Info("tick source ended")
	}
	cancel()
	wg.Wait()

	if c.recorder != nil {
		if err := c.recorder.Close(); err != nil {
			c.log.Error("tick archive close failed", "err", err)
		}
	}
	c.journal.Close()
	c.store.Close()

	if streamErr != nil && ctx.Err() == nil {
		return streamErr
	}
	return ctx.Err()
}

// pump moves ticks from the source channel into the ring buffer.
func (c *Core) pump(ctx context.Context, tickCh <-chan model.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-tickCh:
			c.metrics.TicksTotal.Inc()
			c.health.SetLastTickTime(tick.TS)
			if c.recorder != nil {
				if err := c.recorder.Record(tick); err != nil {
					c.log.Error("tick archive write failed", "err", err)
					c.health.SetJournalOK(false)
				}
			}
			if !c.ring.Push(tick) {
				c.metrics.DroppedTicks.Inc()
			}
		}
	}
}

// consume drains the ring buffer into the candle builder.
func (c *Core) consume(ctx context.Context) {
	for {
		tick, ok := c.ring.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				c.builderFlush(ctx)
				return
			case <-time.After(time.Millisecond):
			}
			continue
		}
		c.builder.OnTick(ctx, tick)
	}
}

func (c *Core) builderFlush(context.Context) {
	// Closing a throwaway channel makes the builder flush in-flight bars.
	// A fresh context keeps the final store writes from being rejected.
	done := make(chan model.Tick)
	close(done)
	c.builder.Run(context.Background(), done)
}

// watchCounters mirrors signal lifecycle events into Prometheus.
func (c *Core) watchCounters(ctx context.Context, wg *sync.WaitGroup) {
	watch := func(pattern string, counter interface{ Inc() }) {
		sub, err := c.broker.Subscribe(pattern)
		if err != nil {
			c.log.Error("counter subscription failed", "pattern", pattern, "err", err)
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer c.broker.Unsubscribe(sub)
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-sub.C():
					if !ok {
						return
					}
					counter.Inc()
				}
			}
		}()
	}
	watch("engine:signal:*", c.metrics.SignalsEmitted)
	watch("engine:signal:triggered:*", c.metrics.SignalsTriggered)
	watch("trading:executed:*", c.metrics.OrdersPlaced.WithLabelValues("reported"))
	watch("indicators:**", c.metrics.IndicatorSetsTotal)

	if sub, err := c.broker.Subscribe("trading:portfolio"); err == nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer c.broker.Unsubscribe(sub)
			for {
				select {
				case <-ctx.Done():
					return
				case env, ok := <-sub.C():
					if !ok {
						return
					}
					if s, ok := env.Payload.(portfolio.Summary); ok {
						c.metrics.OpenPositions.Set(float64(s.OpenPositions))
					}
				}
			}
		}()
	}
}
