package notification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"trading-corev1/internal/bus"
	"trading-corev1/internal/clock"
	"trading-corev1/internal/model"
	"trading-corev1/internal/portfolio"
)

const sendTimeout = 15 * time.Second

// Dispatcher turns bus events into alerts and delivers them to every
// configured sink. Delivery failures are logged, never fatal.
type Dispatcher struct {
	broker *bus.Broker
	clk    clock.Clock
	sinks  []Notifier
	log    *slog.Logger
}

// NewDispatcher creates a dispatcher over the given sinks. With no sinks
// it still runs, delivering to the log only.
func NewDispatcher(broker *bus.Broker, clk clock.Clock, sinks []Notifier, log *slog.Logger) *Dispatcher {
	if len(sinks) == 0 {
		sinks = []Notifier{NewLogNotifier(log)}
	}
	return &Dispatcher{
		broker: broker,
		clk:    clk,
		sinks:  sinks,
		log:    log.With("component", "notify"),
	}
}

// Run watches trading events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	sub, err := d.broker.Subscribe("engine:signal:triggered:*")
	if err != nil {
		return err
	}
	defer d.broker.Unsubscribe(sub)

	execSub, err := d.broker.Subscribe("trading:executed:*")
	if err != nil {
		return err
	}
	defer d.broker.Unsubscribe(execSub)

	pfSub, err := d.broker.Subscribe("trading:portfolio")
	if err != nil {
		return err
	}
	defer d.broker.Unsubscribe(pfSub)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-sub.C():
			if !ok {
				return nil
			}
			if sig, ok := env.Payload.(model.Signal); ok {
				d.deliver(ctx, d.signalAlert(sig))
			}
		case env, ok := <-execSub.C():
			if !ok {
				return nil
			}
			if rep, ok := env.Payload.(model.ExecutionReport); ok {
				d.deliver(ctx, d.executionAlert(rep))
			}
		case env, ok := <-pfSub.C():
			if !ok {
				return nil
			}
			if s, ok := env.Payload.(portfolio.Summary); ok && len(s.Warnings) > 0 {
				d.deliver(ctx, Alert{
					Level: LevelCritical,
					Title: "Risk limit breached",
					Message: fmt.Sprintf("%s (total P&L %s, exposure %s)",
						strings.Join(s.Warnings, "; "), rupees(s.TotalPnL), rupees(s.Exposure)),
					TS: d.clk.Now(),
				})
			}
		}
	}
}

func (d *Dispatcher) signalAlert(sig model.Signal) Alert {
	return Alert{
		Level: LevelInfo,
		Title: fmt.Sprintf("%s %s signal triggered", sig.Instrument, sig.Action),
		Message: fmt.Sprintf("confidence %.2f, qty %d, entry %s",
			sig.Confidence, sig.Quantity, rupees(sig.EntryPrice)),
		TS: d.clk.Now(),
	}
}

func (d *Dispatcher) executionAlert(rep model.ExecutionReport) Alert {
	a := Alert{TS: d.clk.Now()}
	switch rep.Status {
	case model.ExecRejected:
		a.Level = LevelWarning
		a.Title = fmt.Sprintf("%s order rejected", rep.Instrument)
		a.Message = rep.Reason
	case model.ExecClosed:
		a.Level = LevelInfo
		a.Title = fmt.Sprintf("%s position closed", rep.Instrument)
		a.Message = fmt.Sprintf("qty %d at %s", rep.Quantity, rupees(rep.AvgPrice))
	default:
		a.Level = LevelInfo
		a.Title = fmt.Sprintf("%s order filled", rep.Instrument)
		a.Message = fmt.Sprintf("%s qty %d at %s", rep.Side, rep.Quantity, rupees(rep.AvgPrice))
	}
	return a
}

func (d *Dispatcher) deliver(ctx context.Context, alert Alert) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	for _, sink := range d.sinks {
		if err := sink.Send(sendCtx, alert); err != nil {
			d.log.Warn("alert delivery failed", "title", alert.Title, "err", err)
		}
	}
}
