package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trading-corev1/internal/clock"
	"trading-corev1/internal/model"
)

// PriceSource supplies the last traded price in paise for fill simulation.
type PriceSource func(instrument string) (int64, bool)

// PaperAdapter simulates a broker: every market order fills immediately at
// the last price plus configured slippage, limit orders fill at their
// limit. No margin checks, no partial fills.
type PaperAdapter struct {
	mu        sync.Mutex
	lastPrice PriceSource
	clk       clock.Clock
	orderSeq  int64
	fills     []Fill

	slippageBps int64 // e.g. 5 = 0.05% adverse move per fill
}

// Fill is one simulated execution, kept for inspection in tests and
// paper-trading reviews.
type Fill struct {
	OrderID    string    `json:"order_id"`
	Instrument string    `json:"instrument"`
	Side       model.Side `json:"side"`
	Quantity   int64     `json:"qty"`
	Price      int64     `json:"price"` // paise, slippage applied
	FilledAt   time.Time `json:"filled_at"`
}

// NewPaperAdapter creates a paper broker. lastPrice resolves fill prices
// for market orders.
func NewPaperAdapter(lastPrice PriceSource, clk clock.Clock, slippageBps int64) *PaperAdapter {
	return &PaperAdapter{
		lastPrice:   lastPrice,
		clk:         clk,
		slippageBps: slippageBps,
		fills:       make([]Fill, 0, 256),
	}
}

func (p *PaperAdapter) PlaceOrder(_ context.Context, req model.OrderRequest) (model.OrderResult, error) {
	price := req.Price
	if req.Type == model.OrderMarket {
		last, ok := p.lastPrice(req.Instrument)
		if !ok {
			return model.OrderResult{}, &model.BrokerError{
				Code: "NO_PRICE", Msg: "no last price for " + req.Instrument, Retryable: true,
			}
		}
		price = last
	}
	if req.Quantity <= 0 {
		return model.OrderResult{}, &model.BrokerError{
			Code: "BAD_QTY", Msg: fmt.Sprintf("quantity %d", req.Quantity), Retryable: false,
		}
	}

	// Slippage always moves against the taker.
	slip := price * p.slippageBps / 10000
	if req.Side == model.SideLong {
		price += slip
	} else {
		price -= slip
	}

	p.mu.Lock()
	p.orderSeq++
	id := fmt.Sprintf("paper-%d", p.orderSeq)
	p.fills = append(p.fills, Fill{
		OrderID:    id,
		Instrument: req.Instrument,
		Side:       req.Side,
		Quantity:   req.Quantity,
		Price:      price,
		FilledAt:   p.clk.Now(),
	})
	p.mu.Unlock()

	return model.OrderResult{OrderID: id, Status: "FILLED", AvgPrice: price}, nil
}

func (p *PaperAdapter) CancelOrder(context.Context, string) error {
	// Paper orders fill instantly; there is never anything to cancel.
	return nil
}

func (p *PaperAdapter) Positions(context.Context) ([]model.Position, error) {
	// The position book lives in the TickStore; the paper venue holds none.
	return nil, nil
}

// Fills returns a copy of every simulated fill.
func (p *PaperAdapter) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Fill, len(p.fills))
	copy(out, p.fills)
	return out
}
