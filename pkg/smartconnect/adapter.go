package smartconnect

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"trading-corev1/internal/model"
)

// Instrument maps an engine instrument name to its exchange listing.
type Instrument struct {
	Symbol   string // trading symbol, e.g. NIFTY29AUG24FUT
	Token    string // exchange scrip token
	Exchange string // NFO, NSE
	Lot      int64
}

// LiveAdapter places real orders through SmartAPI. It implements
// model.BrokerAdapter with the retryable/fatal error split the executor's
// retry loop relies on.
type LiveAdapter struct {
	c           *Client
	instruments map[string]Instrument // engine name → listing
}

// NewLiveAdapter wires a broker adapter over an authenticated client.
func NewLiveAdapter(c *Client, instruments map[string]Instrument) *LiveAdapter {
	return &LiveAdapter{c: c, instruments: instruments}
}

// PlaceOrder submits an order and reports the result.
func (a *LiveAdapter) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	inst, ok := a.instruments[req.Instrument]
	if !ok {
		return model.OrderResult{}, &model.BrokerError{
			Code: "UNKNOWN_INSTRUMENT", Msg: req.Instrument, Retryable: false,
		}
	}

	params := map[string]any{
		"variety":         "NORMAL",
		"tradingsymbol":   inst.Symbol,
		"symboltoken":     inst.Token,
		"exchange":        inst.Exchange,
		"transactiontype": transactionType(req.Side),
		"ordertype":       string(req.Type),
		"producttype":     "INTRADAY",
		"duration":        "DAY",
		"quantity":        strconv.FormatInt(req.Quantity, 10),
	}
	if req.Type == model.OrderLimit {
		params["price"] = paiseToRupees(req.Price)
	}

	var out apiResponse
	resp, err := a.c.request(ctx).SetBody(params).SetResult(&out).Post(routeOrder)
	if err != nil {
		// Transport failure: the venue may never have seen the order.
		return model.OrderResult{}, &model.BrokerError{Code: "NETWORK", Msg: err.Error(), Retryable: true}
	}
	if err := classify(resp, out); err != nil {
		return model.OrderResult{}, err
	}

	var data struct {
		OrderID string `json:"orderid"`
	}
	if err := json.Unmarshal(out.Data, &data); err != nil || data.OrderID == "" {
		return model.OrderResult{}, &model.BrokerError{Code: "BAD_RESPONSE", Msg: out.Message, Retryable: false}
	}
	// SmartAPI acknowledges placement only; fills arrive via the order book.
	// Report the request price as provisional average.
	return model.OrderResult{OrderID: data.OrderID, Status: "PLACED", AvgPrice: req.Price}, nil
}

// CancelOrder withdraws a pending order.
func (a *LiveAdapter) CancelOrder(ctx context.Context, orderID string) error {
	var out apiResponse
	resp, err := a.c.request(ctx).
		SetBody(map[string]string{"variety": "NORMAL", "orderid": orderID}).
		SetResult(&out).
		Post(routeCancel)
	if err != nil {
		return &model.BrokerError{Code: "NETWORK", Msg: err.Error(), Retryable: true}
	}
	return classify(resp, out)
}

// Positions fetches the venue's open position book.
func (a *LiveAdapter) Positions(ctx context.Context) ([]model.Position, error) {
	var out apiResponse
	resp, err := a.c.request(ctx).SetResult(&out).Get(routePosition)
	if err != nil {
		return nil, &model.BrokerError{Code: "NETWORK", Msg: err.Error(), Retryable: true}
	}
	if err := classify(resp, out); err != nil {
		return nil, err
	}

	var rows []struct {
		TradingSymbol string `json:"tradingsymbol"`
		NetQty        string `json:"netqty"`
		AvgNetPrice   string `json:"avgnetprice"`
	}
	if len(out.Data) > 0 && string(out.Data) != "null" {
		if err := json.Unmarshal(out.Data, &rows); err != nil {
			return nil, &model.BrokerError{Code: "BAD_RESPONSE", Msg: err.Error(), Retryable: false}
		}
	}

	var positions []model.Position
	for _, row := range rows {
		qty, _ := strconv.ParseInt(row.NetQty, 10, 64)
		if qty == 0 {
			continue
		}
		side := model.SideLong
		if qty < 0 {
			side = model.SideShort
			qty = -qty
		}
		avg, _ := strconv.ParseFloat(row.AvgNetPrice, 64)
		positions = append(positions, model.Position{
			Instrument: a.nameFor(row.TradingSymbol),
			Side:       side,
			Quantity:   qty,
			AvgPrice:   int64(avg * 100),
			Status:     model.PositionOpen,
			OpenedAt:   time.Now(),
		})
	}
	return positions, nil
}

func (a *LiveAdapter) nameFor(symbol string) string {
	for name, inst := range a.instruments {
		if inst.Symbol == symbol {
			return name
		}
	}
	return symbol
}

// classify maps a SmartAPI response to the broker error taxonomy: HTTP 5xx
// and rate limiting retry, everything the venue rejected outright is fatal.
func classify(resp *resty.Response, out apiResponse) error {
	if resp.StatusCode() >= 500 || resp.StatusCode() == 429 {
		return &model.BrokerError{
			Code:      "HTTP_" + strconv.Itoa(resp.StatusCode()),
			Msg:       out.Message,
			Retryable: true,
		}
	}
	if resp.IsError() || !out.Status {
		code := out.ErrorCode
		if code == "" {
			code = "REJECTED"
		}
		return &model.BrokerError{Code: code, Msg: out.Message, Retryable: false}
	}
	return nil
}

func transactionType(side model.Side) string {
	if side == model.SideShort {
		return "SELL"
	}
	return "BUY"
}

func paiseToRupees(p int64) string {
	return fmt.Sprintf("%d.%02d", p/100, p%100)
}
