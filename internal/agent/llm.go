package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"trading-corev1/internal/llm"
	"trading-corev1/internal/model"
)

// Completer is the slice of the LLM client this agent needs.
type Completer interface {
	Complete(ctx context.Context, msgs []llm.Message) (string, error)
}

// LLM asks a language model to read the indicator snapshot and answer with
// a strict JSON verdict. Any failure (transport, parse, out-of-range) falls
// back to a deterministic rule verdict so the cycle never stalls on the
// model endpoint.
type LLM struct {
	client   Completer
	fallback Agent
	log      *slog.Logger
}

// NewLLM wraps a completer. client may be nil, in which case every cycle
// uses the fallback directly.
func NewLLM(client Completer, log *slog.Logger) *LLM {
	return &LLM{
		client:   client,
		fallback: NewMomentum(),
		log:      log.With("component", "agent.llm"),
	}
}

func (a *LLM) ID() string { return "llm" }

const llmSystemPrompt = `You are an intraday analyst for Indian index derivatives.
Given an indicator snapshot, reply with ONLY a JSON object:
{"action":"BUY|SELL|HOLD|EXIT","confidence":0.0-1.0,"reasoning":"one sentence"}`

type llmVerdict struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func (a *LLM) Analyze(ctx context.Context, snap Snapshot) (model.AgentVerdict, error) {
	if a.client == nil {
		return a.delegated(ctx, snap, "no model configured")
	}
	if snap.Indicators == nil {
		return hold(a.ID(), snap.Instrument, "no indicators yet"), nil
	}

	reply, err := a.client.Complete(ctx, []llm.Message{
		{Role: "system", Content: llmSystemPrompt},
		{Role: "user", Content: a.prompt(snap)},
	})
	if err != nil {
		a.log.Warn("model call failed, using fallback", "err", err)
		return a.delegated(ctx, snap, "model unavailable")
	}

	v, err := parseLLMVerdict(reply)
	if err != nil {
		a.log.Warn("unparseable model reply, using fallback", "err", err)
		return a.delegated(ctx, snap, "model reply unparseable")
	}
	return model.AgentVerdict{
		AgentID:    a.ID(),
		Instrument: snap.Instrument,
		Action:     v.action,
		Confidence: v.confidence,
		Reasoning:  v.reasoning,
	}, nil
}

func (a *LLM) delegated(ctx context.Context, snap Snapshot, why string) (model.AgentVerdict, error) {
	v, err := a.fallback.Analyze(ctx, snap)
	if err != nil {
		return hold(a.ID(), snap.Instrument, why), nil
	}
	v.AgentID = a.ID()
	v.Reasoning = "fallback (" + why + "): " + v.Reasoning
	return v, nil
}

func (a *LLM) prompt(snap Snapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "instrument=%s tf=%s\n", snap.Instrument, snap.TF)
	if p, ok := snap.Price(); ok {
		fmt.Fprintf(&sb, "price=%.2f\n", p)
	}
	for _, name := range model.IndicatorNames {
		if v, ok := snap.Ind(name); ok {
			fmt.Fprintf(&sb, "%s=%.4f\n", name, v)
		}
	}
	fmt.Fprintf(&sb, "open_positions=%d\n", len(snap.Positions))
	return sb.String()
}

type parsedVerdict struct {
	action     model.Action
	confidence float64
	reasoning  string
}

// parseLLMVerdict extracts the JSON object from the reply, tolerating code
// fences around it but nothing else.
func parseLLMVerdict(reply string) (parsedVerdict, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return parsedVerdict{}, fmt.Errorf("no JSON object in reply")
	}
	var raw llmVerdict
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return parsedVerdict{}, err
	}
	action := model.Action(strings.ToUpper(strings.TrimSpace(raw.Action)))
	switch action {
	case model.ActionBuy, model.ActionSell, model.ActionHold, model.ActionExit:
	default:
		return parsedVerdict{}, fmt.Errorf("unknown action %q", raw.Action)
	}
	if raw.Confidence < 0 || raw.Confidence > 1 {
		return parsedVerdict{}, fmt.Errorf("confidence %v out of range", raw.Confidence)
	}
	return parsedVerdict{action: action, confidence: raw.Confidence, reasoning: raw.Reasoning}, nil
}
