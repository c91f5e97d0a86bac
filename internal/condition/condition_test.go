package condition

import (
	"encoding/json"
	"testing"
)

func TestLeafOps(t *testing.T) {
	cur := Sample{"price": 105.0}
	cases := []struct {
		op   Op
		val  float64
		want bool
	}{
		{OpGE, 105, true},
		{OpGE, 106, false},
		{OpGT, 104.5, true},
		{OpLT, 110, true},
		{OpLE, 105, true},
		{OpEQ, 105, true},
		{OpEQ, 104, false},
	}
	for _, c := range cases {
		n := Leaf("price", c.op, c.val)
		if got := n.Eval(cur, nil); got != c.want {
			t.Errorf("price %s %v: got %v want %v", c.op, c.val, got, c.want)
		}
	}
}

func TestMissingFieldIsFalse(t *testing.T) {
	n := Leaf("rsi_14", OpGT, 70)
	if n.Eval(Sample{"price": 100}, nil) {
		t.Fatal("leaf over missing field must be false")
	}
}

func TestCombinators(t *testing.T) {
	cur := Sample{"price": 105, "rsi_14": 65}
	and := And(Leaf("price", OpGE, 100), Leaf("rsi_14", OpLT, 70))
	if !and.Eval(cur, nil) {
		t.Fatal("AND should hold")
	}
	or := Or(Leaf("price", OpLT, 100), Leaf("rsi_14", OpLT, 70))
	if !or.Eval(cur, nil) {
		t.Fatal("OR should hold")
	}
	not := Not(Leaf("price", OpLT, 100))
	if !not.Eval(cur, nil) {
		t.Fatal("NOT should hold")
	}
}

func TestEmptyAndIsImmediatelyTrue(t *testing.T) {
	if !Immediate().Eval(Sample{}, nil) {
		t.Fatal("empty AND must be vacuously true")
	}
}

func TestCrossUp(t *testing.T) {
	n := CrossUp("macd_value", "macd_signal")

	prev := Sample{"macd_value": -0.5, "macd_signal": 0.1}
	cur := Sample{"macd_value": 0.3, "macd_signal": 0.2}
	if !n.Eval(cur, prev) {
		t.Fatal("cross up transition not detected")
	}
	// Already above on both samples — no transition.
	if n.Eval(cur, Sample{"macd_value": 0.4, "macd_signal": 0.2}) {
		t.Fatal("cross up fired without a transition")
	}
	// No previous sample — cannot evaluate the transition.
	if n.Eval(cur, nil) {
		t.Fatal("cross up fired with no previous sample")
	}
}

func TestCrossDown(t *testing.T) {
	n := CrossDown("ema_20", "ema_50")
	prev := Sample{"ema_20": 101, "ema_50": 100}
	cur := Sample{"ema_20": 99, "ema_50": 100}
	if !n.Eval(cur, prev) {
		t.Fatal("cross down transition not detected")
	}
}

func TestParseRejectsFreeText(t *testing.T) {
	if _, err := Parse(json.RawMessage(`"price should go up"`)); err == nil {
		t.Fatal("free-text condition must be rejected")
	}
	if _, err := Parse(nil); err == nil {
		t.Fatal("empty condition must be rejected")
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	raw := Marshal(Leaf("price", OpGE, 100))
	if _, err := Parse(raw); err != nil {
		t.Fatalf("valid condition rejected: %v", err)
	}
	bad := json.RawMessage(`{"kind":"leaf","field":"vibes","op":">=","value":1}`)
	if _, err := Parse(bad); err == nil {
		t.Fatal("unknown field must be rejected")
	}
	badOp := json.RawMessage(`{"kind":"leaf","field":"price","op":"~","value":1}`)
	if _, err := Parse(badOp); err == nil {
		t.Fatal("unknown op must be rejected")
	}
}

func TestRoundTripKeepsSemantics(t *testing.T) {
	n := And(Leaf("price", OpGE, 105), CrossUp("macd_value", "macd_signal"))
	parsed, err := Parse(Marshal(n))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	prev := Sample{"price": 104, "macd_value": -1, "macd_signal": 0}
	cur := Sample{"price": 106, "macd_value": 1, "macd_signal": 0}
	if !parsed.Eval(cur, prev) {
		t.Fatal("parsed condition lost semantics")
	}
}

func TestFields(t *testing.T) {
	n := And(Leaf("price", OpGE, 1), CrossUp("ema_20", "ema_50"))
	got := map[string]bool{}
	for _, f := range n.Fields() {
		got[f] = true
	}
	for _, want := range []string{"price", "ema_20", "ema_50"} {
		if !got[want] {
			t.Errorf("missing field %q in %v", want, got)
		}
	}
}
