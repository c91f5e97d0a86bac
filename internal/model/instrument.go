package model

import (
	"strings"
	"sync"
)

// Instrument describes a tradeable instrument/symbol.
type Instrument struct {
	Symbol         string `json:"symbol"` // canonical, e.g. "BANKNIFTY"
	Exchange       string `json:"exchange"`
	Token          string `json:"token"` // vendor token, e.g. Angel One numeric token
	InstrumentType string `json:"instrument_type"` // EQ, FUT, CE, PE
	LotSize        int64  `json:"lot_size"`
	TickSize       int64  `json:"tick_size"` // minimum price movement in paise
}

// SymbolRegistry resolves vendor-specific aliases to one canonical symbol.
// Canonical symbols are upper-case with no separators.
type SymbolRegistry struct {
	mu      sync.RWMutex
	aliases map[string]string     // alias → canonical
	instrs  map[string]Instrument // canonical → instrument
}

// NewSymbolRegistry creates an empty registry.
func NewSymbolRegistry() *SymbolRegistry {
	return &SymbolRegistry{
		aliases: make(map[string]string),
		instrs:  make(map[string]Instrument),
	}
}

// Add registers an instrument under its canonical symbol plus any aliases
// (vendor tokens, dashed or spaced variants).
func (r *SymbolRegistry) Add(in Instrument, aliases ...string) {
	canon := Canonicalize(in.Symbol)
	in.Symbol = canon
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instrs[canon] = in
	r.aliases[canon] = canon
	for _, a := range aliases {
		r.aliases[Canonicalize(a)] = canon
	}
	if in.Token != "" {
		r.aliases[Canonicalize(in.Token)] = canon
	}
}

// Resolve maps any known alias to the canonical symbol.
// Unknown inputs canonicalize to themselves.
func (r *SymbolRegistry) Resolve(alias string) string {
	key := Canonicalize(alias)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if canon, ok := r.aliases[key]; ok {
		return canon
	}
	return key
}

// Lookup returns the instrument for a canonical symbol or alias.
func (r *SymbolRegistry) Lookup(alias string) (Instrument, bool) {
	canon := r.Resolve(alias)
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.instrs[canon]
	return in, ok
}

// Canonicalize normalizes a symbol: upper-case, separators stripped.
func Canonicalize(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}
