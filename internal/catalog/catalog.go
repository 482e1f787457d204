// Package catalog is the indicator metadata registry: per-indicator id,
// aliases, parameter specs with defaults, and output names. Callers use it
// to build node metadata; the kernel library uses it for parameter
// defaulting. It performs lightweight lookup only, not full validation.
package catalog

import "strings"

// Param describes one indicator parameter and its default.
type Param struct {
	Name    string
	Default float64
}

// Meta describes one indicator.
type Meta struct {
	ID             string
	Aliases        []string
	Params         []Param
	Outputs        []string
	RequiresOHLC   bool
	RequiresVolume bool
	Signal         bool // boolean event outputs rather than numeric lines
}

// Default returns the named parameter's default, or 0 when the indicator
// does not declare it.
func (m *Meta) Default(param string) float64 {
	for _, p := range m.Params {
		if p.Name == param {
			return p.Default
		}
	}
	return 0
}

var indicators = []Meta{
	{ID: "sma", Aliases: []string{"mean", "rolling_mean"}, Params: []Param{{"period", 20}}, Outputs: []string{"sma"}},
	{ID: "ema", Aliases: []string{"rolling_ema"}, Params: []Param{{"period", 20}}, Outputs: []string{"ema"}},
	{ID: "wma", Aliases: []string{"rolling_wma"}, Params: []Param{{"period", 14}}, Outputs: []string{"wma"}},
	{ID: "rsi", Params: []Param{{"period", 14}}, Outputs: []string{"rsi"}},
	{ID: "roc", Params: []Param{{"period", 12}}, Outputs: []string{"roc"}},
	{ID: "cmo", Params: []Param{{"period", 14}}, Outputs: []string{"cmo"}},
	{ID: "coppock", Params: []Param{{"wma_period", 10}, {"fast_roc", 11}, {"slow_roc", 14}}, Outputs: []string{"coppock"}},
	{ID: "macd", Params: []Param{{"fast_period", 12}, {"slow_period", 26}, {"signal_period", 9}}, Outputs: []string{"macd", "signal", "histogram"}},
	{ID: "bbands", Aliases: []string{"bb_upper", "bb_lower"}, Params: []Param{{"period", 20}, {"std_dev", 2}}, Outputs: []string{"upper", "middle", "lower"}},
	{ID: "atr", Params: []Param{{"period", 14}}, Outputs: []string{"atr"}, RequiresOHLC: true},
	{ID: "donchian", Params: []Param{{"period", 20}}, Outputs: []string{"upper", "middle", "lower"}, RequiresOHLC: true},
	{ID: "keltner", Params: []Param{{"ema_period", 20}, {"atr_period", 10}, {"multiplier", 2}}, Outputs: []string{"upper", "middle", "lower"}, RequiresOHLC: true},
	{ID: "stochastic", Aliases: []string{"stoch_k", "stoch_d"}, Params: []Param{{"k_period", 14}, {"d_period", 3}, {"smooth", 1}}, Outputs: []string{"k", "d"}, RequiresOHLC: true},
	{ID: "adx", Params: []Param{{"period", 14}}, Outputs: []string{"adx"}, RequiresOHLC: true},
	{ID: "cci", Params: []Param{{"period", 20}}, Outputs: []string{"cci"}, RequiresOHLC: true},
	{ID: "williams_r", Aliases: []string{"willr"}, Params: []Param{{"period", 14}}, Outputs: []string{"williams_r"}, RequiresOHLC: true},
	{ID: "mfi", Params: []Param{{"period", 14}}, Outputs: []string{"mfi"}, RequiresOHLC: true, RequiresVolume: true},
	{ID: "obv", Outputs: []string{"obv"}, RequiresVolume: true},
	{ID: "vwap", Outputs: []string{"vwap"}, RequiresOHLC: true, RequiresVolume: true},
	{ID: "cross", Outputs: []string{"cross"}, Signal: true},
	{ID: "crossup", Outputs: []string{"crossup"}, Signal: true},
	{ID: "crossdown", Outputs: []string{"crossdown"}, Signal: true},
	{ID: "rising", Outputs: []string{"rising"}, Signal: true},
	{ID: "falling", Outputs: []string{"falling"}, Signal: true},
	{ID: "rising_pct", Params: []Param{{"pct", 5}}, Outputs: []string{"rising_pct"}, Signal: true},
	{ID: "falling_pct", Params: []Param{{"pct", 5}}, Outputs: []string{"falling_pct"}, Signal: true},
	{ID: "in_channel", Outputs: []string{"in_channel"}, Signal: true},
	{ID: "out", Outputs: []string{"out"}, Signal: true},
	{ID: "enter", Outputs: []string{"enter"}, Signal: true},
	{ID: "exit", Outputs: []string{"exit"}, Signal: true},
}

var byName = func() map[string]*Meta {
	m := make(map[string]*Meta, len(indicators)*2)
	for i := range indicators {
		meta := &indicators[i]
		m[meta.ID] = meta
		for _, alias := range meta.Aliases {
			m[alias] = meta
		}
	}
	return m
}()

// Find looks up an indicator by id or alias, case-insensitively.
func Find(name string) (*Meta, bool) {
	meta, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	return meta, ok
}

// All returns the catalog contents in declaration order.
func All() []Meta {
	out := make([]Meta, len(indicators))
	copy(out, indicators)
	return out
}
