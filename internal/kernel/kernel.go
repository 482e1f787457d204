// Package kernel defines the per-indicator incremental state machines.
//
// Each incrementally-computable indicator has one State implementation
// carrying the minimal sufficient statistic for O(1) updates. Step never
// mutates a state in place — it returns the successor state, so a caller
// holding the old value can still snapshot it.
package kernel

import (
	"strconv"
	"strings"

	"ta-enginev1/internal/model"
)

// Kind identifies one incremental kernel state machine.
type Kind uint8

const (
	KindGeneric Kind = iota
	KindRSI
	KindATR
	KindStochastic
	KindVWAP
)

// KindFromName maps a kernel id to its state machine kind. Kernels without
// bespoke incremental logic run as the generic passthrough.
func KindFromName(name string) Kind {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "rsi":
		return KindRSI
	case "atr":
		return KindATR
	case "stochastic":
		return KindStochastic
	case "vwap":
		return KindVWAP
	default:
		return KindGeneric
	}
}

func (k Kind) String() string {
	switch k {
	case KindRSI:
		return "rsi"
	case KindATR:
		return "atr"
	case KindStochastic:
		return "stochastic"
	case KindVWAP:
		return "vwap"
	default:
		return "generic"
	}
}

// State is one kernel's incremental state. Implementations are immutable
// value types; Step returns the successor.
type State interface {
	Kind() Kind

	// Step consumes one tick. input is the declared input field's value;
	// tick is the full row, for kernels that need more than one field.
	Step(input model.Value, tick model.Tick) (State, model.Value)
}

// Initialize creates the fresh state for a kernel kind from keyword args.
func Initialize(kind Kind, kwargs map[string]model.Value) State {
	switch kind {
	case KindRSI:
		return RSIState{Period: kwargInt(kwargs, "period", 14)}
	case KindATR:
		return ATRState{Period: kwargInt(kwargs, "period", 14)}
	case KindStochastic:
		return StochasticState{KPeriod: kwargInt(kwargs, "k_period", 14)}
	case KindVWAP:
		return VWAPState{}
	default:
		return GenericState{}
	}
}

func kwargInt(kwargs map[string]model.Value, key string, fallback int) int {
	if v, ok := kwargs[key]; ok && v.Kind() == model.KindNumber && v.Number() > 0 {
		return int(v.Number())
	}
	return fallback
}

func tickNum(tick model.Tick, field string) (float64, bool) {
	v := tick.Field(field)
	if v.Kind() != model.KindNumber {
		return 0, false
	}
	return v.Number(), true
}

func joinFloats(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func splitFloats(s string) []float64 {
	if s == "" {
		return nil
	}
	var out []float64
	for _, part := range strings.Split(s, ",") {
		if v, err := strconv.ParseFloat(part, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}
