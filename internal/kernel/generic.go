package kernel

import "ta-enginev1/internal/model"

// GenericState is the passthrough for kernel kinds without bespoke
// incremental logic. It holds nothing and always emits null.
type GenericState struct{}

func (GenericState) Kind() Kind { return KindGeneric }

func (s GenericState) Step(_ model.Value, _ model.Tick) (State, model.Value) {
	return s, model.Null()
}
