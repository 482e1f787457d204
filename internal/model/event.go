package model

// CandleEvent is one closed candle as carried on the input stream.
type CandleEvent struct {
	Symbol    string  `json:"symbol"`
	Timeframe string  `json:"timeframe"`
	Timestamp int64   `json:"ts"` // epoch seconds, bucket close
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Tick converts the event into the kernel input row.
func (e CandleEvent) Tick() Tick {
	return Tick{
		"open":   Num(e.Open),
		"high":   Num(e.High),
		"low":    Num(e.Low),
		"close":  Num(e.Close),
		"volume": Num(e.Volume),
	}
}

// OutputResult is one node's computed value for one event, as published to
// downstream consumers.
type OutputResult struct {
	NodeID     uint32 `json:"node_id"`
	Kernel     string `json:"kernel"`
	Symbol     string `json:"symbol"`
	Timeframe  string `json:"timeframe"`
	Timestamp  int64  `json:"ts"`
	EventIndex uint64 `json:"event_index"`
	Value      Value  `json:"value"`
}
