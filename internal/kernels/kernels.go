// Package kernels is the stateless batch numeric kernel library. It computes
// whole-series indicator outputs by name, delegating the windowed math to
// go-talib and hand-rolling the handful of kernels talib does not cover.
//
// Contract: every output is a full-length array, NaN-padded across its
// warm-up span. Parameters resolve kw_<name> first, then arg_<n>, then the
// catalog default.
package kernels

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	talib "github.com/markcheno/go-talib"

	"ta-enginev1/internal/catalog"
	"ta-enginev1/internal/dataset"
)

var (
	// ErrUnknownKernel is returned when the name resolves to no catalog entry.
	ErrUnknownKernel = errors.New("unknown kernel")

	// ErrMissingOHLCV is returned when an OHLC-dependent kernel runs without
	// candle columns.
	ErrMissingOHLCV = errors.New("kernel requires ohlcv columns")
)

// Series is one named kernel output. Signal outputs carry 0/1 event flags
// instead of numeric lines.
type Series struct {
	Name   string
	Values []float64
	Signal bool
}

// Compute runs the named kernel. children are positional input series
// (already defaulted by the caller); bars supplies OHLCV columns for
// kernels that need more than their declared input.
func Compute(name string, meta map[string]string, children [][]float64, bars *dataset.OHLCV) ([]Series, error) {
	cat, ok := catalog.Find(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKernel, name)
	}
	if cat.RequiresOHLC && (bars == nil || bars.Rows() == 0) {
		return nil, fmt.Errorf("%w: %s", ErrMissingOHLCV, cat.ID)
	}

	p := params{meta: meta, cat: cat}
	src := child(children, 0, bars)

	switch cat.ID {
	case "sma":
		period := p.intVal("period", 0)
		return lines(cat, nanPad(talib.Sma(src, period), period-1)), nil
	case "ema":
		period := p.intVal("period", 0)
		return lines(cat, nanPad(talib.Ema(src, period), period-1)), nil
	case "wma":
		period := p.intVal("period", 0)
		return lines(cat, nanPad(talib.Wma(src, period), period-1)), nil
	case "rsi":
		period := p.intVal("period", 0)
		return lines(cat, nanPad(talib.Rsi(src, period), period)), nil
	case "roc":
		period := p.intVal("period", 0)
		return lines(cat, nanPad(talib.Roc(src, period), period)), nil
	case "cmo":
		period := p.intVal("period", 0)
		return lines(cat, nanPad(talib.Cmo(src, period), period)), nil
	case "coppock":
		wmaPeriod := p.intVal("wma_period", 0)
		fastROC := p.intVal("fast_roc", 1)
		slowROC := p.intVal("slow_roc", 2)
		return lines(cat, coppock(src, wmaPeriod, fastROC, slowROC)), nil
	case "macd":
		fast := p.intVal("fast_period", 0)
		slow := p.intVal("slow_period", 1)
		signal := p.intVal("signal_period", 2)
		macd, sig, hist := talib.Macd(src, fast, slow, signal)
		lookback := slow + signal - 2
		return lines(cat, nanPad(macd, lookback), nanPad(sig, lookback), nanPad(hist, lookback)), nil
	case "bbands":
		period := p.intVal("period", 0)
		dev := p.floatVal("std_dev", 1)
		upper, middle, lower := talib.BBands(src, period, dev, dev, talib.SMA)
		return lines(cat, nanPad(upper, period-1), nanPad(middle, period-1), nanPad(lower, period-1)), nil
	case "atr":
		period := p.intVal("period", 0)
		return lines(cat, nanPad(talib.Atr(bars.High, bars.Low, bars.Close, period), period)), nil
	case "donchian":
		period := p.intVal("period", 0)
		upper, middle, lower := donchian(bars.High, bars.Low, period)
		return lines(cat, upper, middle, lower), nil
	case "keltner":
		emaPeriod := p.intVal("ema_period", 0)
		atrPeriod := p.intVal("atr_period", 1)
		mult := p.floatVal("multiplier", 2)
		upper, middle, lower := keltner(bars, emaPeriod, atrPeriod, mult)
		return lines(cat, upper, middle, lower), nil
	case "stochastic":
		kPeriod := p.intVal("k_period", 0)
		dPeriod := p.intVal("d_period", 1)
		smooth := p.intVal("smooth", 2)
		k, d := talib.Stoch(bars.High, bars.Low, bars.Close, kPeriod, smooth, talib.SMA, dPeriod, talib.SMA)
		kLook := kPeriod + smooth - 2
		return lines(cat, nanPad(k, kLook), nanPad(d, kLook+dPeriod-1)), nil
	case "adx":
		period := p.intVal("period", 0)
		return lines(cat, nanPad(talib.Adx(bars.High, bars.Low, bars.Close, period), 2*period-1)), nil
	case "cci":
		period := p.intVal("period", 0)
		return lines(cat, nanPad(talib.Cci(bars.High, bars.Low, bars.Close, period), period-1)), nil
	case "williams_r":
		period := p.intVal("period", 0)
		return lines(cat, nanPad(talib.WillR(bars.High, bars.Low, bars.Close, period), period-1)), nil
	case "mfi":
		period := p.intVal("period", 0)
		return lines(cat, nanPad(talib.Mfi(bars.High, bars.Low, bars.Close, bars.Volume, period), period)), nil
	case "obv":
		return lines(cat, talib.Obv(src, bars.Volume)), nil
	case "vwap":
		return lines(cat, vwap(bars)), nil
	case "cross":
		return signals(cat, cross(src, child(children, 1, bars))), nil
	case "crossup":
		return signals(cat, crossUp(src, child(children, 1, bars))), nil
	case "crossdown":
		return signals(cat, crossDown(src, child(children, 1, bars))), nil
	case "rising":
		return signals(cat, rising(src, 0)), nil
	case "falling":
		return signals(cat, falling(src, 0)), nil
	case "rising_pct":
		return signals(cat, rising(src, p.floatVal("pct", 0))), nil
	case "falling_pct":
		return signals(cat, falling(src, p.floatVal("pct", 0))), nil
	case "in_channel":
		return signals(cat, inChannel(src, child(children, 1, bars), child(children, 2, bars))), nil
	case "out":
		return signals(cat, outChannel(src, child(children, 1, bars), child(children, 2, bars))), nil
	case "enter":
		return signals(cat, enterChannel(src, child(children, 1, bars), child(children, 2, bars))), nil
	case "exit":
		return signals(cat, exitChannel(src, child(children, 1, bars), child(children, 2, bars))), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKernel, cat.ID)
	}
}

// params resolves kernel parameters against node metadata and the catalog.
type params struct {
	meta map[string]string
	cat  *catalog.Meta
}

// lookup reads kw_<name>, then arg_<idx>; first match wins.
func (p params) lookup(name string, idx int) (string, bool) {
	if v, ok := p.meta["kw_"+name]; ok {
		return v, true
	}
	if v, ok := p.meta["arg_"+strconv.Itoa(idx)]; ok {
		return v, true
	}
	return "", false
}

func (p params) floatVal(name string, idx int) float64 {
	if raw, ok := p.lookup(name, idx); ok {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	}
	return p.cat.Default(name)
}

func (p params) intVal(name string, idx int) int {
	return int(p.floatVal(name, idx))
}

// child returns the n-th positional input, defaulting to the partition close.
func child(children [][]float64, n int, bars *dataset.OHLCV) []float64 {
	if n < len(children) && children[n] != nil {
		return children[n]
	}
	if bars != nil {
		return bars.Close
	}
	return nil
}

// nanPad overwrites the warm-up span with NaN; talib leaves zeros there.
func nanPad(values []float64, lookback int) []float64 {
	if lookback > len(values) {
		lookback = len(values)
	}
	for i := 0; i < lookback; i++ {
		values[i] = math.NaN()
	}
	return values
}

func lines(cat *catalog.Meta, series ...[]float64) []Series {
	out := make([]Series, len(series))
	for i, values := range series {
		out[i] = Series{Name: cat.Outputs[i], Values: values}
	}
	return out
}

func signals(cat *catalog.Meta, flags []bool) []Series {
	values := make([]float64, len(flags))
	for i, f := range flags {
		if f {
			values[i] = 1
		}
	}
	return []Series{{Name: cat.Outputs[0], Values: values, Signal: true}}
}

func vwap(bars *dataset.OHLCV) []float64 {
	out := make([]float64, bars.Rows())
	var pvSum, vSum float64
	for i := range out {
		typical := (bars.High[i] + bars.Low[i] + bars.Close[i]) / 3
		pvSum += typical * bars.Volume[i]
		vSum += bars.Volume[i]
		if vSum == 0 {
			out[i] = math.NaN()
		} else {
			out[i] = pvSum / vSum
		}
	}
	return out
}

func donchian(high, low []float64, period int) (upper, middle, lower []float64) {
	n := len(high)
	upper = make([]float64, n)
	middle = make([]float64, n)
	lower = make([]float64, n)
	for i := 0; i < n; i++ {
		if i < period-1 {
			upper[i], middle[i], lower[i] = math.NaN(), math.NaN(), math.NaN()
			continue
		}
		hh, ll := high[i], low[i]
		for j := i - period + 1; j < i; j++ {
			hh = math.Max(hh, high[j])
			ll = math.Min(ll, low[j])
		}
		upper[i], lower[i] = hh, ll
		middle[i] = (hh + ll) / 2
	}
	return upper, middle, lower
}

func keltner(bars *dataset.OHLCV, emaPeriod, atrPeriod int, mult float64) (upper, middle, lower []float64) {
	middle = nanPad(talib.Ema(bars.Close, emaPeriod), emaPeriod-1)
	atr := nanPad(talib.Atr(bars.High, bars.Low, bars.Close, atrPeriod), atrPeriod)
	n := len(middle)
	upper = make([]float64, n)
	lower = make([]float64, n)
	for i := 0; i < n; i++ {
		upper[i] = middle[i] + mult*atr[i]
		lower[i] = middle[i] - mult*atr[i]
	}
	return upper, middle, lower
}

func coppock(src []float64, wmaPeriod, fastROC, slowROC int) []float64 {
	fast := talib.Roc(src, fastROC)
	slow := talib.Roc(src, slowROC)
	sum := make([]float64, len(src))
	for i := range sum {
		sum[i] = fast[i] + slow[i]
	}
	lookback := slowROC + wmaPeriod - 1
	if fastROC > slowROC {
		lookback = fastROC + wmaPeriod - 1
	}
	return nanPad(talib.Wma(sum, wmaPeriod), lookback)
}
