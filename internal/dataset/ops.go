package dataset

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrInvalidFactor is returned for a zero resampling factor.
	ErrInvalidFactor = errors.New("factor must be positive")

	// ErrUnsupportedAggregation is returned for an unknown downsample aggregation.
	ErrUnsupportedAggregation = errors.New("unsupported aggregation")

	// ErrUnsupportedFillMode is returned for an unknown sync fill mode.
	ErrUnsupportedFillMode = errors.New("unsupported sync fill mode")
)

// Downsample buckets a series by factor and reduces each bucket with the
// named aggregation (first, last, mean, sum, max, min). The output timestamp
// for a bucket is its last input timestamp.
func Downsample(timestamps []int64, values []float64, factor int, agg string) ([]int64, []float64, error) {
	if len(timestamps) != len(values) {
		return nil, nil, fmt.Errorf("%w: timestamps %d values %d", ErrLengthMismatch, len(timestamps), len(values))
	}
	if factor <= 0 {
		return nil, nil, ErrInvalidFactor
	}
	if factor == 1 || len(timestamps) == 0 {
		return append([]int64(nil), timestamps...), append([]float64(nil), values...), nil
	}

	outTS := make([]int64, 0, (len(timestamps)+factor-1)/factor)
	outValues := make([]float64, 0, cap(outTS))

	for i := 0; i < len(timestamps); i += factor {
		end := i + factor
		if end > len(timestamps) {
			end = len(timestamps)
		}
		bucket := values[i:end]
		outTS = append(outTS, timestamps[end-1])

		var v float64
		switch agg {
		case "first":
			v = bucket[0]
		case "last":
			v = bucket[len(bucket)-1]
		case "mean":
			sum := 0.0
			for _, x := range bucket {
				sum += x
			}
			v = sum / float64(len(bucket))
		case "sum":
			for _, x := range bucket {
				v += x
			}
		case "max":
			v = math.Inf(-1)
			for _, x := range bucket {
				v = math.Max(v, x)
			}
		case "min":
			v = math.Inf(1)
			for _, x := range bucket {
				v = math.Min(v, x)
			}
		default:
			return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedAggregation, agg)
		}
		outValues = append(outValues, v)
	}

	return outTS, outValues, nil
}

// UpsampleFFill repeats each value factor times, forward-filling between
// input rows. The final row is emitted once.
func UpsampleFFill(timestamps []int64, values []float64, factor int) ([]int64, []float64, error) {
	if len(timestamps) != len(values) {
		return nil, nil, fmt.Errorf("%w: timestamps %d values %d", ErrLengthMismatch, len(timestamps), len(values))
	}
	if factor <= 0 {
		return nil, nil, ErrInvalidFactor
	}
	if factor == 1 || len(timestamps) == 0 {
		return append([]int64(nil), timestamps...), append([]float64(nil), values...), nil
	}

	outTS := make([]int64, 0, (len(timestamps)-1)*factor+1)
	outValues := make([]float64, 0, cap(outTS))

	for i := range timestamps {
		outTS = append(outTS, timestamps[i])
		outValues = append(outValues, values[i])
		if i < len(timestamps)-1 {
			for j := 0; j < factor-1; j++ {
				outTS = append(outTS, timestamps[i])
				outValues = append(outValues, values[i])
			}
		}
	}
	return outTS, outValues, nil
}

// SyncTimeframe resamples a source series onto reference timestamps using
// either forward-fill ("ffill") or linear interpolation ("linear").
func SyncTimeframe(sourceTS []int64, sourceValues []float64, referenceTS []int64, fill string) ([]float64, error) {
	if len(sourceTS) != len(sourceValues) {
		return nil, fmt.Errorf("%w: timestamps %d values %d", ErrLengthMismatch, len(sourceTS), len(sourceValues))
	}
	if len(referenceTS) == 0 {
		return nil, nil
	}
	if len(sourceTS) == 0 {
		return make([]float64, len(referenceTS)), nil
	}

	switch fill {
	case "ffill":
		return syncFFill(sourceTS, sourceValues, referenceTS), nil
	case "linear":
		return syncLinear(sourceTS, sourceValues, referenceTS), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFillMode, fill)
	}
}

func syncFFill(sourceTS []int64, sourceValues []float64, referenceTS []int64) []float64 {
	out := make([]float64, 0, len(referenceTS))
	pos := 0
	last := sourceValues[0]
	for _, ts := range referenceTS {
		for pos < len(sourceTS) && sourceTS[pos] <= ts {
			last = sourceValues[pos]
			pos++
		}
		out = append(out, last)
	}
	return out
}

func syncLinear(sourceTS []int64, sourceValues []float64, referenceTS []int64) []float64 {
	out := make([]float64, 0, len(referenceTS))
	for _, ts := range referenceTS {
		i := sort.Search(len(sourceTS), func(n int) bool { return sourceTS[n] >= ts })
		switch {
		case i < len(sourceTS) && sourceTS[i] == ts:
			out = append(out, sourceValues[i])
		case i == 0:
			out = append(out, sourceValues[0])
		case i >= len(sourceTS):
			out = append(out, sourceValues[len(sourceValues)-1])
		default:
			t0, t1 := sourceTS[i-1], sourceTS[i]
			v0, v1 := sourceValues[i-1], sourceValues[i]
			denom := float64(t1 - t0)
			if denom == 0 {
				out = append(out, v0)
				continue
			}
			w := float64(ts-t0) / denom
			out = append(out, v0+(v1-v0)*w)
		}
	}
	return out
}
