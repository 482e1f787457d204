// Package dataset provides the in-memory time-series dataset registry.
//
// A Registry owns datasets keyed by a monotonic integer id; each dataset owns
// partitions keyed by (symbol, timeframe, source). Partitions are append-only
// with non-decreasing timestamps. Every operation validates fully before
// mutating, so a failed append leaves the registry untouched.
package dataset

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrUnknownDataset is returned for any operation on a dropped or
	// never-created dataset id.
	ErrUnknownDataset = errors.New("unknown dataset id")

	// ErrLengthMismatch is returned when appended columns have unequal lengths.
	ErrLengthMismatch = errors.New("columns must have identical lengths")

	// ErrNonMonotonic is returned when appended timestamps decrease, either
	// within the batch or against the partition's current last timestamp.
	ErrNonMonotonic = errors.New("timestamps must be non-decreasing")

	// ErrEmptyKeyField is returned when a partition key field is empty.
	ErrEmptyKeyField = errors.New("partition key fields must be non-empty")
)

// PartitionKey identifies one time-series stream within a dataset.
type PartitionKey struct {
	Symbol    string
	Timeframe string
	Source    string
}

// Validate checks that all key fields are non-empty.
func (k PartitionKey) Validate() error {
	if k.Symbol == "" {
		return fmt.Errorf("%w: symbol", ErrEmptyKeyField)
	}
	if k.Timeframe == "" {
		return fmt.Errorf("%w: timeframe", ErrEmptyKeyField)
	}
	if k.Source == "" {
		return fmt.Errorf("%w: source", ErrEmptyKeyField)
	}
	return nil
}

func (k PartitionKey) String() string {
	return k.Symbol + ":" + k.Timeframe + ":" + k.Source
}

// OHLCV holds equal-length candle columns.
type OHLCV struct {
	Timestamps []int64
	Open       []float64
	High       []float64
	Low        []float64
	Close      []float64
	Volume     []float64
}

// Rows returns the number of candle rows.
func (o *OHLCV) Rows() int { return len(o.Timestamps) }

// Series is one named timestamped value column.
type Series struct {
	Timestamps []int64
	Values     []float64
}

// Partition holds an optional OHLCV column set plus named series.
type Partition struct {
	OHLCV  *OHLCV
	Series map[string]*Series
}

// Dataset is a snapshot-able collection of partitions.
type Dataset struct {
	ID         uint64
	Partitions map[PartitionKey]*Partition
}

// Partition returns the partition for key, or nil.
func (d *Dataset) Partition(key PartitionKey) *Partition {
	return d.Partitions[key]
}

// Info summarizes a dataset's contents.
type Info struct {
	ID             uint64
	PartitionCount int
	OHLCVRowCount  int
	SeriesRowCount int
	SeriesCount    int
}

// Registry is the process-wide dataset store. It is explicitly constructed
// and injectable so tests stay isolated; one mutex serializes everything.
type Registry struct {
	mu       sync.Mutex
	nextID   uint64
	datasets map[uint64]*Dataset
}

// NewRegistry creates an empty registry. Ids start at 1.
func NewRegistry() *Registry {
	return &Registry{nextID: 1, datasets: make(map[uint64]*Dataset)}
}

// Create allocates a new empty dataset and returns its id.
func (r *Registry) Create() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.datasets[id] = &Dataset{ID: id, Partitions: make(map[PartitionKey]*Partition)}
	return id
}

// Drop removes a dataset.
func (r *Registry) Drop(id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.datasets[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownDataset, id)
	}
	delete(r.datasets, id)
	return nil
}

// Exists reports whether a dataset id is live.
func (r *Registry) Exists(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.datasets[id]
	return ok
}

// Count returns the number of live datasets.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.datasets)
}

// AppendOHLCV appends candle rows to the keyed partition, creating it on
// first use. Returns the partition's total OHLCV row count after the append.
func (r *Registry) AppendOHLCV(id uint64, key PartitionKey, timestamps []int64, open, high, low, closes, volume []float64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ds, ok := r.datasets[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownDataset, id)
	}
	if err := key.Validate(); err != nil {
		return 0, err
	}

	n := len(timestamps)
	for _, col := range []struct {
		name string
		len  int
	}{
		{"open", len(open)}, {"high", len(high)}, {"low", len(low)},
		{"close", len(closes)}, {"volume", len(volume)},
	} {
		if col.len != n {
			return 0, fmt.Errorf("%w: %s expected %d got %d", ErrLengthMismatch, col.name, n, col.len)
		}
	}
	if err := checkMonotonic(timestamps); err != nil {
		return 0, err
	}

	part := ds.Partitions[key]
	if part != nil && part.OHLCV != nil && part.OHLCV.Rows() > 0 && n > 0 {
		last := part.OHLCV.Timestamps[part.OHLCV.Rows()-1]
		if timestamps[0] < last {
			return 0, fmt.Errorf("%w: first appended timestamp %d precedes partition tail %d", ErrNonMonotonic, timestamps[0], last)
		}
	}

	// Validation complete — mutate.
	if part == nil {
		part = &Partition{Series: make(map[string]*Series)}
		ds.Partitions[key] = part
	}
	if part.OHLCV == nil {
		part.OHLCV = &OHLCV{}
	}
	part.OHLCV.Timestamps = append(part.OHLCV.Timestamps, timestamps...)
	part.OHLCV.Open = append(part.OHLCV.Open, open...)
	part.OHLCV.High = append(part.OHLCV.High, high...)
	part.OHLCV.Low = append(part.OHLCV.Low, low...)
	part.OHLCV.Close = append(part.OHLCV.Close, closes...)
	part.OHLCV.Volume = append(part.OHLCV.Volume, volume...)

	return part.OHLCV.Rows(), nil
}

// AppendSeries appends rows to a named series in the keyed partition.
// Returns the series' total row count after the append.
func (r *Registry) AppendSeries(id uint64, key PartitionKey, field string, timestamps []int64, values []float64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ds, ok := r.datasets[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownDataset, id)
	}
	if err := key.Validate(); err != nil {
		return 0, err
	}
	if field == "" {
		return 0, fmt.Errorf("%w: field", ErrEmptyKeyField)
	}
	if len(values) != len(timestamps) {
		return 0, fmt.Errorf("%w: values expected %d got %d", ErrLengthMismatch, len(timestamps), len(values))
	}
	if err := checkMonotonic(timestamps); err != nil {
		return 0, err
	}

	part := ds.Partitions[key]
	var ser *Series
	if part != nil {
		ser = part.Series[field]
	}
	if ser != nil && len(ser.Timestamps) > 0 && len(timestamps) > 0 {
		last := ser.Timestamps[len(ser.Timestamps)-1]
		if timestamps[0] < last {
			return 0, fmt.Errorf("%w: first appended timestamp %d precedes series tail %d", ErrNonMonotonic, timestamps[0], last)
		}
	}

	if part == nil {
		part = &Partition{Series: make(map[string]*Series)}
		ds.Partitions[key] = part
	}
	if ser == nil {
		ser = &Series{}
		part.Series[field] = ser
	}
	ser.Timestamps = append(ser.Timestamps, timestamps...)
	ser.Values = append(ser.Values, values...)

	return len(ser.Values), nil
}

// Info returns a summary of the dataset's partitions.
func (r *Registry) Info(id uint64) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ds, ok := r.datasets[id]
	if !ok {
		return Info{}, fmt.Errorf("%w: %d", ErrUnknownDataset, id)
	}
	info := Info{ID: id, PartitionCount: len(ds.Partitions)}
	for _, part := range ds.Partitions {
		if part.OHLCV != nil {
			info.OHLCVRowCount += part.OHLCV.Rows()
		}
		info.SeriesCount += len(part.Series)
		for _, ser := range part.Series {
			info.SeriesRowCount += len(ser.Values)
		}
	}
	return info, nil
}

// Get returns a deep-copied snapshot of the dataset; callers may read it
// without holding the registry lock.
func (r *Registry) Get(id uint64) (*Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ds, ok := r.datasets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDataset, id)
	}

	out := &Dataset{ID: ds.ID, Partitions: make(map[PartitionKey]*Partition, len(ds.Partitions))}
	for key, part := range ds.Partitions {
		cp := &Partition{Series: make(map[string]*Series, len(part.Series))}
		if part.OHLCV != nil {
			cp.OHLCV = &OHLCV{
				Timestamps: append([]int64(nil), part.OHLCV.Timestamps...),
				Open:       append([]float64(nil), part.OHLCV.Open...),
				High:       append([]float64(nil), part.OHLCV.High...),
				Low:        append([]float64(nil), part.OHLCV.Low...),
				Close:      append([]float64(nil), part.OHLCV.Close...),
				Volume:     append([]float64(nil), part.OHLCV.Volume...),
			}
		}
		for name, ser := range part.Series {
			cp.Series[name] = &Series{
				Timestamps: append([]int64(nil), ser.Timestamps...),
				Values:     append([]float64(nil), ser.Values...),
			}
		}
		out.Partitions[key] = cp
	}
	return out, nil
}

// checkMonotonic validates that a timestamp batch is non-decreasing.
func checkMonotonic(timestamps []int64) error {
	for i := 1; i < len(timestamps); i++ {
		if timestamps[i] < timestamps[i-1] {
			return fmt.Errorf("%w: index %d", ErrNonMonotonic, i)
		}
	}
	return nil
}
