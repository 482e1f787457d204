package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"ta-enginev1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	outputStreamMaxLen = 10800
	defaultLatestTTL   = 30 * time.Minute
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer publishes indicator outputs to Redis Streams, latest-value keys,
// and PubSub channels.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// NewWriter creates a new Redis Writer and pings the server.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// StreamKey names the output stream for one node's series.
func StreamKey(out *model.OutputResult) string {
	return "ind:" + out.Kernel + ":" + strconv.FormatUint(uint64(out.NodeID), 10) +
		":" + out.Timeframe + ":" + out.Symbol
}

// PubSubChannel names the live channel for one node's series.
func PubSubChannel(out *model.OutputResult) string {
	return "pub:" + StreamKey(out)
}

// WriteOutputBatch writes a batch of node outputs in a single Redis pipeline:
// XADD + SET latest + PUBLISH per result, one network roundtrip for the batch.
func (w *Writer) WriteOutputBatch(ctx context.Context, results []model.OutputResult) error {
	if len(results) == 0 {
		return nil
	}

	pipe := w.client.Pipeline()
	for i := range results {
		out := &results[i]

		data, err := json.Marshal(out)
		if err != nil {
			log.Printf("[redis] marshal output node=%d: %v", out.NodeID, err)
			continue
		}
		jsonData := string(data)

		streamKey := StreamKey(out)
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: streamKey,
			MaxLen: outputStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Set(ctx, streamKey+":latest", jsonData, defaultLatestTTL)
		pipe.Publish(ctx, PubSubChannel(out), jsonData)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] output batch pipeline error (%d results): %v", len(results), err)
		return err
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
