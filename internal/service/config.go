package service

import (
	"log"
	"os"
	"strconv"
	"strings"

	"ta-enginev1/internal/incremental"
	"ta-enginev1/internal/kernel"
	"ta-enginev1/internal/model"
)

// Config holds all env-parsed configuration for the streaming engine service.
type Config struct {
	RedisAddr     string
	RedisPassword string
	ConsumerGroup string
	ConsumerName  string

	Symbol    string
	Timeframe string
	Streams   []string // input candle streams to consume

	FeedURL  string // optional WebSocket kline feed; empty disables the feed
	RingSize int

	SnapshotIntervalS int
	SnapshotKey       string
	HTTPAddr          string
	PELIntervalS      int
	PELMinIdleMs      int64

	Requests []incremental.StepRequest
}

// LoadConfig reads all environment variables and returns a Config.
func LoadConfig() Config {
	symbol := getEnv("SYMBOL", "btcusdt")
	timeframe := getEnv("TIMEFRAME", "1m")

	streamsStr := getEnv("SUBSCRIBE_STREAMS", "")
	var streams []string
	if streamsStr != "" {
		for _, s := range strings.Split(streamsStr, ",") {
			if s = strings.TrimSpace(s); s != "" {
				streams = append(streams, s)
			}
		}
	} else {
		streams = []string{"candles:" + timeframe + ":" + symbol}
	}

	snapshotInterval, _ := strconv.Atoi(getEnv("SNAPSHOT_INTERVAL_SEC", "30"))
	if snapshotInterval <= 0 {
		snapshotInterval = 30
	}
	pelInterval, _ := strconv.Atoi(getEnv("PEL_RECLAIM_INTERVAL_SEC", "30"))
	if pelInterval <= 0 {
		pelInterval = 30
	}
	pelMinIdle, _ := strconv.ParseInt(getEnv("PEL_MIN_IDLE_MS", "60000"), 10, 64)
	if pelMinIdle <= 0 {
		pelMinIdle = 60000
	}
	ringSize, _ := strconv.Atoi(getEnv("RING_SIZE", "4096"))
	if ringSize <= 0 {
		ringSize = 4096
	}

	return Config{
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		ConsumerGroup:     getEnv("CONSUMER_GROUP", "taengine"),
		ConsumerName:      getEnv("CONSUMER_NAME", "worker-1"),
		Symbol:            symbol,
		Timeframe:         timeframe,
		Streams:           streams,
		FeedURL:           getEnv("FEED_URL", ""),
		RingSize:          ringSize,
		SnapshotIntervalS: snapshotInterval,
		SnapshotKey:       getEnv("SNAPSHOT_KEY", "taengine:snapshot:"+timeframe+":"+symbol),
		HTTPAddr:          getEnv("TAENGINE_HTTP_ADDR", ":9095"),
		PELIntervalS:      pelInterval,
		PELMinIdleMs:      pelMinIdle,
		Requests:          ParseKernelSpecs(getEnv("KERNEL_CONFIGS", "")),
	}
}

// ParseKernelSpecs parses "KERNEL:FIELD:KEY=VAL[:KEY=VAL]" specs separated by
// semicolons into step requests. Node ids are assigned in order starting at 1.
// Example: "rsi:close:period=14;atr:close:period=14;vwap:close"
// Returns defaults if input is empty.
func ParseKernelSpecs(s string) []incremental.StepRequest {
	if s == "" {
		s = "rsi:close:period=14;atr:close:period=14;stochastic:close;vwap:close"
	}

	var requests []incremental.StepRequest
	nodeID := uint32(1)
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tokens := strings.Split(part, ":")
		name := strings.ToLower(strings.TrimSpace(tokens[0]))
		if name == "" {
			log.Printf("[service] skipping invalid kernel spec: %q", part)
			continue
		}

		field := "close"
		if len(tokens) > 1 && strings.TrimSpace(tokens[1]) != "" {
			field = strings.ToLower(strings.TrimSpace(tokens[1]))
		}

		kwargs := make(map[string]model.Value)
		for _, kv := range tokens[2:] {
			pair := strings.SplitN(kv, "=", 2)
			if len(pair) != 2 {
				continue
			}
			num, err := strconv.ParseFloat(strings.TrimSpace(pair[1]), 64)
			if err != nil {
				log.Printf("[service] skipping invalid kernel kwarg: %q", kv)
				continue
			}
			kwargs[strings.ToLower(strings.TrimSpace(pair[0]))] = model.Num(num)
		}

		requests = append(requests, incremental.StepRequest{
			NodeID:     nodeID,
			Kernel:     kernel.KindFromName(name),
			InputField: field,
			Kwargs:     kwargs,
		})
		nodeID++
	}
	return requests
}

// getEnv reads an environment variable with a fallback default.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
