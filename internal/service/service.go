// Package service wires the streaming indicator engine: candle events flow in
// from Redis Streams (and optionally a WebSocket feed), the incremental
// backend steps every configured kernel per event, and outputs are published
// back to Redis through a circuit-breaker-protected writer. Runtime state is
// checkpointed periodically so a restart can restore and replay the delta.
package service

import (
	"context"
	"log"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"ta-enginev1/internal/feed"
	"ta-enginev1/internal/incremental"
	"ta-enginev1/internal/logger"
	"ta-enginev1/internal/metrics"
	"ta-enginev1/internal/model"
	"ta-enginev1/internal/ringbuf"
	redisstore "ta-enginev1/internal/store/redis"
)

// Service is the top-level orchestrator for the streaming engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg Config
	lg  *slog.Logger

	// mu serializes backend access between the process loop and checkpoints.
	mu       sync.Mutex
	backend  *incremental.Backend
	requests []incremental.StepRequest

	redisReader *redisstore.Reader
	redisWriter *redisstore.Writer
	buffered    *redisstore.BufferedWriter
	breaker     *redisstore.CircuitBreaker

	prom   *metrics.Metrics
	health *metrics.HealthStatus
	httpd  *metrics.Server

	ring    *ringbuf.Ring
	eventCh chan model.CandleEvent

	// eventIndex numbers processed events from 1; restored from checkpoints.
	// Only the process loop (and startup replay, which precedes it) touches it.
	eventIndex uint64
}

// New creates a new Service from the given Config and connects to Redis.
func New(cfg Config) (*Service, error) {
	svc := &Service{
		cfg:      cfg,
		lg:       logger.Init("taengine", slog.LevelInfo),
		backend:  incremental.NewBackend(),
		requests: cfg.Requests,
		prom:     metrics.NewMetrics(),
		health:   metrics.NewHealthStatus(),
		ring:     ringbuf.New(cfg.RingSize),
		eventCh:  make(chan model.CandleEvent, 5000),
	}

	var err error
	svc.redisReader, err = redisstore.NewReader(redisstore.ReaderConfig{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
	})
	if err != nil {
		return nil, err
	}

	svc.redisWriter, err = redisstore.NewWriter(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		svc.redisReader.Close()
		return nil, err
	}

	svc.breaker = redisstore.NewCircuitBreaker(5, 10*time.Second)
	svc.breaker.OnStateChange = func(from, to redisstore.State) {
		svc.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			svc.prom.RedisCircuitBreakerTrips.Inc()
		}
		log.Printf("[service] redis circuit breaker: %s -> %s", from, to)
	}
	svc.buffered = redisstore.NewBufferedWriter(context.Background(), svc.redisWriter, svc.breaker, 0)
	svc.buffered.OnBuffer = func(count int) {
		svc.prom.RedisBufferedWrites.Add(float64(count))
	}

	return svc, nil
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	svc.lg.Info("starting streaming engine",
		"streams", cfg.Streams, "kernels", len(svc.requests))

	// ---- Restore backend from checkpoint and replay the delta ----
	if err := svc.restoreBackend(ctx); err != nil {
		return err
	}
	svc.health.SetBackendOK(true)

	// ---- Ensure consumer groups ----
	if err := svc.redisReader.EnsureConsumerGroup(ctx, cfg.Streams); err != nil {
		log.Printf("[service] WARNING: consumer group setup: %v", err)
	}

	// ---- Recover pending messages from a previous crash ----
	go func() {
		if err := svc.redisReader.RecoverPending(ctx, cfg.Streams, svc.eventCh); err != nil {
			log.Printf("[service] pending recovery error: %v", err)
		}
	}()

	// ---- Start subsystems ----
	svc.startPELReclaimer(ctx)
	go svc.processLoop(ctx)
	svc.startConsumer(ctx)
	svc.startFeed(ctx)
	go svc.snapshotLoop(ctx)

	svc.httpd = metrics.NewServer(cfg.HTTPAddr, svc.health)
	svc.httpd.Start()
	svc.health.StartLivenessChecker(ctx, svc.redisReader.Client(), 10*time.Second)

	svc.lg.Info("all systems running",
		"http_addr", cfg.HTTPAddr,
		"snapshot_interval_s", cfg.SnapshotIntervalS)

	<-ctx.Done()
	svc.shutdown()
	return nil
}

// shutdown saves a final checkpoint and closes connections.
func (svc *Service) shutdown() {
	log.Println("[service] shutdown signal received, saving final checkpoint...")

	shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	svc.mu.Lock()
	finalSnap := svc.backend.Snapshot()
	svc.mu.Unlock()

	if err := svc.redisReader.WriteSnapshot(shutCtx, svc.cfg.SnapshotKey,
		finalSnap, svc.streamIDMarker()); err != nil {
		log.Printf("[service] final checkpoint write error: %v", err)
	} else {
		log.Println("[service] final checkpoint saved")
	}

	if svc.httpd != nil {
		svc.httpd.Stop(shutCtx)
	}
	svc.redisWriter.Close()
	svc.redisReader.Close()

	log.Println("[service] shutdown complete.")
}

// restoreBackend restores the incremental backend from the latest Redis
// checkpoint, then replays every event recorded after the checkpoint's
// stream position so the runtime state catches up to the stream head.
func (svc *Service) restoreBackend(ctx context.Context) error {
	snap, streamID, err := svc.redisReader.ReadSnapshot(ctx, svc.cfg.SnapshotKey)
	if err != nil {
		log.Printf("[service] checkpoint read error: %v", err)
	}
	if snap == nil {
		log.Println("[service] no checkpoint found, starting cold")
		return nil
	}

	if err := svc.backend.Restore(*snap); err != nil {
		log.Printf("[service] checkpoint restore error: %v (starting cold)", err)
		svc.backend.Initialize()
		return nil
	}
	svc.prom.RestoresTotal.Inc()
	svc.eventIndex = snap.LastEventIndex
	log.Printf("[service] restored checkpoint at event %d (stream id %s)",
		snap.LastEventIndex, streamID)

	if streamID == "" {
		return nil
	}

	// Replay the delta since the checkpoint.
	replayCh := make(chan model.CandleEvent, 1000)
	done := make(chan struct{})
	replayed := 0
	go func() {
		defer close(done)
		for event := range replayCh {
			svc.step(event)
			replayed++
		}
	}()

	for _, stream := range svc.cfg.Streams {
		if _, err := svc.redisReader.ReplayFromID(ctx, stream, streamID, replayCh); err != nil {
			log.Printf("[service] replay error on %s: %v", stream, err)
		}
	}
	close(replayCh)
	<-done

	if replayed > 0 {
		log.Printf("[service] replayed %d events since checkpoint", replayed)
	}
	return nil
}

// startFeed launches the WebSocket feed when configured. Feed events pass
// through the SPSC ring so a slow processing loop never blocks the socket
// reader; overflow drops are counted.
func (svc *Service) startFeed(ctx context.Context) {
	if svc.cfg.FeedURL == "" {
		return
	}

	f := feed.New(feed.Config{
		URL:        svc.cfg.FeedURL,
		Symbol:     svc.cfg.Symbol,
		Timeframe:  svc.cfg.Timeframe,
		ClosedOnly: true,
	})
	f.OnReconnect = func() {
		svc.prom.WSReconnects.Inc()
		svc.health.SetWSConnected(false)
	}
	f.OnTick = func(model.CandleEvent) {
		svc.health.SetWSConnected(true)
	}

	feedCh := make(chan model.CandleEvent, 64)
	go func() {
		if err := f.Run(ctx, feedCh); err != nil && ctx.Err() == nil {
			log.Printf("[service] feed stopped: %v", err)
		}
	}()

	// Producer side of the ring.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-feedCh:
				if !svc.ring.Push(event) {
					svc.prom.RingBufOverflow.Inc()
					svc.prom.DroppedTicks.Inc()
				}
			}
		}
	}()

	// Consumer side of the ring drains into the shared event channel.
	go func() {
		for {
			if ctx.Err() != nil {
				return
			}
			event, ok := svc.ring.Pop()
			if !ok {
				time.Sleep(time.Millisecond)
				continue
			}
			select {
			case svc.eventCh <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// streamIDMarker returns a time-based stream ID marker for checkpoints.
// Replay after restore resumes from this position.
func (svc *Service) streamIDMarker() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-0"
}
