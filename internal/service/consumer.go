package service

import (
	"context"
	"log"
	"time"

	"ta-enginev1/internal/model"
)

// startConsumer starts the Redis stream XREADGROUP consumer in a goroutine.
func (svc *Service) startConsumer(ctx context.Context) {
	if len(svc.cfg.Streams) == 0 {
		return
	}
	go func() {
		if err := svc.redisReader.ConsumeEvents(ctx, svc.cfg.Streams, svc.eventCh); err != nil {
			log.Printf("[service] consumer error: %v", err)
		}
	}()
}

// startPELReclaimer starts periodic reclamation of stale PEL messages.
func (svc *Service) startPELReclaimer(ctx context.Context) {
	if len(svc.cfg.Streams) == 0 {
		return
	}
	go svc.redisReader.StartPELReclaimer(ctx, svc.cfg.Streams,
		svc.cfg.ConsumerGroup, svc.cfg.ConsumerName,
		time.Duration(svc.cfg.PELIntervalS)*time.Second,
		svc.cfg.PELMinIdleMs, svc.eventCh,
		func(count int) {
			svc.prom.PELMessagesReclaimed.Add(float64(count))
			log.Printf("[service] reclaimed %d stale PEL messages", count)
		})
	log.Printf("[service] PEL reclaimer started (interval=%ds, minIdle=%dms)",
		svc.cfg.PELIntervalS, svc.cfg.PELMinIdleMs)
}

// processLoop consumes candle events and steps every configured kernel.
// Outputs are batched into a single pipelined Redis write per event.
func (svc *Service) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-svc.eventCh:
			if !ok {
				return
			}

			start := time.Now()
			outputs := svc.step(event)
			svc.prom.StepDur.Observe(time.Since(start).Seconds())

			if len(outputs) == 0 {
				continue
			}

			writeStart := time.Now()
			if err := svc.buffered.WriteOutputs(outputs); err != nil {
				log.Printf("[service] output write error: %v", err)
			}
			svc.prom.RedisWriteDur.Observe(time.Since(writeStart).Seconds())
			svc.prom.OutputsTotal.Add(float64(len(outputs)))
		}
	}
}

// step advances the incremental backend by one event and converts the
// per-node values into publishable output results. Null outputs (warm-up)
// are published too so consumers observe every event index.
func (svc *Service) step(event model.CandleEvent) []model.OutputResult {
	svc.mu.Lock()
	svc.eventIndex++
	values := svc.backend.Step(svc.eventIndex, svc.requests, event.Tick())
	svc.mu.Unlock()

	svc.prom.TicksTotal.Inc()
	svc.prom.LastEventIndex.Set(float64(svc.eventIndex))
	svc.health.SetLastTickTime(time.Now())

	results := make([]model.OutputResult, 0, len(svc.requests))
	for _, req := range svc.requests {
		results = append(results, model.OutputResult{
			NodeID:     req.NodeID,
			Kernel:     req.Kernel.String(),
			Symbol:     event.Symbol,
			Timeframe:  event.Timeframe,
			Timestamp:  event.Timestamp,
			EventIndex: svc.eventIndex,
			Value:      values[req.NodeID],
		})
	}
	return results
}
