package service

import (
	"context"
	"log"
	"time"
)

// snapshotLoop periodically checkpoints the backend's runtime state to Redis.
func (svc *Service) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(svc.cfg.SnapshotIntervalS) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			svc.mu.Lock()
			snap := svc.backend.Snapshot()
			svc.mu.Unlock()

			if err := svc.redisReader.WriteSnapshot(ctx, svc.cfg.SnapshotKey,
				snap, svc.streamIDMarker()); err != nil {
				log.Printf("[service] checkpoint write error: %v", err)
				continue
			}

			svc.prom.SnapshotDur.Observe(time.Since(start).Seconds())
			svc.prom.SnapshotsTotal.Inc()
			log.Printf("[service] checkpoint saved (%d nodes, event %d)",
				len(snap.Nodes), snap.LastEventIndex)
		}
	}
}
