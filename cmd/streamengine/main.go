package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ta-enginev1/internal/service"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := service.LoadConfig()
	log.Printf("[streamengine] streams: %v, kernels: %d, snapshot interval: %ds",
		cfg.Streams, len(cfg.Requests), cfg.SnapshotIntervalS)

	svc, err := service.New(cfg)
	if err != nil {
		log.Fatalf("[streamengine] init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("[streamengine] fatal: %v", err)
	}
}
