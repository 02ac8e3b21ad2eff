package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"prismatic/internal/adapter/channel"
	"prismatic/internal/adapter/llm"
)

func runServe(flags cliFlags) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, log, cleanup, err := setup(ctx, flags, "server")
	if err != nil {
		return err
	}
	defer cleanup()

	responder, err := llm.New(ctx, cfg.Responder, log)
	if err != nil {
		return fmt.Errorf("responder: %w", err)
	}

	ch := channel.NewHTTPChannel(cfg.Server, responder, log)
	if err := ch.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return ch.Stop(shutdownCtx)
}
