// Command worker consumes campaign chunk continuations from RabbitMQ and runs
// them against the orchestrator. The server publishes them when
// QUEUE_BACKEND=amqp.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"

	"github.com/unclebandit/vendor-dispatch/internal/app"
	"github.com/unclebandit/vendor-dispatch/internal/config"
	"github.com/unclebandit/vendor-dispatch/internal/logging"
	"github.com/unclebandit/vendor-dispatch/internal/queue"
	"github.com/unclebandit/vendor-dispatch/internal/telemetry"
)

func main() {
	cfg, found, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.Log, "worker")
	if !found {
		log.Warn().Msg("no .env file found, relying on OS environment variables")
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("worker exited")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	if cfg.Queue.Backend != "amqp" {
		return fmt.Errorf("worker needs QUEUE_BACKEND=amqp, got %q", cfg.Queue.Backend)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTel)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := queue.StartChunkSubscriber(a.Queue, a.Orchestrator, log); err != nil {
		return err
	}
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Debug().Err(err).Msg("sd_notify")
	}
	log.Info().Str("topic", queue.TopicCampaignChunks).Msg("worker running, waiting for chunks")

	<-ctx.Done()
	log.Info().Msg("shutting down")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	return nil
}
