// Package app assembles the repositories, senders and services shared by the
// server and worker binaries.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/unclebandit/vendor-dispatch/internal/config"
	"github.com/unclebandit/vendor-dispatch/internal/db"
	"github.com/unclebandit/vendor-dispatch/internal/queue"
	"github.com/unclebandit/vendor-dispatch/internal/repository"
	"github.com/unclebandit/vendor-dispatch/internal/sender"
	"github.com/unclebandit/vendor-dispatch/internal/service"
)

type App struct {
	Conn  *db.Conn
	Queue queue.Queue

	Campaigns *repository.CampaignRepository
	Vendors   *repository.VendorRepository
	Templates *repository.TemplateRepository
	Ledger    *repository.DispatchRecordRepository
	Responses *repository.ResponseRepository

	Orchestrator *service.Orchestrator
	Campaign     *service.CampaignService
	Sweeper      *service.Sweeper
}

// Build opens the database and the configured queue backend and wires the
// services on top of them. The caller owns Close.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	conn, err := db.Open(ctx, cfg.DB.Driver, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}

	var q queue.Queue
	switch cfg.Queue.Backend {
	case "amqp":
		aq, err := queue.DialAMQP(cfg.Queue.AMQPURL, log)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("queue: %w", err)
		}
		q = aq
	default:
		q = queue.NewInMemoryQueue(log)
	}

	return assemble(cfg, conn, q, sender.NewRegistryFromConfig(cfg, &repository.DispatchRecordRepository{DB: conn}, &repository.ResponseRepository{DB: conn}, log), log), nil
}

func assemble(cfg *config.Config, conn *db.Conn, q queue.Queue, senders service.SenderLookup, log zerolog.Logger) *App {
	a := &App{
		Conn:      conn,
		Queue:     q,
		Campaigns: &repository.CampaignRepository{DB: conn},
		Vendors:   &repository.VendorRepository{DB: conn},
		Templates: &repository.TemplateRepository{DB: conn},
		Ledger:    &repository.DispatchRecordRepository{DB: conn},
		Responses: &repository.ResponseRepository{DB: conn},
	}
	continuation := &queue.ChunkScheduler{Queue: q}

	a.Orchestrator = &service.Orchestrator{
		Campaigns: a.Campaigns,
		Vendors:   a.Vendors,
		Templates: a.Templates,
		Resolver:  &service.Resolver{Campaigns: a.Campaigns, Ledger: a.Ledger},
		Dispatcher: &service.Dispatcher{
			Ledger:     a.Ledger,
			Window:     cfg.Dispatch.RateWindow,
			RetryDelay: cfg.Dispatch.RetryDelay,
			Log:        log,
		},
		Senders:           senders,
		Continuation:      continuation,
		DefaultChunkSize:  cfg.Dispatch.ChunkSize,
		Cooldown:          cfg.Dispatch.Cooldown,
		MaxReportedErrors: cfg.Dispatch.MaxReportedErrors,
		Log:               log,
	}
	a.Campaign = &service.CampaignService{
		CampaignRepo: a.Campaigns,
		VendorRepo:   a.Vendors,
		TemplateRepo: a.Templates,
		Ledger:       a.Ledger,
		ResponseRepo: a.Responses,
		Log:          log,
	}
	a.Sweeper = &service.Sweeper{
		Campaigns:    a.Campaigns,
		Ledger:       a.Ledger,
		Continuation: continuation,
		StallAfter:   cfg.Dispatch.StallAfter,
		Log:          log,
	}
	return a
}

// Close stops the sweeper and releases the queue and database, in that order.
func (a *App) Close() error {
	a.Sweeper.Stop()
	qerr := a.Queue.Close()
	if err := a.Conn.Close(); err != nil {
		return err
	}
	return qerr
}
