package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/unclebandit/vendor-dispatch/internal/model"
	"github.com/unclebandit/vendor-dispatch/internal/repository"
)

// Sweeper finds Active campaigns whose chunk chain stopped without finishing
// and reschedules them from their saved cursor. A chain that crashed between
// a chunk and its continuation publish is otherwise lost until an operator
// resumes it.
type Sweeper struct {
	Campaigns    repository.CampaignRepositoryInterface
	Ledger       repository.LedgerInterface
	Continuation ContinuationScheduler
	StallAfter   time.Duration
	Now          func() time.Time
	Log          zerolog.Logger

	cron *cron.Cron
}

// Start runs Sweep on the cron schedule (standard five-field or @every).
func (s *Sweeper) Start(schedule string) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(schedule, func() {
		n, err := s.Sweep(context.Background())
		if err != nil {
			s.Log.Error().Err(err).Msg("stall sweep failed")
			return
		}
		if n > 0 {
			s.Log.Info().Int("resumed", n).Msg("stall sweep rescheduled campaigns")
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep reschedules every stalled chain once and returns how many it found.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	active, err := repository.FetchAll(ctx, repository.MaxPageSize, func(ctx context.Context, offset, limit int) ([]*model.Campaign, error) {
		list, _, err := s.Campaigns.ListCampaigns(ctx, offset, limit, string(model.CampaignActive))
		return list, err
	})
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, c := range active {
		if c.DispatchCursor == nil {
			continue
		}
		last := c.CreatedAt
		if c.UpdatedAt != nil && c.UpdatedAt.After(last) {
			last = *c.UpdatedAt
		}
		activity, err := s.Ledger.LastActivity(ctx, c.ID)
		if err != nil {
			s.Log.Warn().Err(err).Str("campaign_id", c.ID).Msg("could not read last activity")
			continue
		}
		if activity != nil && activity.After(last) {
			last = *activity
		}
		if now().Sub(last) < s.StallAfter {
			continue
		}

		req := ChunkRequest{CampaignID: c.ID, StartIndex: *c.DispatchCursor}
		if err := s.Continuation.ScheduleChunk(ctx, req, 0); err != nil {
			s.Log.Error().Err(err).Str("campaign_id", c.ID).Msg("failed to reschedule stalled campaign")
			continue
		}
		s.Log.Warn().
			Str("campaign_id", c.ID).
			Int("start_index", req.StartIndex).
			Time("last_activity", last).
			Msg("stalled dispatch rescheduled")
		resumed++
	}
	return resumed, nil
}
