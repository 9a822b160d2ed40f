package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/vendor-dispatch/internal/errors"
	"github.com/unclebandit/vendor-dispatch/internal/service"
)

const TopicCampaignChunks = "campaign_chunks"

// ChunkJob is the continuation message. NotBefore carries the cooldown so a
// broker without delayed delivery can still honour it.
type ChunkJob struct {
	CampaignID string    `json:"campaignId"`
	ChunkSize  int       `json:"chunkSize,omitempty"`
	StartIndex int       `json:"startIndex"`
	NotBefore  time.Time `json:"notBefore"`
}

// ChunkScheduler publishes continuations onto a Queue.
type ChunkScheduler struct {
	Queue Queue
	Now   func() time.Time
}

func (s *ChunkScheduler) ScheduleChunk(ctx context.Context, req service.ChunkRequest, after time.Duration) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	job := ChunkJob{
		CampaignID: req.CampaignID,
		ChunkSize:  req.ChunkSize,
		StartIndex: req.StartIndex,
		NotBefore:  now().Add(after).UTC(),
	}
	return s.Queue.Publish(ctx, TopicCampaignChunks, job)
}

var _ service.ContinuationScheduler = (*ChunkScheduler)(nil)

// ChunkRunner is what a chunk subscriber drives; *service.Orchestrator is one.
type ChunkRunner interface {
	RunChunk(ctx context.Context, req service.ChunkRequest) (*service.ChunkResult, error)
}

// StartChunkSubscriber consumes continuation jobs, waiting out each job's
// cooldown before running it. Errors that another attempt cannot fix are
// marked Permanent.
func StartChunkSubscriber(q Queue, runner ChunkRunner, log zerolog.Logger) error {
	return q.Subscribe(TopicCampaignChunks, func(ctx context.Context, body []byte) error {
		var job ChunkJob
		if err := json.Unmarshal(body, &job); err != nil {
			return Permanent(err)
		}

		if wait := time.Until(job.NotBefore); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		res, err := runner.RunChunk(ctx, service.ChunkRequest{
			CampaignID: job.CampaignID,
			ChunkSize:  job.ChunkSize,
			StartIndex: job.StartIndex,
		})
		if err != nil {
			if service.IsConfigurationError(err) || appErrors.IsNotFound(err) || errors.Is(err, appErrors.ErrValidation) {
				return Permanent(err)
			}
			return err
		}

		log.Info().
			Str("campaign_id", job.CampaignID).
			Int("start_index", job.StartIndex).
			Str("status", string(res.Status)).
			Int("sent", res.SentCount).
			Msg("continuation chunk processed")
		return nil
	})
}
