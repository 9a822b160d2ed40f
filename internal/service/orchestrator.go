package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	appErrors "github.com/unclebandit/vendor-dispatch/internal/errors"
	"github.com/unclebandit/vendor-dispatch/internal/model"
	"github.com/unclebandit/vendor-dispatch/internal/repository"
	"github.com/unclebandit/vendor-dispatch/internal/sender"
	"github.com/unclebandit/vendor-dispatch/internal/telemetry"
)

const (
	DefaultChunkSize = 50
	DefaultCooldown  = 3 * time.Second
)

type ChunkStatus string

const (
	ChunkContinuing ChunkStatus = "continuing"
	ChunkComplete   ChunkStatus = "complete"
	ChunkHalted     ChunkStatus = "halted"
)

// ChunkRequest is the payload of every dispatch trigger, including the
// self-scheduled continuation.
type ChunkRequest struct {
	CampaignID string `json:"campaignId"`
	ChunkSize  int    `json:"chunkSize,omitempty"`
	StartIndex int    `json:"startIndex,omitempty"`
}

type ChunkResult struct {
	Success             bool                  `json:"success"`
	Status              ChunkStatus           `json:"status"`
	CampaignID          string                `json:"campaignId"`
	ProcessedCount      int                   `json:"processedCount"`
	SentCount           int                   `json:"sentCount"`
	SentByChannel       map[model.Channel]int `json:"sentByChannel,omitempty"`
	TotalRecipients     int                   `json:"totalRecipients"`
	RemainingRecipients int                   `json:"remainingRecipients"`
	IsComplete          bool                  `json:"isComplete"`
	NextStartIndex      *int                  `json:"nextStartIndex,omitempty"`
	Errors              []string              `json:"errors,omitempty"`
	Message             string                `json:"message,omitempty"`
}

// ContinuationScheduler re-invokes RunChunk with req once after has passed,
// independently of the caller that scheduled it.
type ContinuationScheduler interface {
	ScheduleChunk(ctx context.Context, req ChunkRequest, after time.Duration) error
}

// SenderLookup resolves the sender for a channel. *sender.Registry is one.
type SenderLookup interface {
	Lookup(ch model.Channel) (sender.ChannelSender, error)
}

// Orchestrator runs one chunk of a campaign per call and, when recipients
// remain past the chunk, schedules the next call after Cooldown.
type Orchestrator struct {
	Campaigns    repository.CampaignRepositoryInterface
	Vendors      repository.VendorRepositoryInterface
	Templates    repository.TemplateRepositoryInterface
	Resolver     *Resolver
	Dispatcher   *Dispatcher
	Senders      SenderLookup
	Continuation ContinuationScheduler

	DefaultChunkSize  int
	Cooldown          time.Duration
	MaxReportedErrors int
	Log               zerolog.Logger

	locks keyedLock
}

// channelPlan is what a chunk needs per channel, resolved before any send.
type channelPlan struct {
	channel  model.Channel
	sender   sender.ChannelSender
	template *model.Template
}

// StartDispatch activates a Draft campaign and runs its first chunk.
func (o *Orchestrator) StartDispatch(ctx context.Context, campaignID string) (*ChunkResult, error) {
	o.Log.Info().Str("campaign_id", campaignID).Msg("starting dispatch")
	return o.RunChunk(ctx, ChunkRequest{CampaignID: campaignID})
}

// ResumeCampaign re-enters from ledger state alone.
func (o *Orchestrator) ResumeCampaign(ctx context.Context, campaignID string) (*ChunkResult, error) {
	o.Log.Info().Str("campaign_id", campaignID).Msg("resuming dispatch")
	return o.RunChunk(ctx, ChunkRequest{CampaignID: campaignID})
}

// RunChunk processes the first ChunkSize remaining recipients at or after
// StartIndex. StartIndex is a target position; 0 is always safe.
func (o *Orchestrator) RunChunk(ctx context.Context, req ChunkRequest) (*ChunkResult, error) {
	if req.CampaignID == "" {
		return nil, appErrors.Invalidf("campaignId is required")
	}
	if req.ChunkSize <= 0 {
		req.ChunkSize = o.DefaultChunkSize
		if req.ChunkSize <= 0 {
			req.ChunkSize = DefaultChunkSize
		}
	}
	req.StartIndex = max(req.StartIndex, 0)

	unlock, err := o.locks.lock(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ctx, span := telemetry.Tracer().Start(ctx, "orchestrator.chunk")
	defer span.End()
	span.SetAttributes(
		attribute.String("campaign.id", req.CampaignID),
		attribute.Int("chunk.size", req.ChunkSize),
		attribute.Int("chunk.start_index", req.StartIndex),
	)

	res, err := o.runChunk(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chunk failed")
		o.Log.Error().Err(err).
			Str("campaign_id", req.CampaignID).
			Int("start_index", req.StartIndex).
			Int("chunk_size", req.ChunkSize).
			Msg("chunk failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("chunk.status", string(res.Status)), attribute.Int("chunk.sent", res.SentCount))
	return res, nil
}

func (o *Orchestrator) runChunk(ctx context.Context, req ChunkRequest) (*ChunkResult, error) {
	log := o.Log.With().Str("campaign_id", req.CampaignID).Int("start_index", req.StartIndex).Logger()

	campaign, err := o.Campaigns.GetByID(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status.Terminal() {
		if campaign.DispatchCursor != nil {
			o.clearCursor(ctx, campaign.ID, log)
		}
		o.Dispatcher.Forget(campaign.ID)
		log.Info().Str("status", string(campaign.Status)).Msg("campaign is not active, chunk halted")
		return &ChunkResult{
			Success:    true,
			Status:     ChunkHalted,
			CampaignID: campaign.ID,
			Message:    fmt.Sprintf("campaign is %s; dispatch halted", campaign.Status),
		}, nil
	}

	plans, err := o.plan(ctx, campaign)
	if err != nil {
		return nil, err
	}

	if campaign.Status == model.CampaignDraft {
		if _, err := o.Campaigns.TransitionStatus(ctx, campaign.ID, model.CampaignActive, model.CampaignDraft); err != nil {
			return nil, fmt.Errorf("activate campaign: %w", err)
		}
		log.Info().Msg("campaign activated")
	}

	channels := make([]model.Channel, len(plans))
	for i, p := range plans {
		channels[i] = p.channel
	}
	targets, pending, err := o.Resolver.Pending(ctx, campaign.ID, channels)
	if err != nil {
		return nil, fmt.Errorf("resolve remaining recipients: %w", err)
	}
	vendors, err := o.loadVendors(ctx, pending)
	if err != nil {
		return nil, err
	}
	pending = reachable(pending, vendors, plans)

	res := &ChunkResult{
		Success:         true,
		CampaignID:      campaign.ID,
		TotalRecipients: len(targets),
		SentByChannel:   map[model.Channel]int{},
	}

	if len(pending) == 0 {
		o.complete(ctx, campaign.ID, log)
		res.Status = ChunkComplete
		res.IsComplete = true
		res.Message = "all recipients already processed"
		return res, nil
	}

	var chunk []PendingTarget
	for _, p := range pending {
		if p.Position < req.StartIndex {
			continue
		}
		chunk = append(chunk, p)
		if len(chunk) == req.ChunkSize {
			break
		}
	}
	if len(chunk) == 0 {
		o.clearCursor(ctx, campaign.ID, log)
		res.Status = ChunkComplete
		res.IsComplete = true
		res.RemainingRecipients = len(pending)
		res.Message = "no remaining recipients at or after the start index"
		return res, nil
	}

	delivered := map[model.Channel]map[string]struct{}{}
	var errs []string
	for _, p := range plans {
		var batch []*model.Vendor
		for _, t := range chunk {
			v, ok := vendors[t.VendorID]
			if !ok || !slices.Contains(t.Channels, p.channel) {
				continue
			}
			batch = append(batch, v)
		}
		if len(batch) == 0 {
			continue
		}

		br, err := o.Dispatcher.Dispatch(ctx, p.sender, campaign.ID, p.template, batch)
		if err != nil {
			return nil, err
		}
		res.SentByChannel[p.channel] += br.Sent
		res.SentCount += br.Sent
		errs = append(errs, br.Errors...)
		set := make(map[string]struct{}, len(br.Delivered))
		for _, id := range br.Delivered {
			set[id] = struct{}{}
		}
		delivered[p.channel] = set
	}
	for _, t := range chunk {
		if _, ok := vendors[t.VendorID]; !ok {
			errs = append(errs, fmt.Sprintf("recipient %s: vendor not found", t.VendorID))
		}
	}

	// Channels without an address were dropped by reachable, so a recipient
	// is settled once every channel left on it delivered.
	resolved := 0
	for _, t := range chunk {
		if _, ok := vendors[t.VendorID]; !ok {
			continue
		}
		done := true
		for _, ch := range t.Channels {
			if _, sent := delivered[ch][t.VendorID]; !sent {
				done = false
				break
			}
		}
		if done {
			resolved++
		}
	}

	next := chunk[len(chunk)-1].Position + 1
	res.ProcessedCount = len(chunk)
	res.RemainingRecipients = len(pending) - resolved
	res.Errors = o.truncateErrors(errs)

	if pending[len(pending)-1].Position >= next {
		res.Status = ChunkContinuing
		res.NextStartIndex = &next
		o.continueAt(ctx, req, next, res, log)
	} else {
		res.Status = ChunkComplete
		res.IsComplete = true
		if res.RemainingRecipients == 0 {
			o.complete(ctx, campaign.ID, log)
		} else {
			o.clearCursor(ctx, campaign.ID, log)
		}
	}

	log.Info().
		Str("status", string(res.Status)).
		Int("processed", res.ProcessedCount).
		Int("sent", res.SentCount).
		Int("remaining", res.RemainingRecipients).
		Int("errors", len(errs)).
		Msg("chunk finished")
	return res, nil
}

// plan resolves a sender and a template for every configured channel. Any
// gap is a configuration error, reported before anything is sent.
func (o *Orchestrator) plan(ctx context.Context, c *model.Campaign) ([]channelPlan, error) {
	channels := c.Channels()
	if len(channels) == 0 {
		return nil, appErrors.Configf("campaign %s has no template for any channel", c.ID)
	}
	plans := make([]channelPlan, 0, len(channels))
	for _, ch := range channels {
		s, err := o.Senders.Lookup(ch)
		if err != nil {
			return nil, err
		}
		tplID, _ := c.TemplateID(ch)
		tpl, err := o.Templates.GetByID(ctx, tplID)
		if err != nil {
			return nil, err
		}
		if tpl.Channel != ch {
			return nil, appErrors.Configf("template %s belongs to %s, not %s", tpl.ID, tpl.Channel, ch)
		}
		plans = append(plans, channelPlan{channel: ch, sender: s, template: tpl})
	}
	return plans, nil
}

// reachable drops the channels a recipient has no address for, and the
// recipient itself once no channel is left. Such recipients never get a
// ledger entry, so they would otherwise stay pending forever. Unknown vendors
// are kept so the chunk reports them.
func reachable(pending []PendingTarget, vendors map[string]*model.Vendor, plans []channelPlan) []PendingTarget {
	out := make([]PendingTarget, 0, len(pending))
	for _, t := range pending {
		v, ok := vendors[t.VendorID]
		if !ok {
			out = append(out, t)
			continue
		}
		var channels []model.Channel
		for _, p := range plans {
			if slices.Contains(t.Channels, p.channel) && p.sender.Address(v) != "" {
				channels = append(channels, p.channel)
			}
		}
		if len(channels) > 0 {
			t.Channels = channels
			out = append(out, t)
		}
	}
	return out
}

func (o *Orchestrator) loadVendors(ctx context.Context, chunk []PendingTarget) (map[string]*model.Vendor, error) {
	ids := make([]string, len(chunk))
	for i, t := range chunk {
		ids[i] = t.VendorID
	}
	list, err := o.Vendors.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load vendors: %w", err)
	}
	out := make(map[string]*model.Vendor, len(list))
	for _, v := range list {
		out[v.ID] = v
	}
	return out, nil
}

// continueAt persists the cursor, then schedules the next chunk detached
// from ctx. A scheduling failure leaves the cursor for the stall sweeper.
func (o *Orchestrator) continueAt(ctx context.Context, req ChunkRequest, next int, res *ChunkResult, log zerolog.Logger) {
	if err := o.Campaigns.SetDispatchCursor(ctx, req.CampaignID, &next); err != nil {
		log.Warn().Err(err).Msg("failed to persist dispatch cursor")
	}
	if o.Continuation == nil {
		res.Message = "more recipients remain; no continuation scheduler configured"
		return
	}

	cooldown := o.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	nextReq := ChunkRequest{CampaignID: req.CampaignID, ChunkSize: req.ChunkSize, StartIndex: next}
	if err := o.Continuation.ScheduleChunk(context.WithoutCancel(ctx), nextReq, cooldown); err != nil {
		log.Error().Err(err).Int("next_start_index", next).Msg("failed to schedule next chunk")
		res.Message = "next chunk could not be scheduled; it will be resumed later"
		return
	}
	res.Message = fmt.Sprintf("next chunk scheduled in %s", cooldown)
}

func (o *Orchestrator) complete(ctx context.Context, campaignID string, log zerolog.Logger) {
	o.clearCursor(ctx, campaignID, log)
	ok, err := o.Campaigns.TransitionStatus(ctx, campaignID, model.CampaignCompleted, model.CampaignActive)
	if err != nil {
		log.Warn().Err(err).Msg("failed to mark campaign completed")
		return
	}
	if ok {
		o.Dispatcher.Forget(campaignID)
		log.Info().Msg("campaign completed")
	}
}

func (o *Orchestrator) clearCursor(ctx context.Context, campaignID string, log zerolog.Logger) {
	if err := o.Campaigns.SetDispatchCursor(ctx, campaignID, nil); err != nil {
		log.Warn().Err(err).Msg("failed to clear dispatch cursor")
	}
}

func (o *Orchestrator) truncateErrors(errs []string) []string {
	limit := o.MaxReportedErrors
	if limit <= 0 || len(errs) <= limit {
		return errs
	}
	out := append([]string(nil), errs[:limit]...)
	return append(out, fmt.Sprintf("... and %d more", len(errs)-limit))
}

// IsConfigurationError reports whether err should fail a chunk without retry.
func IsConfigurationError(err error) bool {
	return errors.Is(err, appErrors.ErrConfiguration) || errors.Is(err, appErrors.ErrProviderUnavailable)
}
