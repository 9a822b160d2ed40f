package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/paulbellamy/ratecounter"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/unclebandit/vendor-dispatch/internal/model"
	"github.com/unclebandit/vendor-dispatch/internal/repository"
	"github.com/unclebandit/vendor-dispatch/internal/sender"
	"github.com/unclebandit/vendor-dispatch/internal/telemetry"
)

// BatchResult aggregates one Dispatch call.
type BatchResult struct {
	Sent        int
	Failed      int
	Skipped     int
	AlreadySent int
	// Delivered lists vendors that hold a sent record on the channel after
	// this batch, whether sent now or earlier.
	Delivered []string
	Errors    []string
}

// Dispatcher drives a ChannelSender over a slice of vendors in sub-batches
// of the sender's rate ceiling. Every provider call, retries included, first
// takes a token from a per-channel limiter, so no rolling Window ever sees
// more than RateLimit() calls.
type Dispatcher struct {
	Ledger     repository.LedgerInterface
	Window     time.Duration // defaults to one second
	RetryDelay time.Duration // defaults to one second
	Log        zerolog.Logger

	mu       sync.Mutex
	limiters map[model.Channel]*rate.Limiter
	rates    map[string]*ratecounter.RateCounter
}

func (d *Dispatcher) window() time.Duration {
	if d.Window <= 0 {
		return time.Second
	}
	return d.Window
}

func (d *Dispatcher) retryDelay() time.Duration {
	if d.RetryDelay <= 0 {
		return time.Second
	}
	return d.RetryDelay
}

func (d *Dispatcher) limiter(s sender.ChannelSender) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.limiters == nil {
		d.limiters = map[model.Channel]*rate.Limiter{}
	}
	if l, ok := d.limiters[s.Channel()]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(d.window()/time.Duration(max(s.RateLimit(), 1))), 1)
	d.limiters[s.Channel()] = l
	return l
}

func (d *Dispatcher) counter(campaignID string) *ratecounter.RateCounter {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rates == nil {
		d.rates = map[string]*ratecounter.RateCounter{}
	}
	c, ok := d.rates[campaignID]
	if !ok {
		c = ratecounter.NewRateCounter(time.Minute)
		d.rates[campaignID] = c
	}
	return c
}

// SendRate returns the number of successful sends for a campaign over the
// last minute, across all channels.
func (d *Dispatcher) SendRate(campaignID string) int64 {
	d.mu.Lock()
	c, ok := d.rates[campaignID]
	d.mu.Unlock()
	if !ok {
		return 0
	}
	return c.Rate()
}

// Forget drops the send-rate counter of a campaign that will not dispatch
// again.
func (d *Dispatcher) Forget(campaignID string) {
	d.mu.Lock()
	delete(d.rates, campaignID)
	d.mu.Unlock()
}

// Dispatch sends tpl to every vendor through s. Per-recipient failures are
// collected in the result; the returned error is reserved for a provider
// that cannot be used at all, or a cancelled context.
func (d *Dispatcher) Dispatch(ctx context.Context, s sender.ChannelSender, campaignID string, tpl *model.Template, vendors []*model.Vendor) (*BatchResult, error) {
	ch := s.Channel()
	ctx, span := telemetry.Tracer().Start(ctx, "dispatcher.batch")
	defer span.End()
	span.SetAttributes(
		attribute.String("campaign.id", campaignID),
		attribute.String("channel", string(ch)),
		attribute.Int("batch.size", len(vendors)),
	)

	log := d.Log.With().Str("campaign_id", campaignID).Str("channel", string(ch)).Logger()
	lim := d.limiter(s)
	sent := d.counter(campaignID)
	size := max(s.RateLimit(), 1)
	res := &BatchResult{}

	for start := 0; start < len(vendors); start += size {
		began := time.Now()
		batch := vendors[start:min(start+size, len(vendors))]
		results := make([]sender.Result, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		for i, v := range batch {
			if s.Address(v) == "" {
				results[i] = sender.Result{Outcome: sender.OutcomeSkipped}
				continue
			}
			g.Go(func() error {
				r, err := d.sendWithRetry(gctx, lim, s, campaignID, tpl, v)
				if err != nil {
					return err
				}
				results[i] = r
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "batch aborted")
			log.Error().Err(err).Int("sent", res.Sent).Msg("batch aborted")
			return res, fmt.Errorf("dispatch %s: %w", ch, err)
		}

		for i, r := range results {
			if r.Outcome == sender.OutcomeSent {
				sent.Incr(1)
			}
			d.record(ctx, res, ch, campaignID, batch[i], r, log)
		}

		if start+size < len(vendors) {
			if err := sleepCtx(ctx, d.window()-time.Since(began)); err != nil {
				return res, err
			}
		}
	}

	span.SetAttributes(attribute.Int("batch.sent", res.Sent), attribute.Int("batch.failed", res.Failed))
	log.Info().
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Int("already_sent", res.AlreadySent).
		Int64("send_rate_per_min", sent.Rate()).
		Msg("batch dispatched")
	return res, nil
}

// sendWithRetry makes at most two attempts. The second one happens only for
// a rate-limit signal or a transient failure, after RetryDelay.
func (d *Dispatcher) sendWithRetry(ctx context.Context, lim *rate.Limiter, s sender.ChannelSender, campaignID string, tpl *model.Template, v *model.Vendor) (sender.Result, error) {
	msg := RenderTemplate(tpl, v)
	for attempt := 0; ; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return sender.Result{}, err
		}
		r, err := s.Send(ctx, campaignID, v, msg)
		if err != nil {
			return r, err
		}
		retry := r.Outcome == sender.OutcomeRateLimited || (r.Outcome == sender.OutcomeFailed && r.Retryable)
		if !retry || attempt > 0 {
			if r.Outcome == sender.OutcomeRateLimited {
				r = sender.Result{Outcome: sender.OutcomeFailed, Reason: "rate limit exceeded after retry"}
			}
			return r, nil
		}
		if err := sleepCtx(ctx, d.retryDelay()); err != nil {
			return sender.Result{}, err
		}
	}
}

func (d *Dispatcher) record(ctx context.Context, res *BatchResult, ch model.Channel, campaignID string, v *model.Vendor, r sender.Result, log zerolog.Logger) {
	switch r.Outcome {
	case sender.OutcomeSent:
		res.Sent++
		res.Delivered = append(res.Delivered, v.ID)
	case sender.OutcomeAlreadySent:
		res.AlreadySent++
		res.Delivered = append(res.Delivered, v.ID)
	case sender.OutcomeSkipped:
		res.Skipped++
	default:
		res.Failed++
		reason := r.Reason
		if reason == "" {
			reason = "send failed"
		}
		res.Errors = append(res.Errors, fmt.Sprintf("%s to %s: %s", ch.Label(), vendorLabel(v), reason))
		rec := &model.DispatchRecord{
			CampaignID: campaignID,
			VendorID:   v.ID,
			Channel:    ch,
			Status:     model.DispatchFailed,
			LastError:  reason,
		}
		if err := d.Ledger.Append(ctx, rec); err != nil {
			log.Warn().Err(err).Str("vendor_id", v.ID).Msg("failed to record failed send")
		}
	}
}

func vendorLabel(v *model.Vendor) string {
	if v.VendorName != "" {
		return v.VendorName
	}
	return v.ID
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
