package sender

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/unclebandit/vendor-dispatch/internal/model"
	"github.com/unclebandit/vendor-dispatch/internal/repository"
)

type Outcome int

const (
	OutcomeSent Outcome = iota
	OutcomeFailed
	OutcomeRateLimited
	// OutcomeSkipped: no usable address for the channel. Not an error.
	OutcomeSkipped
	// OutcomeAlreadySent: the ledger (or this process) already holds a
	// successful send, so the provider was not called.
	OutcomeAlreadySent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeFailed:
		return "failed"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeAlreadySent:
		return "already_sent"
	}
	return "unknown"
}

type Result struct {
	Outcome           Outcome
	ProviderMessageID string
	Reason            string
	// Retryable marks a transient failure worth one more attempt.
	Retryable bool
}

// ChannelSender delivers one message on one channel. A non-nil error means
// the provider is unusable and the whole chunk should stop.
type ChannelSender interface {
	Channel() model.Channel
	// RateLimit is the provider's sustained sends-per-second ceiling.
	RateLimit() int
	Address(v *model.Vendor) string
	Send(ctx context.Context, campaignID string, v *model.Vendor, msg model.RenderedMessage) (Result, error)
}

// delivery holds what both channel variants share: the provider call
// bracketed by the ledger read-before-write and the success writes.
type delivery struct {
	channel   model.Channel
	rate      int
	provider  Provider
	ledger    repository.LedgerInterface
	responses repository.ResponseRepositoryInterface
	log       zerolog.Logger

	// delivered remembers provider successes whose ledger write failed, so a
	// retry in this process never sends twice.
	delivered sync.Map
}

func (d *delivery) deliver(ctx context.Context, campaignID, vendorID, to, subject, body string) (Result, error) {
	key := campaignID + "/" + vendorID
	if _, ok := d.delivered.Load(key); ok {
		return Result{Outcome: OutcomeAlreadySent}, nil
	}

	sent, err := d.ledger.HasSent(ctx, campaignID, vendorID, d.channel)
	if err != nil {
		// Unknown ledger state: fail this recipient rather than risk a blind send.
		d.log.Warn().Err(err).Str("campaign_id", campaignID).Str("vendor_id", vendorID).Msg("ledger check failed")
		return Result{Outcome: OutcomeFailed, Reason: "could not verify previous sends", Retryable: true}, nil
	}
	if sent {
		return Result{Outcome: OutcomeAlreadySent}, nil
	}

	resp, err := d.provider.Send(ctx, to, subject, body)
	if err != nil {
		return Result{}, err
	}
	if !resp.OK {
		switch resp.ErrorCode {
		case ErrorCodeRateLimited:
			return Result{Outcome: OutcomeRateLimited, Reason: "rate limit exceeded"}, nil
		case ErrorCodeTransient:
			return Result{Outcome: OutcomeFailed, Reason: resp.Message, Retryable: true}, nil
		}
		return Result{Outcome: OutcomeFailed, Reason: resp.Message}, nil
	}

	d.delivered.Store(key, resp.MessageID)

	rec := &model.DispatchRecord{
		CampaignID:        campaignID,
		VendorID:          vendorID,
		Channel:           d.channel,
		Status:            model.DispatchSent,
		ProviderMessageID: resp.MessageID,
	}
	if err := d.ledger.Append(ctx, rec); err != nil {
		d.log.Error().Err(err).
			Str("campaign_id", campaignID).
			Str("vendor_id", vendorID).
			Str("channel", string(d.channel)).
			Str("provider_message_id", resp.MessageID).
			Msg("ledger inconsistency: provider accepted message but sent record was not written")
	} else {
		d.delivered.Delete(key)
	}
	if err := d.responses.UpsertPending(ctx, campaignID, vendorID); err != nil {
		d.log.Warn().Err(err).Str("campaign_id", campaignID).Str("vendor_id", vendorID).Msg("failed to mark response pending")
	}

	return Result{Outcome: OutcomeSent, ProviderMessageID: resp.MessageID}, nil
}

// EmailSender delivers subject and body to the vendor's email address.
type EmailSender struct {
	delivery
}

func NewEmailSender(p Provider, rate int, ledger repository.LedgerInterface, responses repository.ResponseRepositoryInterface, log zerolog.Logger) *EmailSender {
	return &EmailSender{delivery{
		channel:   model.ChannelEmail,
		rate:      max(rate, 1),
		provider:  p,
		ledger:    ledger,
		responses: responses,
		log:       log.With().Str("channel", string(model.ChannelEmail)).Logger(),
	}}
}

func (s *EmailSender) Channel() model.Channel { return model.ChannelEmail }
func (s *EmailSender) RateLimit() int         { return s.rate }

func (s *EmailSender) Address(v *model.Vendor) string { return v.Email }

func (s *EmailSender) Send(ctx context.Context, campaignID string, v *model.Vendor, msg model.RenderedMessage) (Result, error) {
	to := s.Address(v)
	if to == "" {
		return Result{Outcome: OutcomeSkipped}, nil
	}
	return s.deliver(ctx, campaignID, v.ID, to, msg.Subject, msg.Body)
}

// WhatsAppSender delivers the body to the vendor's phone, normalised to E.164.
type WhatsAppSender struct {
	delivery
	countryCode string
}

func NewWhatsAppSender(p Provider, rate int, countryCode string, ledger repository.LedgerInterface, responses repository.ResponseRepositoryInterface, log zerolog.Logger) *WhatsAppSender {
	return &WhatsAppSender{
		delivery: delivery{
			channel:   model.ChannelWhatsApp,
			rate:      max(rate, 1),
			provider:  p,
			ledger:    ledger,
			responses: responses,
			log:       log.With().Str("channel", string(model.ChannelWhatsApp)).Logger(),
		},
		countryCode: countryCode,
	}
}

func (s *WhatsAppSender) Channel() model.Channel { return model.ChannelWhatsApp }
func (s *WhatsAppSender) RateLimit() int         { return s.rate }

func (s *WhatsAppSender) Address(v *model.Vendor) string {
	return FormatPhoneNumber(v.Phone, s.countryCode)
}

func (s *WhatsAppSender) Send(ctx context.Context, campaignID string, v *model.Vendor, msg model.RenderedMessage) (Result, error) {
	to := s.Address(v)
	if to == "" {
		return Result{Outcome: OutcomeSkipped}, nil
	}
	return s.deliver(ctx, campaignID, v.ID, to, "", msg.Body)
}

var (
	_ ChannelSender = (*EmailSender)(nil)
	_ ChannelSender = (*WhatsAppSender)(nil)
)
