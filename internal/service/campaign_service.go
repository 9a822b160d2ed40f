// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/vendor-dispatch/internal/errors"
	"github.com/unclebandit/vendor-dispatch/internal/model"
	"github.com/unclebandit/vendor-dispatch/internal/repository"
)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	VendorRepo   repository.VendorRepositoryInterface
	TemplateRepo repository.TemplateRepositoryInterface
	Ledger       repository.LedgerInterface
	ResponseRepo repository.ResponseRepositoryInterface
	Log          zerolog.Logger
}

type CreateCampaignInput struct {
	Name               string     `json:"name"`
	Description        string     `json:"description"`
	EmailTemplateID    *string    `json:"email_template_id"`
	WhatsAppTemplateID *string    `json:"whatsapp_template_id"`
	VendorIDs          []string   `json:"vendor_ids"`
	Deadline           *time.Time `json:"deadline"`
}

type CampaignDetails struct {
	*model.Campaign
	TotalRecipients int                                            `json:"total_recipients"`
	Stats           map[model.Channel]map[model.DispatchStatus]int `json:"stats"`
	Responses       map[string]int                                 `json:"responses"`
	LastActivity    *time.Time                                     `json:"last_activity,omitempty"`
}

// CreateCampaign stores a Draft campaign with its fixed target list. Repeated
// vendor IDs keep their first position.
func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*model.Campaign, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, appErrors.Invalidf("name is required")
	}

	c := &model.Campaign{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Status:      model.CampaignDraft,
		Deadline:    in.Deadline,
	}
	if in.EmailTemplateID != nil && *in.EmailTemplateID != "" {
		c.EmailTemplateID = in.EmailTemplateID
	}
	if in.WhatsAppTemplateID != nil && *in.WhatsAppTemplateID != "" {
		c.WhatsAppTemplateID = in.WhatsAppTemplateID
	}
	channels := c.Channels()
	if len(channels) == 0 {
		return nil, appErrors.Invalidf("at least one of email_template_id or whatsapp_template_id is required")
	}
	for _, ch := range channels {
		id, _ := c.TemplateID(ch)
		tpl, err := s.TemplateRepo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if tpl.Channel != ch {
			return nil, appErrors.Invalidf("template %s is a %s template", id, tpl.Channel)
		}
	}

	vendorIDs := dedupe(in.VendorIDs)
	if len(vendorIDs) == 0 {
		return nil, appErrors.Invalidf("vendor_ids must not be empty")
	}
	found, err := s.VendorRepo.GetByIDs(ctx, vendorIDs)
	if err != nil {
		return nil, err
	}
	if len(found) != len(vendorIDs) {
		known := make(map[string]struct{}, len(found))
		for _, v := range found {
			known[v.ID] = struct{}{}
		}
		for _, id := range vendorIDs {
			if _, ok := known[id]; !ok {
				return nil, appErrors.NewVendorNotFound(id)
			}
		}
	}

	if err := s.CampaignRepo.Create(ctx, c, vendorIDs); err != nil {
		return nil, err
	}
	s.Log.Info().Str("campaign_id", c.ID).Int("recipients", len(vendorIDs)).Msg("campaign created")
	return c, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, campaignID string) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	total, err := s.CampaignRepo.CountTargets(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("count targets: %w", err)
	}
	stats, err := s.Ledger.Stats(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("ledger stats: %w", err)
	}
	// every configured channel shows up, even before its first send
	for _, ch := range campaign.Channels() {
		if stats[ch] == nil {
			stats[ch] = map[model.DispatchStatus]int{}
		}
		for _, st := range []model.DispatchStatus{model.DispatchSent, model.DispatchFailed} {
			if _, ok := stats[ch][st]; !ok {
				stats[ch][st] = 0
			}
		}
	}
	responses, err := s.ResponseRepo.CountByStatus(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("response stats: %w", err)
	}
	last, err := s.Ledger.LastActivity(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("last activity: %w", err)
	}

	return &CampaignDetails{
		Campaign:        campaign,
		TotalRecipients: total,
		Stats:           stats,
		Responses:       responses,
		LastActivity:    last,
	}, nil
}

// RenderPreview renders the campaign's template for ch against one vendor,
// exactly as the dispatcher would.
func (s *CampaignService) RenderPreview(ctx context.Context, campaignID, vendorID string, ch model.Channel) (*model.RenderedMessage, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if ch == "" {
		channels := campaign.Channels()
		if len(channels) == 0 {
			return nil, appErrors.Configf("campaign %s has no template", campaignID)
		}
		ch = channels[0]
	}
	if !ch.Valid() {
		return nil, appErrors.Invalidf("unknown channel %q", ch)
	}
	tplID, ok := campaign.TemplateID(ch)
	if !ok {
		return nil, appErrors.Configf("campaign %s has no %s template", campaignID, ch)
	}
	tpl, err := s.TemplateRepo.GetByID(ctx, tplID)
	if err != nil {
		return nil, err
	}
	vendor, err := s.VendorRepo.GetByID(ctx, vendorID)
	if err != nil {
		return nil, err
	}

	msg := RenderTemplate(tpl, vendor)
	return &msg, nil
}

// EndCampaign marks the campaign Completed. Further chunks halt; the ledger
// is left as is.
func (s *CampaignService) EndCampaign(ctx context.Context, campaignID string) (*model.Campaign, error) {
	return s.finish(ctx, campaignID, model.CampaignCompleted)
}

func (s *CampaignService) CancelCampaign(ctx context.Context, campaignID string) (*model.Campaign, error) {
	return s.finish(ctx, campaignID, model.CampaignCancelled)
}

// finish is idempotent for campaigns that are already terminal.
func (s *CampaignService) finish(ctx context.Context, campaignID string, to model.CampaignStatus) (*model.Campaign, error) {
	ok, err := s.CampaignRepo.TransitionStatus(ctx, campaignID, to, model.CampaignDraft, model.CampaignActive)
	if err != nil {
		return nil, err
	}
	if !ok {
		c, err := s.CampaignRepo.GetByID(ctx, campaignID)
		if err != nil {
			return nil, err
		}
		if c.Status.Terminal() {
			return c, nil
		}
		return nil, fmt.Errorf("%w: %s to %s", appErrors.ErrInvalidTransition, c.Status, to)
	}

	if err := s.CampaignRepo.SetDispatchCursor(ctx, campaignID, nil); err != nil {
		s.Log.Warn().Err(err).Str("campaign_id", campaignID).Msg("failed to clear dispatch cursor")
	}
	s.Log.Info().Str("campaign_id", campaignID).Str("status", string(to)).Msg("campaign finished by operator")
	return s.CampaignRepo.GetByID(ctx, campaignID)
}
