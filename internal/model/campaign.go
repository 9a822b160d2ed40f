// internal/model/campaign.go
package model

import "time"

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "Draft"
	CampaignActive    CampaignStatus = "Active"
	CampaignCompleted CampaignStatus = "Completed"
	CampaignCancelled CampaignStatus = "Cancelled"
)

// Terminal reports whether no transition can leave the status.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignCompleted || s == CampaignCancelled
}

// CanTransition encodes Draft -> Active -> {Completed, Cancelled}.
// Draft campaigns may also be ended or cancelled before they ever run.
func (s CampaignStatus) CanTransition(to CampaignStatus) bool {
	switch s {
	case CampaignDraft:
		return to == CampaignActive || to == CampaignCompleted || to == CampaignCancelled
	case CampaignActive:
		return to == CampaignCompleted || to == CampaignCancelled
	}
	return false
}

type Campaign struct {
	ID                 string         `db:"id" json:"id"`
	Name               string         `db:"name" json:"name"`
	Description        string         `db:"description" json:"description,omitempty"`
	Status             CampaignStatus `db:"status" json:"status"`
	EmailTemplateID    *string        `db:"email_template_id" json:"email_template_id,omitempty"`
	WhatsAppTemplateID *string        `db:"whatsapp_template_id" json:"whatsapp_template_id,omitempty"`
	Deadline           *time.Time     `db:"deadline" json:"deadline,omitempty"`
	// DispatchCursor is set while a chunk chain is in flight.
	DispatchCursor     *int           `db:"dispatch_cursor" json:"dispatch_cursor,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}

// TemplateID returns the template configured for ch, if any.
func (c *Campaign) TemplateID(ch Channel) (string, bool) {
	var id *string
	switch ch {
	case ChannelEmail:
		id = c.EmailTemplateID
	case ChannelWhatsApp:
		id = c.WhatsAppTemplateID
	}
	if id == nil || *id == "" {
		return "", false
	}
	return *id, true
}

// Channels lists the channels the campaign dispatches on, email first.
func (c *Campaign) Channels() []Channel {
	var out []Channel
	for _, ch := range AllChannels {
		if _, ok := c.TemplateID(ch); ok {
			out = append(out, ch)
		}
	}
	return out
}

// CampaignTarget is one entry of the fixed, ordered recipient set.
type CampaignTarget struct {
	CampaignID string `db:"campaign_id" json:"campaign_id"`
	Position   int    `db:"position" json:"position"`
	VendorID   string `db:"vendor_id" json:"vendor_id"`
}
