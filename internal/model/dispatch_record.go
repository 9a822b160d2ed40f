// internal/model/dispatch_record.go
package model

import "time"

type DispatchStatus string

const (
	DispatchSent   DispatchStatus = "sent"
	DispatchFailed DispatchStatus = "failed"
)

// DispatchRecord is one ledger entry: a single attempted send.
type DispatchRecord struct {
	ID                string         `db:"id" json:"id"`
	CampaignID        string         `db:"campaign_id" json:"campaign_id"`
	VendorID          string         `db:"vendor_id" json:"vendor_id"`
	Channel           Channel        `db:"channel" json:"channel"`
	Status            DispatchStatus `db:"status" json:"status"`
	ProviderMessageID string         `db:"provider_message_id" json:"provider_message_id,omitempty"`
	LastError         string         `db:"last_error" json:"last_error,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
}
