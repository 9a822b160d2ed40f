package model

import "time"

const ResponsePending = "Pending"

// ResponseRecord tracks a vendor's reply to a campaign. The dispatch engine
// only ever moves it to Pending.
type ResponseRecord struct {
	CampaignID     string    `db:"campaign_id" json:"campaign_id"`
	VendorID       string    `db:"vendor_id" json:"vendor_id"`
	ResponseStatus string    `db:"response_status" json:"response_status"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}
