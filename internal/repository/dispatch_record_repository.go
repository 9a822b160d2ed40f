package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/vendor-dispatch/internal/db"
	"github.com/unclebandit/vendor-dispatch/internal/model"
)

// LedgerInterface is the progress ledger: append-only, and the only source
// of truth for "already sent".
type LedgerInterface interface {
	Append(ctx context.Context, rec *model.DispatchRecord) error
	HasSent(ctx context.Context, campaignID, vendorID string, ch model.Channel) (bool, error)
	ListSentVendorIDs(ctx context.Context, campaignID string, ch model.Channel, offset, limit int) ([]string, error)
	Stats(ctx context.Context, campaignID string) (map[model.Channel]map[model.DispatchStatus]int, error)
	LastActivity(ctx context.Context, campaignID string) (*time.Time, error)
}

type DispatchRecordRepository struct {
	DB *db.Conn
}

// Append inserts a record. There is deliberately no uniqueness constraint on
// (campaign, vendor, channel); callers check HasSent first.
func (r *DispatchRecordRepository) Append(ctx context.Context, rec *model.DispatchRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := r.DB.ExecContext(ctx, r.DB.Rebind(`
        INSERT INTO dispatch_records
        (id, campaign_id, vendor_id, channel, status, provider_message_id, last_error, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `), rec.ID, rec.CampaignID, rec.VendorID, string(rec.Channel), string(rec.Status),
		nullString(rec.ProviderMessageID), nullString(rec.LastError), rec.CreatedAt)
	return err
}

func (r *DispatchRecordRepository) HasSent(ctx context.Context, campaignID, vendorID string, ch model.Channel) (bool, error) {
	var tmp int
	err := r.DB.QueryRowContext(ctx, r.DB.Rebind(`
        SELECT 1 FROM dispatch_records
        WHERE campaign_id=? AND vendor_id=? AND channel=? AND status=?
        LIMIT 1
    `), campaignID, vendorID, string(ch), string(model.DispatchSent)).Scan(&tmp)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListSentVendorIDs pages through vendors holding a sent record in the order
// they were recorded. A vendor may appear twice if an overlapping run
// duplicated a send.
func (r *DispatchRecordRepository) ListSentVendorIDs(ctx context.Context, campaignID string, ch model.Channel, offset, limit int) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, r.DB.Rebind(`
        SELECT vendor_id FROM dispatch_records
        WHERE campaign_id=? AND channel=? AND status=?
        ORDER BY created_at, id
        LIMIT ? OFFSET ?
    `), campaignID, string(ch), string(model.DispatchSent), clampLimit(limit), offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats counts ledger rows per channel and status. Failed rows count
// attempts, not vendors.
func (r *DispatchRecordRepository) Stats(ctx context.Context, campaignID string) (map[model.Channel]map[model.DispatchStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx, r.DB.Rebind(`
        SELECT channel, status, COUNT(*)
        FROM dispatch_records
        WHERE campaign_id=?
        GROUP BY channel, status
    `), campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[model.Channel]map[model.DispatchStatus]int{}
	for rows.Next() {
		var (
			ch, status string
			count      int
		)
		if err := rows.Scan(&ch, &status, &count); err != nil {
			return nil, err
		}
		c := model.Channel(ch)
		if stats[c] == nil {
			stats[c] = map[model.DispatchStatus]int{model.DispatchSent: 0, model.DispatchFailed: 0}
		}
		stats[c][model.DispatchStatus(status)] = count
	}
	return stats, rows.Err()
}

// LastActivity returns the newest ledger timestamp, or nil for a campaign
// with no attempts yet.
func (r *DispatchRecordRepository) LastActivity(ctx context.Context, campaignID string) (*time.Time, error) {
	var last time.Time
	err := r.DB.QueryRowContext(ctx, r.DB.Rebind(`
        SELECT created_at FROM dispatch_records
        WHERE campaign_id=?
        ORDER BY created_at DESC
        LIMIT 1
    `), campaignID).Scan(&last)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &last, nil
}

var _ LedgerInterface = (*DispatchRecordRepository)(nil)
