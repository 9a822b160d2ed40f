package repository

import (
	"context"
	"time"

	"github.com/unclebandit/vendor-dispatch/internal/db"
	"github.com/unclebandit/vendor-dispatch/internal/model"
)

type ResponseRepositoryInterface interface {
	UpsertPending(ctx context.Context, campaignID, vendorID string) error
	CountByStatus(ctx context.Context, campaignID string) (map[string]int, error)
}

// ResponseRepository writes vendor_responses, which belong to the dashboard.
// Dispatch only ever resets a row to Pending.
type ResponseRepository struct {
	DB *db.Conn
}

func (r *ResponseRepository) UpsertPending(ctx context.Context, campaignID, vendorID string) error {
	_, err := r.DB.ExecContext(ctx, r.DB.Rebind(`
        INSERT INTO vendor_responses (campaign_id, vendor_id, response_status, form_data, updated_at)
        VALUES (?, ?, ?, '{}', ?)
        ON CONFLICT (campaign_id, vendor_id)
        DO UPDATE SET response_status=excluded.response_status, updated_at=excluded.updated_at
    `), campaignID, vendorID, model.ResponsePending, time.Now().UTC())
	return err
}

func (r *ResponseRepository) CountByStatus(ctx context.Context, campaignID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, r.DB.Rebind(`
        SELECT response_status, COUNT(*) FROM vendor_responses
        WHERE campaign_id=?
        GROUP BY response_status
    `), campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

var _ ResponseRepositoryInterface = (*ResponseRepository)(nil)
