package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/vendor-dispatch/internal/db"
	appErrors "github.com/unclebandit/vendor-dispatch/internal/errors"
	"github.com/unclebandit/vendor-dispatch/internal/model"
)

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	Create(ctx context.Context, c *model.Campaign, vendorIDs []string) error
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error)
	TransitionStatus(ctx context.Context, id string, to model.CampaignStatus, from ...model.CampaignStatus) (bool, error)
	SetDispatchCursor(ctx context.Context, id string, cursor *int) error

	// Target set
	ListTargets(ctx context.Context, campaignID string, offset, limit int) ([]model.CampaignTarget, error)
	CountTargets(ctx context.Context, campaignID string) (int, error)
}

type CampaignRepository struct {
	DB *db.Conn
}

const campaignColumns = `id, name, description, status, email_template_id, whatsapp_template_id, deadline, dispatch_cursor, created_at, updated_at`

// ====================== Campaign CRUD ======================

// Create stores the campaign and its ordered target set in one transaction.
// vendorIDs must already be deduplicated; positions follow slice order.
func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign, vendorIDs []string) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	c.CreatedAt = time.Now().UTC()

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, r.DB.Rebind(`
        INSERT INTO campaigns (id, name, description, status, email_template_id, whatsapp_template_id, deadline, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `), c.ID, c.Name, nullString(c.Description), string(c.Status), derefString(c.EmailTemplateID), derefString(c.WhatsAppTemplateID), derefTime(c.Deadline), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, r.DB.Rebind(`INSERT INTO campaign_targets (campaign_id, position, vendor_id) VALUES (?, ?, ?)`))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, vendorID := range vendorIDs {
		if _, err := stmt.ExecContext(ctx, c.ID, i, vendorID); err != nil {
			return fmt.Errorf("insert target %d: %w", i, err)
		}
	}

	return tx.Commit()
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	row := r.DB.QueryRowContext(ctx, r.DB.Rebind(`SELECT `+campaignColumns+` FROM campaigns WHERE id=?`), id)
	c, err := scanCampaign(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	limit = clampLimit(limit)
	where := ` WHERE 1=1`
	args := []any{}
	if status != "" {
		where += ` AND status=?`
		args = append(args, status)
	}

	rows, err := r.DB.QueryContext(ctx,
		r.DB.Rebind(`SELECT `+campaignColumns+` FROM campaigns`+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`),
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	// Count total
	var total int
	if err := r.DB.QueryRowContext(ctx, r.DB.Rebind(`SELECT COUNT(*) FROM campaigns`+where), args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}

// TransitionStatus moves the campaign to `to` only if its current status is
// one of `from`. The conditional update keeps terminal states terminal even
// when two writers race. Returns false when nothing changed.
func (r *CampaignRepository) TransitionStatus(ctx context.Context, id string, to model.CampaignStatus, from ...model.CampaignStatus) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition to %s: no source status given", to)
	}
	args := []any{string(to), time.Now().UTC(), id}
	for _, s := range from {
		args = append(args, string(s))
	}
	res, err := r.DB.ExecContext(ctx,
		r.DB.Rebind(`UPDATE campaigns SET status=?, updated_at=? WHERE id=? AND status IN (`+db.Placeholders(len(from))+`)`),
		args...,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetDispatchCursor records the next start index of a running chain, or
// clears it (nil) when the chain ends. It also bumps updated_at, which the
// stall sweeper reads as a heartbeat.
func (r *CampaignRepository) SetDispatchCursor(ctx context.Context, id string, cursor *int) error {
	var v any
	if cursor != nil {
		v = *cursor
	}
	_, err := r.DB.ExecContext(ctx, r.DB.Rebind(`UPDATE campaigns SET dispatch_cursor=?, updated_at=? WHERE id=?`), v, time.Now().UTC(), id)
	return err
}

// ====================== Targets ======================

func (r *CampaignRepository) ListTargets(ctx context.Context, campaignID string, offset, limit int) ([]model.CampaignTarget, error) {
	rows, err := r.DB.QueryContext(ctx, r.DB.Rebind(`
        SELECT campaign_id, position, vendor_id
        FROM campaign_targets
        WHERE campaign_id=?
        ORDER BY position
        LIMIT ? OFFSET ?
    `), campaignID, clampLimit(limit), offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	targets := []model.CampaignTarget{}
	for rows.Next() {
		var t model.CampaignTarget
		if err := rows.Scan(&t.CampaignID, &t.Position, &t.VendorID); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func (r *CampaignRepository) CountTargets(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, r.DB.Rebind(`SELECT COUNT(*) FROM campaign_targets WHERE campaign_id=?`), campaignID).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(s rowScanner) (*model.Campaign, error) {
	var (
		c                     model.Campaign
		status                string
		description           sql.NullString
		emailTpl, whatsappTpl sql.NullString
		deadline, updatedAt   sql.NullTime
		cursor                sql.NullInt64
	)
	if err := s.Scan(&c.ID, &c.Name, &description, &status, &emailTpl, &whatsappTpl, &deadline, &cursor, &c.CreatedAt, &updatedAt); err != nil {
		return nil, err
	}
	c.Status = model.CampaignStatus(status)
	c.Description = description.String
	c.EmailTemplateID = stringPtr(emailTpl)
	c.WhatsAppTemplateID = stringPtr(whatsappTpl)
	if deadline.Valid {
		c.Deadline = &deadline.Time
	}
	if updatedAt.Valid {
		c.UpdatedAt = &updatedAt.Time
	}
	if cursor.Valid {
		n := int(cursor.Int64)
		c.DispatchCursor = &n
	}
	return &c, nil
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	s := ns.String
	return &s
}

func derefString(p *string) any {
	if p == nil {
		return nil
	}
	return nullString(*p)
}

func derefTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.UTC()
}

func nullString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
