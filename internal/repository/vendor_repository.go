package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/vendor-dispatch/internal/db"
	appErrors "github.com/unclebandit/vendor-dispatch/internal/errors"
	"github.com/unclebandit/vendor-dispatch/internal/model"
)

// VendorRepositoryInterface defines methods used by service
type VendorRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*model.Vendor, error)
	GetByIDs(ctx context.Context, ids []string) ([]*model.Vendor, error)
}

// VendorRepository is the concrete implementation
type VendorRepository struct {
	DB *db.Conn
}

const vendorColumns = `id, vendor_name, vendor_code, email, phone, location, business_category, udyam_number`

func (r *VendorRepository) Create(ctx context.Context, v *model.Vendor) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	_, err := r.DB.ExecContext(ctx, r.DB.Rebind(`
        INSERT INTO vendors (`+vendorColumns+`, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `), v.ID, v.VendorName, v.VendorCode, nullString(v.Email), nullString(v.Phone),
		nullString(v.Location), nullString(v.BusinessCategory), nullString(v.UdyamNumber), time.Now().UTC())
	return err
}

// GetByID fetches a vendor by ID
func (r *VendorRepository) GetByID(ctx context.Context, id string) (*model.Vendor, error) {
	row := r.DB.QueryRowContext(ctx, r.DB.Rebind(`SELECT `+vendorColumns+` FROM vendors WHERE id=?`), id)
	v, err := scanVendor(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewVendorNotFound(id)
		}
		return nil, err
	}
	return v, nil
}

// GetByIDs fetches the given vendors in MaxPageSize slices. Unknown IDs are
// simply absent from the result; order is not guaranteed.
func (r *VendorRepository) GetByIDs(ctx context.Context, ids []string) ([]*model.Vendor, error) {
	vendors := make([]*model.Vendor, 0, len(ids))
	for start := 0; start < len(ids); start += MaxPageSize {
		end := min(start+MaxPageSize, len(ids))
		batch := ids[start:end]

		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		rows, err := r.DB.QueryContext(ctx,
			r.DB.Rebind(`SELECT `+vendorColumns+` FROM vendors WHERE id IN (`+db.Placeholders(len(batch))+`)`),
			args...,
		)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			v, err := scanVendor(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			vendors = append(vendors, v)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return vendors, nil
}

func (r *VendorRepository) List(ctx context.Context, offset, limit int) ([]*model.Vendor, error) {
	rows, err := r.DB.QueryContext(ctx,
		r.DB.Rebind(`SELECT `+vendorColumns+` FROM vendors ORDER BY vendor_code, id LIMIT ? OFFSET ?`),
		clampLimit(limit), offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vendors := []*model.Vendor{}
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		vendors = append(vendors, v)
	}
	return vendors, rows.Err()
}

func scanVendor(s rowScanner) (*model.Vendor, error) {
	var (
		v                                       model.Vendor
		email, phone, location, category, udyam sql.NullString
	)
	if err := s.Scan(&v.ID, &v.VendorName, &v.VendorCode, &email, &phone, &location, &category, &udyam); err != nil {
		return nil, err
	}
	v.Email = email.String
	v.Phone = phone.String
	v.Location = location.String
	v.BusinessCategory = category.String
	v.UdyamNumber = udyam.String
	return &v, nil
}

var _ VendorRepositoryInterface = (*VendorRepository)(nil)
