package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/vendor-dispatch/internal/db"
	appErrors "github.com/unclebandit/vendor-dispatch/internal/errors"
	"github.com/unclebandit/vendor-dispatch/internal/model"
)

type TemplateRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*model.Template, error)
}

type TemplateRepository struct {
	DB *db.Conn
}

func (r *TemplateRepository) Create(ctx context.Context, t *model.Template) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if !t.Channel.Valid() {
		return fmt.Errorf("template channel %q is not supported", t.Channel)
	}
	vars, err := json.Marshal(t.Variables)
	if err != nil {
		return err
	}
	t.CreatedAt = time.Now().UTC()
	_, err = r.DB.ExecContext(ctx, r.DB.Rebind(`
        INSERT INTO templates (id, name, channel, subject, body, variables, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `), t.ID, t.Name, string(t.Channel), nullString(t.Subject), t.Body, string(vars), t.CreatedAt)
	return err
}

func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*model.Template, error) {
	var (
		t       model.Template
		channel string
		subject sql.NullString
		vars    string
	)
	err := r.DB.QueryRowContext(ctx, r.DB.Rebind(`
        SELECT id, name, channel, subject, body, variables, created_at
        FROM templates WHERE id=?
    `), id).Scan(&t.ID, &t.Name, &channel, &subject, &t.Body, &vars, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewTemplateNotFound(id)
		}
		return nil, err
	}
	t.Channel = model.Channel(channel)
	t.Subject = subject.String
	if err := json.Unmarshal([]byte(vars), &t.Variables); err != nil {
		return nil, fmt.Errorf("template %s: decode variables: %w", id, err)
	}
	return &t, nil
}

var _ TemplateRepositoryInterface = (*TemplateRepository)(nil)
