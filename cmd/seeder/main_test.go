package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/vendor-dispatch/internal/db"
	"github.com/unclebandit/vendor-dispatch/internal/model"
	"github.com/unclebandit/vendor-dispatch/internal/repository"
)

func TestSeedCreatesDraftCampaign(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, db.DriverSQLite, "file::memory:")
	require.NoError(t, err)
	defer conn.Close()

	c, err := seed(ctx, conn, 25, "demo", zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, model.CampaignDraft, c.Status)
	require.NotNil(t, c.EmailTemplateID)
	require.NotNil(t, c.WhatsAppTemplateID)

	n, err := (&repository.CampaignRepository{DB: conn}).CountTargets(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 25, n)
}
