// Command seeder fills the configured database with demo vendors, one
// template per channel and a Draft campaign targeting every seeded vendor.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/unclebandit/vendor-dispatch/internal/config"
	"github.com/unclebandit/vendor-dispatch/internal/db"
	"github.com/unclebandit/vendor-dispatch/internal/logging"
	"github.com/unclebandit/vendor-dispatch/internal/model"
	"github.com/unclebandit/vendor-dispatch/internal/repository"
	"github.com/unclebandit/vendor-dispatch/internal/service"
)

var categories = []string{"Manufacturing", "Logistics", "Textiles", "Food Processing", "IT Services"}
var locations = []string{"Pune", "Chennai", "Surat", "Indore", "Kochi"}

func main() {
	var vendors int
	var name string
	flag.IntVar(&vendors, "vendors", 120, "number of vendors to create")
	flag.StringVar(&name, "campaign", "MSME compliance drive", "campaign name")
	flag.Parse()

	cfg, found, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.Log, "seeder")
	if !found {
		log.Warn().Msg("no .env file found, relying on OS environment variables")
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DB.Driver, cfg.DB.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer conn.Close()

	c, err := seed(ctx, conn, vendors, name, log)
	if err != nil {
		log.Fatal().Err(err).Msg("seed")
	}
	log.Info().Str("campaign_id", c.ID).Int("vendors", vendors).Msg("database seeding completed")
}

func seed(ctx context.Context, conn *db.Conn, n int, name string, log zerolog.Logger) (*model.Campaign, error) {
	vendorRepo := &repository.VendorRepository{DB: conn}
	templateRepo := &repository.TemplateRepository{DB: conn}

	email := &model.Template{
		Name:      "Compliance email",
		Channel:   model.ChannelEmail,
		Subject:   "MSME compliance update for {vendor_name}",
		Body:      "Dear {vendor_name},\n\nPlease confirm your Udyam registration ({udyam_number}) for vendor code {vendor_code}.",
		Variables: []string{"vendor_name", "udyam_number", "vendor_code"},
	}
	whatsapp := &model.Template{
		Name:      "Compliance WhatsApp",
		Channel:   model.ChannelWhatsApp,
		Body:      "Hi {vendor_name}, please confirm your MSME status for {location}.",
		Variables: []string{"vendor_name", "location"},
	}
	for _, t := range []*model.Template{email, whatsapp} {
		if err := templateRepo.Create(ctx, t); err != nil {
			return nil, fmt.Errorf("create template %s: %w", t.Name, err)
		}
	}

	ids := make([]string, 0, n)
	for i := range n {
		v := &model.Vendor{
			VendorName:       fmt.Sprintf("Vendor %03d Pvt Ltd", i+1),
			VendorCode:       fmt.Sprintf("VND%05d", i+1),
			Email:            fmt.Sprintf("vendor%03d@example.com", i+1),
			Phone:            fmt.Sprintf("98%08d", i+1),
			Location:         locations[i%len(locations)],
			BusinessCategory: categories[i%len(categories)],
			UdyamNumber:      fmt.Sprintf("UDYAM-MH-%02d-%07d", i%36, i+1),
		}
		// Every tenth vendor is reachable on WhatsApp only.
		if i%10 == 9 {
			v.Email = ""
		}
		if err := vendorRepo.Create(ctx, v); err != nil {
			return nil, fmt.Errorf("create vendor %d: %w", i, err)
		}
		ids = append(ids, v.ID)
	}

	svc := &service.CampaignService{
		CampaignRepo: &repository.CampaignRepository{DB: conn},
		VendorRepo:   vendorRepo,
		TemplateRepo: templateRepo,
		Ledger:       &repository.DispatchRecordRepository{DB: conn},
		ResponseRepo: &repository.ResponseRepository{DB: conn},
		Log:          log,
	}
	return svc.CreateCampaign(ctx, service.CreateCampaignInput{
		Name:               name,
		Description:        "Seeded demo campaign",
		EmailTemplateID:    &email.ID,
		WhatsAppTemplateID: &whatsapp.ID,
		VendorIDs:          ids,
	})
}
