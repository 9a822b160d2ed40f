package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/vendor-dispatch/internal/db"
	"github.com/unclebandit/vendor-dispatch/internal/model"
	"github.com/unclebandit/vendor-dispatch/internal/repository"
	"github.com/unclebandit/vendor-dispatch/internal/sender"
	"github.com/unclebandit/vendor-dispatch/internal/service"
)

// fakeProvider accepts everything unless respond says otherwise.
type fakeProvider struct {
	mu      sync.Mutex
	calls   []time.Time
	to      []string
	respond func(n int, to string) (sender.ProviderResponse, error)
}

func (p *fakeProvider) Send(ctx context.Context, to, subject, body string) (sender.ProviderResponse, error) {
	p.mu.Lock()
	n := len(p.calls)
	p.calls = append(p.calls, time.Now())
	p.to = append(p.to, to)
	respond := p.respond
	p.mu.Unlock()

	if respond != nil {
		return respond(n, to)
	}
	return sender.ProviderResponse{OK: true, MessageID: fmt.Sprintf("msg-%d", n)}, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakeProvider) recipients() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.to...)
}

func (p *fakeProvider) callTimes() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.calls...)
}

type scheduled struct {
	req   service.ChunkRequest
	after time.Duration
}

type recordingScheduler struct {
	mu   sync.Mutex
	jobs []scheduled
	err  error
}

func (s *recordingScheduler) ScheduleChunk(ctx context.Context, req service.ChunkRequest, after time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, scheduled{req: req, after: after})
	return nil
}

func (s *recordingScheduler) last() (scheduled, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs) == 0 {
		return scheduled{}, false
	}
	return s.jobs[len(s.jobs)-1], true
}

// store bundles the sqlite-backed repositories every test works against.
type store struct {
	conn      *db.Conn
	campaigns *repository.CampaignRepository
	vendors   *repository.VendorRepository
	templates *repository.TemplateRepository
	ledger    *repository.DispatchRecordRepository
	responses *repository.ResponseRepository
}

func newStore(t *testing.T) *store {
	t.Helper()
	conn, err := db.Open(context.Background(), db.DriverSQLite, "file::memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &store{
		conn:      conn,
		campaigns: &repository.CampaignRepository{DB: conn},
		vendors:   &repository.VendorRepository{DB: conn},
		templates: &repository.TemplateRepository{DB: conn},
		ledger:    &repository.DispatchRecordRepository{DB: conn},
		responses: &repository.ResponseRepository{DB: conn},
	}
}

func (s *store) template(t *testing.T, ch model.Channel) *model.Template {
	t.Helper()
	tpl := &model.Template{
		Name:      string(ch) + " invite",
		Channel:   ch,
		Body:      "Dear {vendor_name}, please update {udyam_number}",
		Variables: []string{"vendor_name", "udyam_number"},
	}
	if ch == model.ChannelEmail {
		tpl.Subject = "Compliance update for {vendor_name}"
	}
	if err := s.templates.Create(context.Background(), tpl); err != nil {
		t.Fatalf("create template: %v", err)
	}
	return tpl
}

// seedVendors creates n vendors with both addresses; noEmail lists indexes
// created without an email address.
func (s *store) seedVendors(t *testing.T, n int, noEmail ...int) []string {
	t.Helper()
	skip := map[int]bool{}
	for _, i := range noEmail {
		skip[i] = true
	}
	ids := make([]string, n)
	for i := range n {
		v := &model.Vendor{
			ID:         fmt.Sprintf("v-%03d", i),
			VendorName: fmt.Sprintf("Vendor %d", i),
			VendorCode: fmt.Sprintf("VC%03d", i),
			Phone:      fmt.Sprintf("98765%05d", i),
		}
		if !skip[i] {
			v.Email = fmt.Sprintf("vendor%d@example.com", i)
		}
		if err := s.vendors.Create(context.Background(), v); err != nil {
			t.Fatalf("create vendor: %v", err)
		}
		ids[i] = v.ID
	}
	return ids
}

func (s *store) campaign(t *testing.T, vendorIDs []string, tpls ...*model.Template) *model.Campaign {
	t.Helper()
	c := &model.Campaign{Name: "compliance drive"}
	for _, tpl := range tpls {
		id := tpl.ID
		switch tpl.Channel {
		case model.ChannelEmail:
			c.EmailTemplateID = &id
		case model.ChannelWhatsApp:
			c.WhatsAppTemplateID = &id
		}
	}
	if err := s.campaigns.Create(context.Background(), c, vendorIDs); err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	return c
}

func (s *store) sentCount(t *testing.T, campaignID string, ch model.Channel) int {
	t.Helper()
	stats, err := s.ledger.Stats(context.Background(), campaignID)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	return stats[ch][model.DispatchSent]
}

func (s *store) status(t *testing.T, campaignID string) (model.CampaignStatus, *int) {
	t.Helper()
	c, err := s.campaigns.GetByID(context.Background(), campaignID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return c.Status, c.DispatchCursor
}

const (
	testRate   = 2
	testWindow = 10 * time.Millisecond
)

type rig struct {
	*store
	email     *fakeProvider
	whatsapp  *fakeProvider
	scheduler *recordingScheduler
	orch      *service.Orchestrator
}

// newRig wires an orchestrator over sqlite with fake providers. Only the
// given channels get a sender.
func newRig(t *testing.T, channels ...model.Channel) *rig {
	t.Helper()
	st := newStore(t)
	r := &rig{
		store:     st,
		email:     &fakeProvider{},
		whatsapp:  &fakeProvider{},
		scheduler: &recordingScheduler{},
	}

	var senders []sender.ChannelSender
	for _, ch := range channels {
		switch ch {
		case model.ChannelEmail:
			senders = append(senders, sender.NewEmailSender(r.email, testRate, st.ledger, st.responses, zerolog.Nop()))
		case model.ChannelWhatsApp:
			senders = append(senders, sender.NewWhatsAppSender(r.whatsapp, testRate, "91", st.ledger, st.responses, zerolog.Nop()))
		}
	}

	r.orch = &service.Orchestrator{
		Campaigns:         st.campaigns,
		Vendors:           st.vendors,
		Templates:         st.templates,
		Resolver:          &service.Resolver{Campaigns: st.campaigns, Ledger: st.ledger},
		Dispatcher:        &service.Dispatcher{Ledger: st.ledger, Window: testWindow, RetryDelay: time.Millisecond},
		Senders:           sender.NewRegistry(senders...),
		Continuation:      r.scheduler,
		DefaultChunkSize:  50,
		Cooldown:          3 * time.Second,
		MaxReportedErrors: 50,
		Log:               zerolog.Nop(),
	}
	return r
}
