package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/unclebandit/vendor-dispatch/internal/controller"
	appErrors "github.com/unclebandit/vendor-dispatch/internal/errors"
	"github.com/unclebandit/vendor-dispatch/internal/model"
	"github.com/unclebandit/vendor-dispatch/internal/repository"
	"github.com/unclebandit/vendor-dispatch/internal/service"
)

// --- Mock Repositories ---
// Each mock embeds its interface; methods a test never reaches stay nil.

type MockVendorRepo struct {
	repository.VendorRepositoryInterface
}

func (m *MockVendorRepo) GetByID(ctx context.Context, id string) (*model.Vendor, error) {
	if id != "v1" {
		return nil, appErrors.NewVendorNotFound(id)
	}
	return &model.Vendor{ID: "v1", VendorName: "Alice Traders", VendorCode: "AT-9"}, nil
}

type MockTemplateRepo struct {
	repository.TemplateRepositoryInterface
}

func (m *MockTemplateRepo) GetByID(ctx context.Context, id string) (*model.Template, error) {
	return &model.Template{
		ID:        id,
		Channel:   model.ChannelEmail,
		Subject:   "Hello {vendor_name}",
		Body:      "Code {vendor_code}, category {business_category}",
		Variables: []string{"vendor_name", "vendor_code"},
	}, nil
}

type MockCampaignRepo struct {
	repository.CampaignRepositoryInterface
	campaigns []*model.Campaign
}

func (m *MockCampaignRepo) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	for _, c := range m.campaigns {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, appErrors.NewCampaignNotFound(id)
}

func (m *MockCampaignRepo) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	var filtered []*model.Campaign
	for _, c := range m.campaigns {
		if status != "" && string(c.Status) != status {
			continue
		}
		filtered = append(filtered, c)
	}
	total := len(filtered)

	// Simulate pagination
	start := offset
	end := offset + limit
	if start > total {
		return []*model.Campaign{}, total, nil
	}
	if end > total {
		end = total
	}
	return filtered[start:end], total, nil
}

func newRouter(svc *service.CampaignService) http.Handler {
	ctrl := &controller.CampaignController{CampaignService: svc, Log: zerolog.Nop()}
	r := chi.NewRouter()
	r.Post("/campaigns", ctrl.CreateCampaign)
	r.Get("/campaigns", ctrl.ListCampaigns)
	r.Post("/campaigns/{id}/preview", ctrl.PersonalizedPreview)
	return r
}

// --- Test Function ---

func TestPersonalizedPreviewHandler(t *testing.T) {
	tplID := "tpl-1"
	svc := &service.CampaignService{
		CampaignRepo: &MockCampaignRepo{campaigns: []*model.Campaign{{ID: "c1", EmailTemplateID: &tplID}}},
		VendorRepo:   &MockVendorRepo{},
		TemplateRepo: &MockTemplateRepo{},
	}
	router := newRouter(svc)

	b, _ := json.Marshal(map[string]any{"vendor_id": "v1"})
	req := httptest.NewRequest("POST", "/campaigns/c1/preview", bytes.NewReader(b))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, w.Body.String())
	}

	var res struct {
		Rendered model.RenderedMessage `json:"rendered_message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if res.Rendered.Subject != "Hello Alice Traders" {
		t.Errorf("subject = %q", res.Rendered.Subject)
	}
	// business_category is not declared, so it survives
	if !strings.Contains(res.Rendered.Body, "AT-9") || !strings.Contains(res.Rendered.Body, "{business_category}") {
		t.Errorf("body = %q", res.Rendered.Body)
	}
}

func TestPersonalizedPreviewErrors(t *testing.T) {
	tplID := "tpl-1"
	svc := &service.CampaignService{
		CampaignRepo: &MockCampaignRepo{campaigns: []*model.Campaign{{ID: "c1", EmailTemplateID: &tplID}}},
		VendorRepo:   &MockVendorRepo{},
		TemplateRepo: &MockTemplateRepo{},
	}
	router := newRouter(svc)

	cases := []struct {
		path, body string
		want       int
	}{
		{"/campaigns/missing/preview", `{"vendor_id":"v1"}`, http.StatusNotFound},
		{"/campaigns/c1/preview", `{"vendor_id":"ghost"}`, http.StatusNotFound},
		{"/campaigns/c1/preview", `{"vendor_id":"v1","channel":"whatsapp"}`, http.StatusUnprocessableEntity},
		{"/campaigns/c1/preview", `{"vendor_id":"v1","channel":"fax"}`, http.StatusBadRequest},
		{"/campaigns/c1/preview", `not json`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("POST", tc.path, strings.NewReader(tc.body)))
		if w.Code != tc.want {
			t.Errorf("%s %s: got %d, want %d", tc.path, tc.body, w.Code, tc.want)
		}
		var res map[string]any
		json.Unmarshal(w.Body.Bytes(), &res)
		if res["success"] != false || res["error"] == "" {
			t.Errorf("%s: error body = %s", tc.path, w.Body.String())
		}
	}
}

func TestCreateCampaignRejectsBadInput(t *testing.T) {
	router := newRouter(&service.CampaignService{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/campaigns", strings.NewReader(`{"vendor_ids":["v1"]}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestListCampaignsPagination(t *testing.T) {
	totalCampaigns := 25
	campaigns := []*model.Campaign{}
	for i := 1; i <= totalCampaigns; i++ {
		campaigns = append(campaigns, &model.Campaign{
			ID:     fmt.Sprintf("c%02d", i),
			Name:   "Campaign " + strconv.Itoa(i),
			Status: model.CampaignActive,
		})
	}
	// a campaign the status filter must drop
	campaigns = append(campaigns, &model.Campaign{ID: "draft", Status: model.CampaignDraft})

	router := newRouter(&service.CampaignService{CampaignRepo: &MockCampaignRepo{campaigns: campaigns}})

	pageSize := 10
	seen := map[string]bool{}
	totalPages := (totalCampaigns + pageSize - 1) / pageSize

	for page := 1; page <= totalPages; page++ {
		req := httptest.NewRequest(
			"GET",
			"/campaigns?page="+strconv.Itoa(page)+
				"&page_size="+strconv.Itoa(pageSize)+
				"&status=Active",
			nil,
		)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}

		var res struct {
			Data       []model.Campaign `json:"data"`
			Pagination struct {
				Page       int `json:"page"`
				PageSize   int `json:"page_size"`
				TotalCount int `json:"total_count"`
				TotalPages int `json:"total_pages"`
			} `json:"pagination"`
		}
		if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
			t.Fatalf("decode: %v", err)
		}

		if res.Pagination.TotalCount != totalCampaigns || res.Pagination.TotalPages != totalPages {
			t.Errorf("pagination = %+v", res.Pagination)
		}
		wantLen := pageSize
		if page == totalPages {
			wantLen = totalCampaigns - pageSize*(totalPages-1)
		}
		if len(res.Data) != wantLen {
			t.Errorf("page %d: got %d items, want %d", page, len(res.Data), wantLen)
		}
		for _, c := range res.Data {
			if seen[c.ID] {
				t.Errorf("campaign %s returned twice", c.ID)
			}
			seen[c.ID] = true
		}
	}
	if len(seen) != totalCampaigns {
		t.Errorf("saw %d campaigns, want %d", len(seen), totalCampaigns)
	}
}
