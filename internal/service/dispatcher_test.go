package service_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/vendor-dispatch/internal/errors"
	"github.com/unclebandit/vendor-dispatch/internal/model"
	"github.com/unclebandit/vendor-dispatch/internal/sender"
	"github.com/unclebandit/vendor-dispatch/internal/service"
)

func testVendors(n int) []*model.Vendor {
	out := make([]*model.Vendor, n)
	for i := range out {
		out[i] = &model.Vendor{
			ID:         fmt.Sprintf("v-%03d", i),
			VendorName: fmt.Sprintf("Vendor %d", i),
			Email:      fmt.Sprintf("vendor%d@example.com", i),
		}
	}
	return out
}

func emailTemplate() *model.Template {
	return &model.Template{
		ID:        "tpl",
		Channel:   model.ChannelEmail,
		Subject:   "Hi {vendor_name}",
		Body:      "Body",
		Variables: []string{"vendor_name"},
	}
}

func TestDispatchRateCompliance(t *testing.T) {
	for _, rate := range []int{2, 3} {
		t.Run(fmt.Sprintf("rate_%d", rate), func(t *testing.T) {
			st := newStore(t)
			p := &fakeProvider{}
			s := sender.NewEmailSender(p, rate, st.ledger, st.responses, zerolog.Nop())
			window := 60 * time.Millisecond
			d := &service.Dispatcher{Ledger: st.ledger, Window: window, RetryDelay: time.Millisecond}

			res, err := d.Dispatch(context.Background(), s, "camp", emailTemplate(), testVendors(10*rate))
			if err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if res.Sent != 10*rate {
				t.Fatalf("sent %d, want %d", res.Sent, 10*rate)
			}

			calls := p.callTimes()
			sort.Slice(calls, func(i, j int) bool { return calls[i].Before(calls[j]) })
			slack := 10 * time.Millisecond
			for i := 0; i+rate < len(calls); i++ {
				if gap := calls[i+rate].Sub(calls[i]); gap < window-slack {
					t.Fatalf("%d calls within %s (calls %d..%d)", rate+1, gap, i, i+rate)
				}
			}
		})
	}
}

func TestDispatchRetriesRateLimitOnce(t *testing.T) {
	st := newStore(t)
	limited := map[string]bool{}
	p := &fakeProvider{}
	p.respond = func(n int, to string) (sender.ProviderResponse, error) {
		// first attempt per address is throttled
		if !limited[to] {
			limited[to] = true
			return sender.ProviderResponse{ErrorCode: sender.ErrorCodeRateLimited}, nil
		}
		return sender.ProviderResponse{OK: true, MessageID: "ok"}, nil
	}
	s := sender.NewEmailSender(p, 1, st.ledger, st.responses, zerolog.Nop())
	d := &service.Dispatcher{Ledger: st.ledger, Window: 5 * time.Millisecond, RetryDelay: time.Millisecond}

	res, err := d.Dispatch(context.Background(), s, "camp", emailTemplate(), testVendors(3))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Sent != 3 || res.Failed != 0 {
		t.Errorf("sent %d failed %d, want 3 and 0", res.Sent, res.Failed)
	}
	if p.callCount() != 6 {
		t.Errorf("provider calls = %d, want 6", p.callCount())
	}
}

func TestDispatchGivesUpAfterSecondRateLimit(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	p := &fakeProvider{respond: func(n int, to string) (sender.ProviderResponse, error) {
		return sender.ProviderResponse{ErrorCode: sender.ErrorCodeRateLimited}, nil
	}}
	s := sender.NewEmailSender(p, 2, st.ledger, st.responses, zerolog.Nop())
	d := &service.Dispatcher{Ledger: st.ledger, Window: 5 * time.Millisecond, RetryDelay: time.Millisecond}

	res, err := d.Dispatch(ctx, s, "camp", emailTemplate(), testVendors(2))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Failed != 2 || p.callCount() != 4 {
		t.Errorf("failed %d calls %d, want 2 and 4", res.Failed, p.callCount())
	}
	if len(res.Errors) != 2 || res.Errors[0] != "Email to Vendor 0: rate limit exceeded after retry" {
		t.Errorf("errors = %v", res.Errors)
	}
	stats, err := st.ledger.Stats(ctx, "camp")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[model.ChannelEmail][model.DispatchFailed] != 2 {
		t.Errorf("failed records = %v", stats)
	}
}

func TestDispatchRetriesTransientFailure(t *testing.T) {
	st := newStore(t)
	p := &fakeProvider{respond: func(n int, to string) (sender.ProviderResponse, error) {
		if n == 0 {
			return sender.ProviderResponse{ErrorCode: sender.ErrorCodeTransient, Message: "connection reset"}, nil
		}
		return sender.ProviderResponse{OK: true, MessageID: "ok"}, nil
	}}
	s := sender.NewEmailSender(p, 1, st.ledger, st.responses, zerolog.Nop())
	d := &service.Dispatcher{Ledger: st.ledger, Window: 5 * time.Millisecond, RetryDelay: time.Millisecond}

	res, err := d.Dispatch(context.Background(), s, "camp", emailTemplate(), testVendors(1))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Sent != 1 || p.callCount() != 2 {
		t.Errorf("sent %d calls %d, want 1 and 2", res.Sent, p.callCount())
	}
}

func TestDispatchSkipsMissingAddress(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	p := &fakeProvider{}
	s := sender.NewEmailSender(p, 2, st.ledger, st.responses, zerolog.Nop())
	d := &service.Dispatcher{Ledger: st.ledger, Window: 5 * time.Millisecond}

	vendors := testVendors(3)
	vendors[1].Email = ""
	res, err := d.Dispatch(ctx, s, "camp", emailTemplate(), vendors)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Sent != 2 || res.Skipped != 1 || len(res.Errors) != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if got := d.SendRate("camp"); got != 2 {
		t.Errorf("send rate %d, want 2", got)
	}
	if got := d.SendRate("other"); got != 0 {
		t.Errorf("send rate for idle campaign %d, want 0", got)
	}
	if last, _ := st.ledger.LastActivity(ctx, "camp"); last == nil {
		t.Fatal("expected ledger activity")
	}
	if sent, _ := st.ledger.HasSent(ctx, "camp", "v-001", model.ChannelEmail); sent {
		t.Error("skipped vendor must have no ledger entry")
	}
	for _, to := range p.recipients() {
		if to == "" {
			t.Error("provider called without an address")
		}
	}
}

func TestDispatchStopsOnProviderUnavailable(t *testing.T) {
	st := newStore(t)
	p := &fakeProvider{respond: func(n int, to string) (sender.ProviderResponse, error) {
		return sender.ProviderResponse{}, appErrors.ErrProviderUnavailable
	}}
	s := sender.NewEmailSender(p, 1, st.ledger, st.responses, zerolog.Nop())
	d := &service.Dispatcher{Ledger: st.ledger, Window: 5 * time.Millisecond}

	_, err := d.Dispatch(context.Background(), s, "camp", emailTemplate(), testVendors(4))
	if !errors.Is(err, appErrors.ErrProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
	if p.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1", p.callCount())
	}
}

func TestDispatchHonoursCancellation(t *testing.T) {
	st := newStore(t)
	p := &fakeProvider{}
	s := sender.NewEmailSender(p, 1, st.ledger, st.responses, zerolog.Nop())
	d := &service.Dispatcher{Ledger: st.ledger, Window: time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := d.Dispatch(ctx, s, "camp", emailTemplate(), testVendors(5))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if p.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1", p.callCount())
	}
}
