package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/vendor-dispatch/internal/errors"
	"github.com/unclebandit/vendor-dispatch/internal/queue"
	"github.com/unclebandit/vendor-dispatch/internal/service"
)

type fakeRunner struct {
	mu    sync.Mutex
	reqs  []service.ChunkRequest
	times []time.Time
	err   error
	ran   chan struct{}
}

func (r *fakeRunner) RunChunk(ctx context.Context, req service.ChunkRequest) (*service.ChunkResult, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.times = append(r.times, time.Now())
	err := r.err
	r.mu.Unlock()
	r.ran <- struct{}{}
	if err != nil {
		return nil, err
	}
	return &service.ChunkResult{Success: true, Status: service.ChunkComplete, CampaignID: req.CampaignID}, nil
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

func TestChunkSchedulerRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	runner := &fakeRunner{ran: make(chan struct{}, 4)}
	if err := queue.StartChunkSubscriber(q, runner, zerolog.Nop()); err != nil {
		t.Fatalf("StartChunkSubscriber: %v", err)
	}

	sched := &queue.ChunkScheduler{Queue: q}
	published := time.Now()
	req := service.ChunkRequest{CampaignID: "camp-1", ChunkSize: 25, StartIndex: 50}
	if err := sched.ScheduleChunk(context.Background(), req, 30*time.Millisecond); err != nil {
		t.Fatalf("ScheduleChunk: %v", err)
	}

	select {
	case <-runner.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("chunk never ran")
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.reqs[0] != req {
		t.Errorf("request = %+v, want %+v", runner.reqs[0], req)
	}
	if waited := runner.times[0].Sub(published); waited < 25*time.Millisecond {
		t.Errorf("cooldown not honoured, ran after %s", waited)
	}
}

func TestChunkSubscriberDoesNotRetryConfigurationErrors(t *testing.T) {
	q := newTestQueue(t)
	runner := &fakeRunner{ran: make(chan struct{}, 8), err: appErrors.Configf("no sender")}
	queue.StartChunkSubscriber(q, runner, zerolog.Nop())

	(&queue.ChunkScheduler{Queue: q}).ScheduleChunk(context.Background(), service.ChunkRequest{CampaignID: "c"}, 0)
	<-runner.ran
	q.Close()

	if runner.count() != 1 {
		t.Errorf("runs = %d, want 1", runner.count())
	}
}

func TestChunkSubscriberRetriesTransientErrors(t *testing.T) {
	q := newTestQueue(t)
	runner := &fakeRunner{ran: make(chan struct{}, 8), err: errors.New("database is locked")}
	queue.StartChunkSubscriber(q, runner, zerolog.Nop())

	(&queue.ChunkScheduler{Queue: q}).ScheduleChunk(context.Background(), service.ChunkRequest{CampaignID: "c"}, 0)
	for range queue.DefaultMaxRetries + 1 {
		select {
		case <-runner.ran:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d runs", runner.count())
		}
	}
	time.Sleep(20 * time.Millisecond)

	if runner.count() != queue.DefaultMaxRetries+1 {
		t.Errorf("runs = %d, want %d", runner.count(), queue.DefaultMaxRetries+1)
	}
}
