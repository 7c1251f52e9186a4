package caption

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ftrack/internal/ft"
	"ftrack/internal/testutil"
)

// blockingCaptioner holds every call until release is closed.
type blockingCaptioner struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingCaptioner) Caption(ctx context.Context, mediaType string, data []byte) (string, error) {
	b.started <- struct{}{}
	select {
	case <-b.release:
		return "done", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type failingCaptioner struct{}

func (failingCaptioner) Caption(context.Context, string, []byte) (string, error) {
	return "", errors.New("model unavailable")
}

type recordingSink struct {
	mu   sync.Mutex
	recs []ft.CaptionRecord
}

func (s *recordingSink) AttachCaption(ctx context.Context, rec ft.CaptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

func TestPool_CaptionsIntoCatalog(t *testing.T) {
	catalog, _ := testutil.NewTestCatalog(t)
	ctx := context.Background()

	pool := NewPool(NewStaticCaptioner("a dog on a beach"), catalog, ft.NewNopLogger(), 2, 4, time.Second)
	pool.Start(ctx)

	if err := pool.Submit(Job{DeviceID: "d1", Username: "alice", Path: "/home/alice/dog.jpg", MediaType: "image/jpeg", Data: []byte{1}}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	pool.Stop()

	got, err := catalog.SearchCaptions(ctx, "alice", "BEACH")
	if err != nil {
		t.Fatalf("SearchCaptions() error = %v", err)
	}
	if len(got) != 1 || got[0].Path != "/home/alice/dog.jpg" || got[0].Name != "dog.jpg" {
		t.Errorf("SearchCaptions() = %+v", got)
	}
}

func TestPool_QueueFull(t *testing.T) {
	capt := &blockingCaptioner{started: make(chan struct{}, 1), release: make(chan struct{})}
	sink := &recordingSink{}
	pool := NewPool(capt, sink, ft.NewNopLogger(), 1, 1, time.Minute)
	pool.Start(context.Background())

	job := Job{Username: "alice", Path: "/p.png", MediaType: "image/png", Data: []byte{1}}
	if err := pool.Submit(job); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	<-capt.started // worker busy

	if err := pool.Submit(job); err != nil {
		t.Fatalf("second Submit() error = %v", err)
	}
	if err := pool.Submit(job); !errors.Is(err, ErrQueueFull) {
		t.Errorf("third Submit() error = %v, want ErrQueueFull", err)
	}

	close(capt.release)
	<-capt.started
	pool.Stop()

	if n := sink.count(); n != 2 {
		t.Errorf("captions stored = %d, want 2", n)
	}
	if err := pool.Submit(job); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit() after Stop error = %v, want ErrPoolClosed", err)
	}
}

func TestPool_CaptionFailureIsDropped(t *testing.T) {
	sink := &recordingSink{}
	pool := NewPool(failingCaptioner{}, sink, ft.NewNopLogger(), 1, 1, time.Second)
	pool.Start(context.Background())

	if err := pool.Submit(Job{Path: "/x.png", Data: []byte{1}}); err != nil {
		t.Fatal(err)
	}
	pool.Stop()

	if n := sink.count(); n != 0 {
		t.Errorf("captions stored = %d, want 0", n)
	}
}

func TestPool_StopIsIdempotent(t *testing.T) {
	pool := NewPool(NewStaticCaptioner("x"), &recordingSink{}, ft.NewNopLogger(), 1, 0, 0)
	pool.Start(context.Background())
	pool.Stop()
	pool.Stop()
}
