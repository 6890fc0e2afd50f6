package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"talk-archive/pkg/cache"
	"talk-archive/pkg/db"
	"talk-archive/pkg/domain"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// clock returns a time source that moves one second per call.
func clock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

type fakeTranscripts struct {
	deleted []string
}

func (f *fakeTranscripts) DeleteByVideo(_ context.Context, id string) (int64, error) {
	f.deleted = append(f.deleted, id)
	return 3, nil
}

type fakeClips struct {
	prefixes []string
	failFor  string
}

func (f *fakeClips) DeleteByPrefix(_ context.Context, prefix string) (int, error) {
	if f.failFor != "" && prefix == f.failFor+"_" {
		return 0, errors.New("bucket unavailable")
	}
	f.prefixes = append(f.prefixes, prefix)
	return 2, nil
}

type env struct {
	store       *Store
	workflow    *Workflow
	cache       *cache.Cache
	clips       *fakeClips
	transcripts *fakeTranscripts
}

func newEnv(t *testing.T) *env {
	t.Helper()
	c := db.NewSQLiteClient(db.SQLiteConfig{DSN: ":memory:"})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	store := NewStore(c, clock())
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	cc, err := cache.New(t.TempDir(), quiet())
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	e := &env{store: store, cache: cc, clips: &fakeClips{}, transcripts: &fakeTranscripts{}}
	e.workflow = NewWorkflow(store, e.transcripts, e.clips, cc, quiet())
	return e
}

func (e *env) create(t *testing.T, url string) *domain.Job {
	t.Helper()
	job, err := e.store.Create(context.Background(), url, "ops@example.com")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return job
}

func (e *env) get(t *testing.T, id int64) *domain.Job {
	t.Helper()
	job, err := e.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return job
}

func (e *env) advance(t *testing.T, id int64, states ...domain.WorkflowState) {
	t.Helper()
	for _, s := range states {
		if err := e.workflow.Advance(context.Background(), id, s); err != nil {
			t.Fatalf("Advance(%s): %v", s, err)
		}
	}
}
