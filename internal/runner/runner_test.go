package runner

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/omnipost/internal/domain"
	"github.com/shaiso/omnipost/internal/memstore"
	"github.com/shaiso/omnipost/internal/posts"
	"github.com/shaiso/omnipost/internal/queue"
	"github.com/shaiso/omnipost/internal/worker"
)

type enqueued struct {
	at  time.Time
	job *domain.StepJob
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	items []enqueued
	err   error
}

func (f *fakeEnqueuer) EnqueueAt(_ context.Context, at time.Time, job *domain.StepJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.items = append(f.items, enqueued{at: at, job: job})
	return nil
}

func step(endpoint string, status int, mapping map[string]string) domain.ActionStep {
	return domain.ActionStep{
		Request:         domain.RequestTemplate{BaseURL: "https://api.example.com", Endpoint: endpoint, Method: "POST"},
		ExpectedStatus:  status,
		VariableMapping: mapping,
	}
}

func seed(t *testing.T, store *memstore.Store, name string, actions map[string][]domain.ActionStep) *domain.PlatformInstance {
	t.Helper()
	ctx := context.Background()

	p := &domain.Platform{Name: name, Config: domain.PlatformConfig{Actions: actions}}
	if err := store.CreatePlatform(ctx, p); err != nil {
		t.Fatalf("CreatePlatform: %v", err)
	}
	inst := &domain.PlatformInstance{PlatformID: p.ID, OwnerID: uuid.New()}
	if err := store.CreateInstance(ctx, inst); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	loaded, err := store.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	return loaded
}

func newTestRunner(store *memstore.Store, q Enqueuer, now time.Time) *Runner {
	r := New(Config{Runs: store, Instances: store, Enqueuer: q})
	r.now = func() time.Time { return now }
	return r
}

func TestRunAction_Schedule(t *testing.T) {
	store := memstore.New()
	inst := seed(t, store, "X", map[string][]domain.ActionStep{
		"POST_IMAGE": {
			step("/upload", 200, map[string]string{"media_id": "MEDIA_ID"}),
			step("/append", 204, nil),
			step("/tweet", 201, map[string]string{"id": domain.TerminalRequest}),
		},
	})
	post := &domain.Post{ID: uuid.New(), Kind: domain.PostKindImage}

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	q := &fakeEnqueuer{}
	r := newTestRunner(store, q, now)

	tests := []struct {
		name      string
		delay     time.Duration
		wantDelay time.Duration
	}{
		{"explicit delay", 2 * time.Second, 2 * time.Second},
		{"default delay", 0, DefaultDelay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q.items = nil

			run, err := r.RunAction(context.Background(), post, inst, "POST_IMAGE", "pw", tt.delay)
			if err != nil {
				t.Fatalf("RunAction: %v", err)
			}
			if run.Status != domain.RunStatusPending || run.TotalSteps != 3 {
				t.Errorf("unexpected run: %+v", run)
			}

			if len(q.items) != 3 {
				t.Fatalf("expected 3 enqueued steps, got %d", len(q.items))
			}
			for i, it := range q.items {
				if want := now.Add(tt.wantDelay * time.Duration(i+1)); !it.at.Equal(want) {
					t.Errorf("step %d: expected at %v, got %v", i+1, want, it.at)
				}
				if it.job.Index != i+1 || it.job.RunID != run.ID || it.job.Delay != tt.wantDelay {
					t.Errorf("step %d: unexpected job %+v", i+1, it.job)
				}
				if it.job.Password != "pw" {
					t.Error("password must travel in the job")
				}
			}

			stored, err := store.GetRun(context.Background(), run.ID)
			if err != nil || stored.Action != "POST_IMAGE" {
				t.Errorf("run not stored: %v", err)
			}
		})
	}
}

func TestRunAction_SingleStepWaitsDelay(t *testing.T) {
	store := memstore.New()
	inst := seed(t, store, "X", map[string][]domain.ActionStep{
		"POST_TEXT": {step("/tweet", 201, map[string]string{"id": domain.TerminalRequest})},
	})
	post := &domain.Post{ID: uuid.New(), Kind: domain.PostKindText}

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	q := &fakeEnqueuer{}
	r := newTestRunner(store, q, now)

	if _, err := r.RunAction(context.Background(), post, inst, "POST_TEXT", "", 5*time.Second); err != nil {
		t.Fatalf("RunAction: %v", err)
	}
	if len(q.items) != 1 {
		t.Fatalf("expected 1 enqueued step, got %d", len(q.items))
	}
	if want := now.Add(5 * time.Second); !q.items[0].at.Equal(want) {
		t.Errorf("expected step 1 at %v, got %v", want, q.items[0].at)
	}
}

func TestRunAction_UnknownAction(t *testing.T) {
	store := memstore.New()
	inst := seed(t, store, "X", map[string][]domain.ActionStep{
		"POST_TEXT": {step("/tweet", 201, map[string]string{"id": domain.TerminalRequest})},
	})
	post := &domain.Post{ID: uuid.New()}
	q := &fakeEnqueuer{}

	_, err := newTestRunner(store, q, time.Now()).RunAction(context.Background(), post, inst, "POST_REEL", "", 0)
	if !errors.Is(err, domain.ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Error("unknown action should be a configuration error")
	}
	if len(q.items) != 0 {
		t.Error("nothing should be enqueued")
	}
	if runs, _ := store.ListRunsByPost(context.Background(), post.ID); len(runs) != 0 {
		t.Error("no run should be created")
	}
}

func TestRunActionOnAllPlatforms_IndependentInstances(t *testing.T) {
	store := memstore.New()
	good := seed(t, store, "X", map[string][]domain.ActionStep{
		"POST_TEXT": {step("/tweet", 201, map[string]string{"id": domain.TerminalRequest})},
	})
	bad := seed(t, store, "Instagram", map[string][]domain.ActionStep{
		"POST_IMAGE": {step("/media", 200, nil)},
	})
	missing := uuid.New()

	post := &domain.Post{ID: uuid.New(), InstanceIDs: []uuid.UUID{bad.ID, missing, good.ID}}
	q := &fakeEnqueuer{}

	runs, err := newTestRunner(store, q, time.Now()).RunActionOnAllPlatforms(context.Background(), post, "POST_TEXT", "", time.Second)

	if len(runs) != 1 || runs[0].InstanceID != good.ID {
		t.Fatalf("expected one run for the good instance, got %v", runs)
	}
	if !errors.Is(err, domain.ErrUnknownAction) {
		t.Errorf("expected joined ErrUnknownAction, got %v", err)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected joined ErrNotFound, got %v", err)
	}
	if len(q.items) != 1 {
		t.Errorf("expected one enqueued step, got %d", len(q.items))
	}
}

func TestRunActionOnAllPlatforms_NoInstances(t *testing.T) {
	r := newTestRunner(memstore.New(), &fakeEnqueuer{}, time.Now())
	_, err := r.RunActionOnAllPlatforms(context.Background(), &domain.Post{ID: uuid.New()}, "POST_TEXT", "", 0)
	if !errors.Is(err, ErrNoInstances) {
		t.Errorf("expected ErrNoInstances, got %v", err)
	}
}

func TestRunAction_EnqueueFailure(t *testing.T) {
	store := memstore.New()
	inst := seed(t, store, "X", map[string][]domain.ActionStep{
		"POST_TEXT": {step("/tweet", 201, map[string]string{"id": domain.TerminalRequest})},
	})
	q := &fakeEnqueuer{err: errors.New("broker down")}

	run, err := newTestRunner(store, q, time.Now()).RunAction(context.Background(), &domain.Post{ID: uuid.New()}, inst, "POST_TEXT", "", 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if run == nil {
		t.Error("created run should be returned with the error")
	}
}

func TestPlan(t *testing.T) {
	inst := &domain.PlatformInstance{Platform: &domain.Platform{Name: "X", Config: domain.PlatformConfig{
		Actions: map[string][]domain.ActionStep{
			"POST_TEXT": {step("/a", 200, nil), step("/b", 201, nil)},
			"EMPTY":     {},
		},
	}}}
	now := time.Now()

	plan, err := Plan(inst, "POST_TEXT", now, 3*time.Second)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan) != 2 || plan[1].Index != 2 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	// Шаг i запускается через delay*i: первый тоже ждёт один интервал
	if !plan[0].RunAt.Equal(now.Add(3*time.Second)) || !plan[1].RunAt.Equal(now.Add(6*time.Second)) {
		t.Errorf("unexpected schedule: %v, %v", plan[0].RunAt, plan[1].RunAt)
	}

	if _, err := Plan(inst, "EMPTY", now, 0); !errors.Is(err, ErrNoSteps) {
		t.Errorf("expected ErrNoSteps, got %v", err)
	}
	if _, err := Plan(&domain.PlatformInstance{}, "POST_TEXT", now, 0); !errors.Is(err, domain.ErrPlatformNotLoaded) {
		t.Errorf("expected ErrPlatformNotLoaded, got %v", err)
	}
}

// TestEndToEnd_LocalQueue прогоняет двухшаговый action через
// локальную очередь и worker против тестового сервера.
func TestEndToEnd_LocalQueue(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		order = append(order, r.URL.Path)
		mu.Unlock()

		switch r.URL.Path {
		case "/upload":
			w.Write([]byte(`{"media_id": "m-1"}`))
		case "/tweet":
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id": "t-1"}`))
		}
	}))
	defer server.Close()

	store := memstore.New()
	svc := posts.New(posts.Config{Posts: store, Platforms: store})

	upload := step("/upload", 200, map[string]string{"media_id": "MEDIA_ID"})
	upload.Request.BaseURL = server.URL
	tweet := step("/tweet", 201, map[string]string{"id": domain.TerminalRequest})
	tweet.Request.BaseURL = server.URL
	tweet.Request.Payload = map[string]any{"media_id": "MEDIA_ID"}

	inst := seed(t, store, "X", map[string][]domain.ActionStep{"POST_IMAGE": {upload, tweet}})

	post := &domain.Post{OwnerID: inst.OwnerID, Kind: domain.PostKindImage, InstanceIDs: []uuid.UUID{inst.ID}}
	store.CreatePost(context.Background(), post)
	if err := svc.InitializeStateIfEmpty(context.Background(), post); err != nil {
		t.Fatalf("InitializeStateIfEmpty: %v", err)
	}

	q := queue.NewLocal(queue.Config{Concurrency: 2})
	executor := worker.NewStepExecutor(worker.ExecutorConfig{
		Runs:          store,
		Instances:     store,
		Notifications: store,
		State:         svc,
		Enqueuer:      q,
	})
	q.SetHandler(executor.Execute)
	q.Start(context.Background())
	defer q.Stop()

	r := New(Config{Runs: store, Instances: store, Enqueuer: q})
	runs, err := r.RunActionOnAllPlatforms(context.Background(), post, "POST_IMAGE", "", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("RunActionOnAllPlatforms: %v", err)
	}

	// Уведомление создаётся последним
	var notes []domain.Notification
	deadline := time.Now().Add(3 * time.Second)
	for len(notes) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no notification created")
		}
		time.Sleep(10 * time.Millisecond)
		notes, _ = store.ListNotifications(context.Background(), inst.OwnerID)
	}

	if len(notes) != 1 || notes[0].Error {
		t.Errorf("expected one success notification, got %+v", notes)
	}

	run, _ := store.GetRun(context.Background(), runs[0].ID)
	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", run.Status, run.Error)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "/upload" || order[1] != "/tweet" {
		t.Errorf("unexpected call order: %v", order)
	}

	loaded, _ := store.GetPost(context.Background(), post.ID)
	if loaded.Configs["X"]["MEDIA_ID"] != "m-1" {
		t.Errorf("expected MEDIA_ID stored, got %v", loaded.Configs["X"])
	}
}
