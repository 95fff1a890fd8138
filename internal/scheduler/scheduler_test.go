package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/omnipost/internal/domain"
	"github.com/shaiso/omnipost/internal/memstore"
	"github.com/shaiso/omnipost/internal/posts"
)

type recordedRun struct {
	postID uuid.UUID
	action string
}

// fakeRunner запоминает запуски.
type fakeRunner struct {
	mu   sync.Mutex
	runs []recordedRun
}

func (f *fakeRunner) RunActionOnAllPlatforms(_ context.Context, post *domain.Post, action, _ string, _ time.Duration) ([]*domain.ActionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, recordedRun{postID: post.ID, action: action})
	return nil, nil
}

type failingUploader struct{}

func (failingUploader) Upload(context.Context, string, string) (string, error) {
	return "", errors.New("bucket unavailable")
}

func schedulePost(t *testing.T, store *memstore.Store, kind domain.PostKind, at time.Time, content domain.PostContent) *domain.Post {
	t.Helper()
	post := &domain.Post{OwnerID: uuid.New(), Kind: kind, Schedule: &at, Content: content}
	if err := store.CreatePost(context.Background(), post); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	return post
}

func TestTick_DispatchesDuePosts(t *testing.T) {
	store := memstore.New()
	store.CreatePlatform(context.Background(), &domain.Platform{Name: "X"})
	svc := posts.New(posts.Config{Posts: store, Platforms: store})
	runner := &fakeRunner{}

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	due := schedulePost(t, store, domain.PostKindText, now.Add(-time.Minute), domain.PostContent{Text: "hi"})
	future := schedulePost(t, store, domain.PostKindText, now.Add(time.Hour), domain.PostContent{Text: "later"})

	s := New(Config{Posts: store, Preparer: svc, Runner: runner})
	s.now = func() time.Time { return now }

	n, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 dispatched post, got %d", n)
	}

	if len(runner.runs) != 1 || runner.runs[0].postID != due.ID || runner.runs[0].action != "POST_TEXT" {
		t.Errorf("unexpected runs: %+v", runner.runs)
	}

	loaded, _ := store.GetPost(context.Background(), due.ID)
	if loaded.DispatchedAt == nil {
		t.Error("due post should be marked dispatched")
	}
	if loaded.Configs["X"][domain.FieldText] != "hi" {
		t.Errorf("state should be initialized, got %v", loaded.Configs)
	}

	untouched, _ := store.GetPost(context.Background(), future.ID)
	if untouched.DispatchedAt != nil {
		t.Error("future post must not be dispatched")
	}

	// Повторный тик ничего не запускает
	if n, _ := s.Tick(context.Background()); n != 0 {
		t.Errorf("second tick dispatched %d posts", n)
	}
	if len(runner.runs) != 1 {
		t.Errorf("post dispatched twice: %+v", runner.runs)
	}
}

func TestTick_ConcurrentSchedulersDispatchOnce(t *testing.T) {
	store := memstore.New()
	svc := posts.New(posts.Config{Posts: store, Platforms: store})
	runner := &fakeRunner{}

	now := time.Now()
	for i := 0; i < 10; i++ {
		schedulePost(t, store, domain.PostKindText, now.Add(-time.Second), domain.PostContent{Text: "x"})
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := New(Config{Posts: store, Preparer: svc, Runner: runner})
			s.Tick(context.Background())
		}()
	}
	wg.Wait()

	if len(runner.runs) != 10 {
		t.Errorf("expected each post dispatched once (10), got %d", len(runner.runs))
	}
}

func TestTick_MediaFailureNotifiesOwner(t *testing.T) {
	store := memstore.New()
	store.CreatePlatform(context.Background(), &domain.Platform{Name: "Instagram"})
	svc := posts.New(posts.Config{Posts: store, Platforms: store, Uploader: failingUploader{}})
	runner := &fakeRunner{}

	post := schedulePost(t, store, domain.PostKindImage, time.Now().Add(-time.Second),
		domain.PostContent{Caption: "c", MediaPath: "/tmp/photo.jpg"})

	s := New(Config{Posts: store, Preparer: svc, Runner: runner, Notifications: store})
	if _, err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(runner.runs) != 0 {
		t.Error("action must not start without media")
	}

	notes, _ := store.ListNotifications(context.Background(), post.OwnerID)
	if len(notes) != 1 || !notes[0].Error {
		t.Errorf("expected one error notification, got %+v", notes)
	}
}

func TestValidateSpec(t *testing.T) {
	tests := []struct {
		spec    string
		wantErr bool
	}{
		{Every(10 * time.Second), false},
		{"*/5 * * * *", false},
		{"@hourly", false},
		{"every ten seconds", true},
		{"@every banana", true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			err := ValidateSpec(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSpec(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
		})
	}
}

func TestStart_TicksOnSchedule(t *testing.T) {
	store := memstore.New()
	svc := posts.New(posts.Config{Posts: store, Platforms: store})
	runner := &fakeRunner{}
	schedulePost(t, store, domain.PostKindText, time.Now().Add(-time.Second), domain.PostContent{Text: "x"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Config{Posts: store, Preparer: svc, Runner: runner})
	stop, err := s.Start(ctx, Every(100*time.Millisecond))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stop()

	deadline := time.Now().Add(3 * time.Second)
	for {
		runner.mu.Lock()
		n := len(runner.runs)
		runner.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("scheduled post was not dispatched")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
