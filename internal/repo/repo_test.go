package repo

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/omnipost/internal/domain"
	"github.com/shaiso/omnipost/internal/posts"
	"github.com/shaiso/omnipost/internal/runner"
	"github.com/shaiso/omnipost/internal/scheduler"
	"github.com/shaiso/omnipost/internal/worker"
)

// Store удовлетворяет портам всех потребителей.
var (
	_ posts.PostStore             = (*Store)(nil)
	_ posts.PlatformLister        = (*Store)(nil)
	_ runner.RunStore             = (*Store)(nil)
	_ runner.InstanceStore        = (*Store)(nil)
	_ worker.RunStore             = (*Store)(nil)
	_ worker.InstanceStore        = (*Store)(nil)
	_ worker.NotificationStore    = (*Store)(nil)
	_ scheduler.PostStore         = (*Store)(nil)
	_ scheduler.NotificationStore = (*Store)(nil)
)

func TestSentinelsMatchDomain(t *testing.T) {
	if !errors.Is(ErrNotFound, domain.ErrNotFound) {
		t.Error("repo.ErrNotFound must be domain.ErrNotFound")
	}
	if !errors.Is(ErrVersionConflict, domain.ErrVersionConflict) {
		t.Error("repo.ErrVersionConflict must be domain.ErrVersionConflict")
	}
}

func TestNullHelpers(t *testing.T) {
	if nullString("") != nil || *nullString("x") != "x" {
		t.Error("nullString")
	}
	if nullInt(0) != nil || *nullInt(3) != 3 {
		t.Error("nullInt")
	}
	nilID := uuid.Nil
	if nullUUID(nil) != nil || nullUUID(&nilID) != nil {
		t.Error("nullUUID should map empty ids to NULL")
	}
}

func TestMarshalPost_NilConfigs(t *testing.T) {
	_, configs, err := marshalPost(&domain.Post{})
	if err != nil {
		t.Fatalf("marshalPost: %v", err)
	}
	if string(configs) != "{}" {
		t.Errorf("nil configs should be stored as {}, got %s", configs)
	}
}

// testStore подключается к БД из OMNIPOST_TEST_DB_URL или пропускает тест.
func testStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("OMNIPOST_TEST_DB_URL")
	if dsn == "" {
		t.Skip("OMNIPOST_TEST_DB_URL not set")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return NewStore(pool)
}

func TestPostRepo_CompareAndSwap(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	post := &domain.Post{OwnerID: uuid.New(), Kind: domain.PostKindText, Content: domain.PostContent{Text: "hi"}}
	if err := store.CreatePost(ctx, post); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	a, _ := store.GetPost(ctx, post.ID)
	b, _ := store.GetPost(ctx, post.ID)

	a.Configs = domain.PostConfigs{"X": {"A": "1"}}
	if err := store.UpdatePost(ctx, a); err != nil {
		t.Fatalf("first writer: %v", err)
	}
	if a.Version != 1 {
		t.Errorf("expected version 1, got %d", a.Version)
	}

	b.Configs = domain.PostConfigs{"X": {"B": "2"}}
	if err := store.UpdatePost(ctx, b); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("stale writer: expected ErrVersionConflict, got %v", err)
	}

	missing := &domain.Post{ID: uuid.New()}
	if err := store.UpdatePost(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRunRepo_UpdateRun(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	post := &domain.Post{OwnerID: uuid.New(), Kind: domain.PostKindText}
	store.CreatePost(ctx, post)

	run := domain.NewActionRun(post.ID, uuid.New(), "POST_TEXT", 2)
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	updated, err := store.UpdateRun(ctx, run.ID, func(r *domain.ActionRun) error {
		if got := r.Claim(1, time.Now(), time.Minute); got != domain.ClaimAcquired {
			t.Errorf("expected acquired, got %s", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	if updated.Status != domain.RunStatusRunning || updated.InFlight != 1 {
		t.Errorf("unexpected run: %+v", updated)
	}

	// Ошибка fn откатывает изменения
	boom := errors.New("boom")
	_, err = store.UpdateRun(ctx, run.ID, func(r *domain.ActionRun) error {
		r.MarkFailed("x")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	loaded, _ := store.GetRun(ctx, run.ID)
	if loaded.IsFinished() {
		t.Error("failed fn must not persist changes")
	}
}
