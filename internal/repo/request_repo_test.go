package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/lmsforge/quizgen-backend/internal/domain"
)

func TestCreateRequest_Defaults(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	req, err := CreateRequest(ctx, db, &domain.Request{
		ActorID: "u1", ScopeID: "s1", QuestionCount: 3, QuestionTypes: "essay",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.ID == "" {
		t.Fatalf("no ID assigned")
	}
	if req.Status != domain.StatusPending {
		t.Fatalf("status = %s", req.Status)
	}
	if req.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt not set")
	}
}

func TestGetRequest_NotFound(t *testing.T) {
	db := newTestDB(t)
	if _, err := GetRequest(context.Background(), db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAddRequestUsage_Accumulates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	req, _ := CreateRequest(ctx, db, &domain.Request{
		ActorID: "u1", ScopeID: "s1", QuestionCount: 3, QuestionTypes: "essay",
	})

	if err := AddRequestUsage(ctx, db, req.ID, 10, 20, 2); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := AddRequestUsage(ctx, db, req.ID, 5, 5, 1); err != nil {
		t.Fatalf("second add: %v", err)
	}

	stored, _ := GetRequest(ctx, db, req.ID)
	if stored.PromptTokens != 15 || stored.CompletionTokens != 25 {
		t.Fatalf("tokens = %d/%d", stored.PromptTokens, stored.CompletionTokens)
	}
	if stored.GeneratedCount != 3 {
		t.Fatalf("generated = %d", stored.GeneratedCount)
	}
}

func TestAddRequestUsage_MissingRequest(t *testing.T) {
	db := newTestDB(t)
	if err := AddRequestUsage(context.Background(), db, "missing", 1, 1, 1); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestWindowCounts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Two recent requests by u1, one old, one by another actor.
	for _, r := range []domain.Request{
		{ActorID: "u1", ScopeID: "s", QuestionCount: 1, QuestionTypes: "essay", CreatedAt: now.Add(-10 * time.Minute)},
		{ActorID: "u1", ScopeID: "s", QuestionCount: 1, QuestionTypes: "essay", CreatedAt: now.Add(-20 * time.Minute)},
		{ActorID: "u1", ScopeID: "s", QuestionCount: 1, QuestionTypes: "essay", CreatedAt: now.Add(-2 * time.Hour)},
		{ActorID: "u2", ScopeID: "s", QuestionCount: 1, QuestionTypes: "essay", CreatedAt: now.Add(-5 * time.Minute)},
	} {
		rr := r
		if _, err := CreateRequest(ctx, db, &rr); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	since := now.Add(-time.Hour)
	n, err := CountRequestsByActorSince(ctx, db, "u1", since)
	if err != nil || n != 2 {
		t.Fatalf("actor count = %d (%v), want 2", n, err)
	}
	n, err = CountRequestsSince(ctx, db, since)
	if err != nil || n != 3 {
		t.Fatalf("system count = %d (%v), want 3", n, err)
	}

	oldest, err := OldestRequestByActorSince(ctx, db, "u1", since)
	if err != nil || oldest == nil {
		t.Fatalf("oldest: %v %v", oldest, err)
	}
	// The oldest in-window request is the one from 20 minutes ago.
	if d := now.Add(-20 * time.Minute).Sub(*oldest); d < -time.Second || d > time.Second {
		t.Fatalf("oldest = %v", oldest)
	}

	// Empty window yields nil, not an error.
	oldest, err = OldestRequestByActorSince(ctx, db, "nobody", since)
	if err != nil || oldest != nil {
		t.Fatalf("empty window: %v %v", oldest, err)
	}
}

func TestListRequestsPage_ScopedAndOrdered(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		if _, err := CreateRequest(ctx, db, &domain.Request{
			ActorID: "u1", ScopeID: "mine", QuestionCount: 1, QuestionTypes: "essay",
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if _, err := CreateRequest(ctx, db, &domain.Request{
		ActorID: "u1", ScopeID: "other", QuestionCount: 1, QuestionTypes: "essay",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	total, err := CountRequests(ctx, db, "mine")
	if err != nil || total != 3 {
		t.Fatalf("count = %d (%v)", total, err)
	}
	rows, err := ListRequestsPage(ctx, db, "mine", 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].CreatedAt.After(rows[i-1].CreatedAt) {
			t.Fatalf("not ordered newest first")
		}
	}
}

func TestFindOrCreateCategory_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a, err := FindOrCreateCategory(ctx, db, "s1", "", "Generated Questions")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := FindOrCreateCategory(ctx, db, "s1", "", "Generated Questions")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("duplicate category created: %s vs %s", a.ID, b.ID)
	}

	// Same name under a different parent is a distinct node.
	c, err := FindOrCreateCategory(ctx, db, "s1", a.ID, "Generated Questions")
	if err != nil {
		t.Fatalf("child: %v", err)
	}
	if c.ID == a.ID {
		t.Fatalf("parent and child conflated")
	}
}
