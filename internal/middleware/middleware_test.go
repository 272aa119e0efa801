package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/rpattn/tickstore/internal/domain"
)

type stubActivities struct {
	calls    int
	requests [][]uuid.UUID
	known    map[uuid.UUID]domain.Activity
}

func (s *stubActivities) Create(ctx context.Context, description, actor string) (domain.Activity, error) {
	activity := domain.Activity{ID: uuid.New(), Description: description, Actor: actor}
	s.known[activity.ID] = activity
	return activity, nil
}

func (s *stubActivities) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Activity, error) {
	s.calls++
	s.requests = append(s.requests, ids)
	var out []domain.Activity
	for _, id := range ids {
		if a, ok := s.known[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func TestDataLoaderMiddleware_BatchesLookups(t *testing.T) {
	repo := &stubActivities{known: map[uuid.UUID]domain.Activity{}}
	hatched, _ := repo.Create(context.Background(), "hatched", "keeper")
	moulted, _ := repo.Create(context.Background(), "moulted", "keeper")
	missing := uuid.New()

	var resolved map[uuid.UUID]*domain.Activity
	handler := DataLoaderMiddleware(repo)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loader := ActivityLoaderFromContext(r.Context())
		if loader == nil {
			t.Fatalf("expected loader in context")
		}
		var err error
		resolved, err = loader.LoadMany(r.Context(), []uuid.UUID{moulted.ID, missing, hatched.ID})
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if repo.calls != 1 {
		t.Fatalf("expected one batched lookup, got %d", repo.calls)
	}
	if resolved[hatched.ID] == nil || resolved[hatched.ID].Description != "hatched" {
		t.Fatalf("unexpected hatched activity %+v", resolved[hatched.ID])
	}
	if resolved[moulted.ID] == nil || resolved[moulted.ID].Description != "moulted" {
		t.Fatalf("unexpected moulted activity %+v", resolved[moulted.ID])
	}
	if resolved[missing] != nil {
		t.Fatalf("expected missing activity to resolve to nil")
	}
}

func TestActivityLoaderFromContext_Missing(t *testing.T) {
	if ActivityLoaderFromContext(context.Background()) != nil {
		t.Fatalf("expected nil loader")
	}
}

func TestLoggingMiddleware_CapturesStatus(t *testing.T) {
	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/brew", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected status to pass through, got %d", rec.Code)
	}
}
