package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/regioevents/dedupe/internal/model"
	"github.com/regioevents/dedupe/internal/storage"
	"github.com/regioevents/dedupe/internal/storage/memory"
	"github.com/regioevents/dedupe/pkg/config"
	"github.com/regioevents/dedupe/pkg/telemetry"
)

// failingStore wraps a nil storage.Store and only overrides MatchDecisions,
// so it satisfies the interface without needing every method implemented.
type failingStore struct {
	storage.Store
}

func (failingStore) MatchDecisions(ctx context.Context) ([]model.MatchDecision, error) {
	return nil, errors.New("connection refused")
}

func TestHandleHealth_StoreOKAIDisabled(t *testing.T) {
	srv := &server{store: memory.New(), cfg: config.Default()}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var snapshot telemetry.HealthSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if snapshot.Overall != telemetry.StatusOK {
		t.Fatalf("expected overall ok, got %v", snapshot.Overall)
	}
	if len(snapshot.Components) != 2 {
		t.Fatalf("expected 2 components, got %d", len(snapshot.Components))
	}
	for _, c := range snapshot.Components {
		if c.Status != telemetry.StatusOK {
			t.Fatalf("expected component %s ok, got %v", c.Name, c.Status)
		}
	}
}

func TestHandleHealth_AIEnabledWithoutModelIsDegraded(t *testing.T) {
	cfg := config.Default()
	cfg.AI.Enabled = true
	cfg.AI.Model = ""
	srv := &server{store: memory.New(), cfg: cfg}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.handleHealth(rec, req)

	var snapshot telemetry.HealthSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if snapshot.Overall != telemetry.StatusDegraded {
		t.Fatalf("expected overall degraded, got %v", snapshot.Overall)
	}
}

func TestHandleHealth_StoreFailureIsFatalAndServiceUnavailable(t *testing.T) {
	srv := &server{store: failingStore{}, cfg: config.Default()}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.handleHealth(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	var snapshot telemetry.HealthSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if snapshot.Overall != telemetry.StatusFatal {
		t.Fatalf("expected overall fatal, got %v", snapshot.Overall)
	}
}
