package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/roomora/backend/internal/models"
	"github.com/roomora/backend/internal/services"
)

// stubRenderSvc hands out a fixed render and records settlement calls.
type stubRenderSvc struct {
	mu       sync.Mutex
	render   *models.Render
	startErr error

	completedURL string
	failedReason string
}

func (s *stubRenderSvc) StartRender(_ context.Context, _ uuid.UUID) (*models.Render, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	cp := *s.render
	return &cp, nil
}

func (s *stubRenderSvc) CompleteRender(_ context.Context, _ uuid.UUID, outputImageURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completedURL = outputImageURL
	return nil
}

func (s *stubRenderSvc) FailRender(_ context.Context, _ uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedReason = reason
	return nil
}

// passValidator approves every payload; tests for rejection use failValidator.
type passValidator struct{}

func (passValidator) ValidateOutput(_ context.Context, _ string, _ json.RawMessage) error {
	return nil
}

type failValidator struct{}

func (failValidator) ValidateOutput(_ context.Context, _ string, _ json.RawMessage) error {
	return services.ErrValidation
}

func testRender() *models.Render {
	return &models.Render{
		ID:             uuid.New(),
		AccountID:      uuid.New(),
		RoomType:       "bedroom",
		Style:          "modern",
		InputImageURL:  "https://cdn.roomora.dev/a.jpg",
		Status:         models.RenderStatusPending,
		CreditsCharged: 1,
	}
}

func testJob(renderID uuid.UUID, attempt int) *river.Job[RenderJobArgs] {
	return &river.Job[RenderJobArgs]{
		JobRow: &rivertype.JobRow{Attempt: attempt, MaxAttempts: renderMaxAttempts},
		Args:   RenderJobArgs{RenderID: renderID},
	}
}

// ---------------------------------------------------------------------------
// 1. Happy path: provider responds, render completes
// ---------------------------------------------------------------------------

func TestWork_CompletesRender(t *testing.T) {
	var gotBody providerRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"output_image_url": "https://cdn.roomora.dev/renders/out.jpg",
		})
	}))
	defer srv.Close()

	svc := &stubRenderSvc{render: testRender()}
	w := NewGenerateRenderWorker(svc, passValidator{}, srv.URL, "provider-key")

	if err := w.Work(context.Background(), testJob(svc.render.ID, 1)); err != nil {
		t.Fatalf("Work: %v", err)
	}

	if gotBody.RoomType != "bedroom" || gotBody.Style != "modern" || gotBody.Image != svc.render.InputImageURL {
		t.Errorf("provider request: got %+v", gotBody)
	}
	if svc.completedURL != "https://cdn.roomora.dev/renders/out.jpg" {
		t.Errorf("completed url: got %q", svc.completedURL)
	}
	if svc.failedReason != "" {
		t.Errorf("unexpected failure: %q", svc.failedReason)
	}
}

// ---------------------------------------------------------------------------
// 2. Provider rejection is permanent: render fails, no retry error
// ---------------------------------------------------------------------------

func TestWork_ProviderErrorFailsRender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	svc := &stubRenderSvc{render: testRender()}
	w := NewGenerateRenderWorker(svc, passValidator{}, srv.URL, "provider-key")

	if err := w.Work(context.Background(), testJob(svc.render.ID, 1)); err != nil {
		t.Fatalf("permanent failures must not bubble a retry error, got: %v", err)
	}
	if !strings.Contains(svc.failedReason, "502") {
		t.Errorf("failure reason should carry the status, got %q", svc.failedReason)
	}
}

// ---------------------------------------------------------------------------
// 3. Output the schema rejects is permanent too
// ---------------------------------------------------------------------------

func TestWork_InvalidOutputFailsRender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"unexpected": "shape"})
	}))
	defer srv.Close()

	svc := &stubRenderSvc{render: testRender()}
	w := NewGenerateRenderWorker(svc, failValidator{}, srv.URL, "provider-key")

	if err := w.Work(context.Background(), testJob(svc.render.ID, 1)); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if !strings.Contains(svc.failedReason, "rejected") {
		t.Errorf("failure reason: got %q", svc.failedReason)
	}
}

// ---------------------------------------------------------------------------
// 4. Network errors retry until the final attempt, then fail the render
// ---------------------------------------------------------------------------

func TestWork_NetworkErrorRetriesThenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	svc := &stubRenderSvc{render: testRender()}
	w := NewGenerateRenderWorker(svc, passValidator{}, srv.URL, "provider-key")

	if err := w.Work(context.Background(), testJob(svc.render.ID, 1)); err == nil {
		t.Fatal("early attempts must return an error so the queue retries")
	}
	if svc.failedReason != "" {
		t.Fatalf("render must not fail before the final attempt, got %q", svc.failedReason)
	}

	if err := w.Work(context.Background(), testJob(svc.render.ID, renderMaxAttempts)); err != nil {
		t.Fatalf("final attempt must settle the render, got: %v", err)
	}
	if !strings.Contains(svc.failedReason, "unreachable") {
		t.Errorf("failure reason: got %q", svc.failedReason)
	}
}

// ---------------------------------------------------------------------------
// 5. Redelivery after settlement is a no-op
// ---------------------------------------------------------------------------

func TestWork_FinishedRenderIsNoop(t *testing.T) {
	svc := &stubRenderSvc{startErr: ErrRenderFinished}
	w := NewGenerateRenderWorker(svc, passValidator{}, "http://unused.invalid", "provider-key")

	if err := w.Work(context.Background(), testJob(uuid.New(), 2)); err != nil {
		t.Fatalf("redelivered finished render must be a no-op, got: %v", err)
	}
}
