package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/roomora/backend/internal/models"
	"github.com/roomora/backend/internal/services"
)

const renderMaxAttempts = 3

type RenderJobArgs struct {
	RenderID uuid.UUID `json:"render_id"`
}

func (RenderJobArgs) Kind() string { return "generate_render" }

func (RenderJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: renderMaxAttempts}
}

// RenderService defines the contract the worker needs to report progress.
type RenderService interface {
	StartRender(ctx context.Context, id uuid.UUID) (*models.Render, error)
	CompleteRender(ctx context.Context, id uuid.UUID, outputImageURL string) error
	FailRender(ctx context.Context, id uuid.UUID, reason string) error
}

// OutputValidator checks the provider payload before it is trusted.
type OutputValidator interface {
	ValidateOutput(ctx context.Context, name string, output json.RawMessage) error
}

// providerRequest is the payload the image provider expects.
type providerRequest struct {
	RoomType string `json:"room_type"`
	Style    string `json:"style"`
	Image    string `json:"image"`
}

type providerResponse struct {
	OutputImageURL string `json:"output_image_url"`
}

type GenerateRenderWorker struct {
	river.WorkerDefaults[RenderJobArgs]
	renders     RenderService
	validator   OutputValidator
	providerURL string
	providerKey string
	httpClient  *http.Client
}

func NewGenerateRenderWorker(renders RenderService, validator OutputValidator, providerURL, providerKey string) *GenerateRenderWorker {
	return &GenerateRenderWorker{
		renders:     renders,
		validator:   validator,
		providerURL: providerURL,
		providerKey: providerKey,
		httpClient:  &http.Client{Timeout: 90 * time.Second},
	}
}

// Work calls the image provider and settles the render. Provider rejections
// and malformed payloads are permanent: the render fails and the credit is
// refunded. Network errors retry; the final attempt fails the render too.
func (w *GenerateRenderWorker) Work(ctx context.Context, job *river.Job[RenderJobArgs]) error {
	args := job.Args

	render, err := w.renders.StartRender(ctx, args.RenderID)
	if err != nil {
		if errors.Is(err, ErrRenderFinished) {
			return nil
		}
		return err
	}

	body, err := json.Marshal(providerRequest{
		RoomType: render.RoomType,
		Style:    render.Style,
		Image:    render.InputImageURL,
	})
	if err != nil {
		return w.failRender(ctx, args.RenderID, fmt.Sprintf("failed to build provider request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.providerURL, bytes.NewReader(body))
	if err != nil {
		return w.failRender(ctx, args.RenderID, fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.providerKey)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		if job.Attempt >= job.MaxAttempts {
			return w.failRender(ctx, args.RenderID, fmt.Sprintf("provider unreachable after %d attempts: %v", job.Attempt, err))
		}
		return fmt.Errorf("network error calling provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return w.failRender(ctx, args.RenderID, fmt.Sprintf("provider returned status %d", resp.StatusCode))
	}

	var payload json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return w.failRender(ctx, args.RenderID, "provider returned invalid JSON")
	}
	if err := w.validator.ValidateOutput(ctx, services.SchemaRender, payload); err != nil {
		return w.failRender(ctx, args.RenderID, fmt.Sprintf("provider output rejected: %v", err))
	}

	var out providerResponse
	if err := json.Unmarshal(payload, &out); err != nil || out.OutputImageURL == "" {
		return w.failRender(ctx, args.RenderID, "provider output missing image url")
	}

	if err := w.renders.CompleteRender(ctx, args.RenderID, out.OutputImageURL); err != nil {
		return fmt.Errorf("failed to mark render completed: %w", err)
	}
	return nil
}

func (w *GenerateRenderWorker) failRender(ctx context.Context, renderID uuid.UUID, reason string) error {
	if markErr := w.renders.FailRender(ctx, renderID, reason); markErr != nil {
		return fmt.Errorf("render failed (%s) AND failed to mark it failed: %w", reason, markErr)
	}
	return nil
}
