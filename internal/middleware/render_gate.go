package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/roomora/backend/internal/models"
)

const ctxRenderRequestKey contextKey = "parsed_render_request"

// RenderRequest is stored in context so the handler can use the parsed body
// without re-parsing it.
type RenderRequest struct {
	RoomType      string `json:"room_type"`
	Style         string `json:"style"`
	InputImageURL string `json:"input_image_url"`
}

// RenderRequestFromCtx returns the request parsed by RenderGate, or nil.
func RenderRequestFromCtx(ctx context.Context) *RenderRequest {
	req, _ := ctx.Value(ctxRenderRequestKey).(*RenderRequest)
	return req
}

// RenderGate rejects render requests with unknown room types or styles
// before any ledger work happens. Reads the body to peek at the catalog
// fields, then replaces r.Body so downstream handlers can re-read it.
func RenderGate() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acc := AccountFromCtx(r.Context())
			if acc == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			bodyBytes, err := io.ReadAll(r.Body)
			r.Body.Close()
			if err != nil {
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			// Restore body for the handler.
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			var peek RenderRequest
			if err := json.Unmarshal(bodyBytes, &peek); err != nil {
				http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
				return
			}
			if !models.AllowedRoomTypes[peek.RoomType] {
				http.Error(w, fmt.Sprintf(`{"error":"room type %q is not supported"}`, peek.RoomType), http.StatusBadRequest)
				return
			}
			if !models.AllowedStyles[peek.Style] {
				http.Error(w, fmt.Sprintf(`{"error":"style %q is not supported"}`, peek.Style), http.StatusBadRequest)
				return
			}
			if !strings.HasPrefix(peek.InputImageURL, "https://") {
				http.Error(w, `{"error":"input_image_url must be an https URL"}`, http.StatusBadRequest)
				return
			}

			ctx := context.WithValue(r.Context(), ctxRenderRequestKey, &peek)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
