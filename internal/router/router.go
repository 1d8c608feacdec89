package router

import (
	"net/http"

	"github.com/roomora/backend/internal/billing"
	"github.com/roomora/backend/internal/dashboard"
	"github.com/roomora/backend/internal/generation"
	"github.com/roomora/backend/internal/middleware"
)

// New returns an http.Handler that serves the API under /api/v1.
// Middleware chain on render submission: Auth -> RenderGate -> handler.
func New(
	authenticator middleware.Authenticator,
	genHandler *generation.Handler,
	dashHandler *dashboard.Handler,
	billingHandler *billing.Handler,
) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	auth := middleware.Auth(authenticator)
	gate := middleware.RenderGate()

	mux.Handle("POST "+base+"/renders", auth(gate(http.HandlerFunc(genHandler.CreateRender))))
	mux.Handle("GET "+base+"/renders", auth(http.HandlerFunc(genHandler.ListRenders)))
	mux.Handle("GET "+base+"/renders/{id}", auth(http.HandlerFunc(genHandler.GetRender)))
	mux.Handle("GET "+base+"/styles", http.HandlerFunc(genHandler.ListStyles))

	mux.Handle("GET "+base+"/account/me", auth(http.HandlerFunc(dashHandler.GetMe)))
	mux.Handle("GET "+base+"/credit-ledger", auth(http.HandlerFunc(dashHandler.ListCreditLedger)))

	// The webhook authenticates with its signature, not a bearer token.
	mux.Handle("POST "+base+"/billing/webhook", http.HandlerFunc(billingHandler.HandleWebhook))

	return mux
}
