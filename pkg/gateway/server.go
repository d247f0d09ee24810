// Package gateway implements the HTTP front end (C10): a plain
// http.ServeMux exposing admission and invocation endpoints over the
// runtime store, grounded on pkg/gateway/serverless_handlers.go.
package gateway

import (
	"net/http"

	"github.com/sanderpick/tableland-functions/pkg/runtime"
	"go.uber.org/zap"
)

// Handlers wires the runtime store into the HTTP surface spec.md §6 defines.
type Handlers struct {
	store  *runtime.Store
	logger *zap.Logger
}

// NewHandlers constructs a Handlers backed by store.
func NewHandlers(store *runtime.Store, logger *zap.Logger) *Handlers {
	return &Handlers{store: store, logger: logger}
}

// RegisterRoutes registers every route this gateway exposes on mux, matching
// pkg/gateway/serverless_handlers.go's RegisterRoutes.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/add/", h.handleAdd)
	mux.HandleFunc("/v1/functions/", h.handleInvoke)
}

// NewServer builds a *http.Server listening on addr with this gateway's
// routes registered.
func NewServer(addr string, h *Handlers) *http.Server {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return &http.Server{Addr: addr, Handler: mux}
}
