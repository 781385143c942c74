package http

import (
	"encoding/json"
	"net/http"

	"github.com/toolgate/gateway/internal/service"
)

// manifestHandler serves the gateway's current tool manifest at
// /.well-known/mcp/manifest, for discovery tooling that would rather GET
// a plain JSON document than speak the tools/list JSON-RPC method.
func manifestHandler(dispatcher *service.Dispatcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		manifest := dispatcher.Manifest(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(manifest)
	})
}

// diagnosticsHandler serves operator-facing runtime diagnostics: upstream
// reachability and audit pipeline backpressure.
func diagnosticsHandler(dispatcher *service.Dispatcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		diag := dispatcher.Diagnostics(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(diag)
	})
}
