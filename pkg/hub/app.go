// Package hub implements the server side of the wire contract: the push
// ingest endpoint, the pull feed, and the bulk migration endpoints.
//
// The hub runs the same codecs as the nodes against its own store; an
// entity's hub-side primary key is the remote identifier every node binds
// after acknowledgement.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/edgetill/posbridge/pkg/registry"
	"github.com/edgetill/posbridge/pkg/store"
	"github.com/edgetill/posbridge/pkg/wire"
)

// defaultBatchSize is recommended to migrating nodes and applied when a
// request does not carry its own limit.
const defaultBatchSize = 200

// App is the hub HTTP application.
type App struct {
	store     *store.Store
	reg       *registry.Registry
	authToken string
	log       zerolog.Logger
}

// New creates a hub application. An empty authToken disables bearer
// authentication; intended only for tests.
func New(s *store.Store, reg *registry.Registry, authToken string, log zerolog.Logger) *App {
	return &App{store: s, reg: reg, authToken: authToken, log: log}
}

// Router builds the hub's route table.
func (a *App) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(a.authMiddleware)
	api.HandleFunc("/sync/push", a.handlePush).Methods(http.MethodPost)
	api.HandleFunc("/sync/pull", a.handlePull).Methods(http.MethodPost)
	api.HandleFunc("/migration/manifest", a.handleManifest).Methods(http.MethodPost)
	api.HandleFunc("/migration/batch", a.handleBatch).Methods(http.MethodPost)
	api.HandleFunc("/orders/{reference}/cancel", a.handleCancelOrder).Methods(http.MethodPost)
	return r
}

// Serve runs the hub until the context is cancelled.
func (a *App) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", addr).Msg("hub listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (a *App) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.authToken != "" {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token != a.authToken {
				a.respondError(w, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	a.respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *App) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.log.Error().Err(err).Msg("failed to write response")
	}
}

func (a *App) respondError(w http.ResponseWriter, status int, message string) {
	a.respondJSON(w, status, wire.Envelope{Success: false, Error: message})
}

func decodeBody(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}
