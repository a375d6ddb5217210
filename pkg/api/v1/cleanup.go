package v1

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/boltlabs/runtimed/pkg/config"
	rterrors "github.com/boltlabs/runtimed/pkg/errors"
)

// cleanupSecretHeader authenticates operator-triggered sweeps.
const cleanupSecretHeader = "x-runtime-cleanup-secret"

// BulkSweeper runs idle sweeps across actors. *sweeper.Sweeper satisfies it.
type BulkSweeper interface {
	Run(ctx context.Context, actorID, requestID string) error
	RunAll(ctx context.Context, requestID string) (int, error)
}

// CleanupRoutes handles the operator sweep endpoint.
type CleanupRoutes struct {
	sweeper BulkSweeper
	cfg     *config.Config
}

// CleanupRouter creates the router for /api/runtime/cleanup.
func CleanupRouter(sweeper BulkSweeper, cfg *config.Config) http.Handler {
	routes := CleanupRoutes{sweeper: sweeper, cfg: cfg}

	r := chi.NewRouter()
	r.MethodNotAllowed(methodNotAllowed)
	r.Post("/", routes.cleanup)

	return r
}

type cleanupRequest struct {
	ActorID string `json:"actorId,omitempty"`
}

type cleanupResponse struct {
	OK         bool `json:"ok"`
	ActorCount int  `json:"actorCount"`
}

func (c *CleanupRoutes) cleanup(w http.ResponseWriter, r *http.Request) {
	if err := requireRemote(c.cfg); err != nil {
		writeError(w, err)
		return
	}
	if err := c.authenticate(r); err != nil {
		writeError(w, err)
		return
	}

	var req cleanupRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validateID("actorId", req.ActorID); err != nil {
		writeError(w, err)
		return
	}

	if req.ActorID != "" {
		if err := c.sweeper.Run(r.Context(), req.ActorID, requestID(r)); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cleanupResponse{OK: true, ActorCount: 1})
		return
	}

	count, err := c.sweeper.RunAll(r.Context(), requestID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cleanupResponse{OK: true, ActorCount: count})
}

// authenticate checks the shared cleanup secret when one is configured. With
// no secret set the endpoint is open, which is only sane behind a private
// network boundary.
func (c *CleanupRoutes) authenticate(r *http.Request) error {
	if c.cfg.CleanupSecret == "" {
		return nil
	}
	got := r.Header.Get(cleanupSecretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(c.cfg.CleanupSecret)) != 1 {
		return rterrors.NewForbidden("invalid cleanup secret", nil)
	}
	return nil
}
