package v1

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/boltlabs/runtimed/pkg/config"
	"github.com/boltlabs/runtimed/pkg/logger"
	"github.com/boltlabs/runtimed/pkg/session"
)

// Deployer queues deployments for a compose. *dokploy.Client satisfies it.
type Deployer interface {
	RedeployCompose(ctx context.Context, composeID, requestID string) error
}

// DeployRoutes handles explicit redeploy requests from the editor.
type DeployRoutes struct {
	orchestrator *session.Orchestrator
	deployer     Deployer
	cfg          *config.Config
}

// DeployRouter creates the router for /api/runtime/deploy.
func DeployRouter(orchestrator *session.Orchestrator, deployer Deployer, cfg *config.Config) http.Handler {
	routes := DeployRoutes{orchestrator: orchestrator, deployer: deployer, cfg: cfg}

	r := chi.NewRouter()
	r.MethodNotAllowed(methodNotAllowed)
	r.Post("/redeploy", routes.redeploy)

	return r
}

type redeployRequest struct {
	Reason       string `json:"reason,omitempty"`
	RuntimeToken string `json:"runtimeToken,omitempty"`
}

func (d *DeployRoutes) redeploy(w http.ResponseWriter, r *http.Request) {
	if err := requireRemote(d.cfg); err != nil {
		writeError(w, err)
		return
	}

	var req redeployRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	tok, err := extractToken(r, req.RuntimeToken)
	if err != nil {
		writeError(w, err)
		return
	}
	claims, err := d.orchestrator.WithClaims(tok)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := d.deployer.RedeployCompose(r.Context(), claims.ComposeID, requestID(r)); err != nil {
		writeError(w, err)
		return
	}

	logger.Infow("queued redeploy",
		"composeId", claims.ComposeID, "chatId", claims.ChatID, "reason", req.Reason)
	writeJSON(w, http.StatusOK, map[string]bool{"queued": true})
}
