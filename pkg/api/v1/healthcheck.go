package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/boltlabs/runtimed/pkg/config"
	"github.com/boltlabs/runtimed/pkg/dokploy"
)

// platformProbeTimeout bounds the upstream check so a hung platform cannot
// stall health probes.
const platformProbeTimeout = 5 * time.Second

// PlatformProbe is the slice of the platform client the health endpoint
// uses. *dokploy.Client satisfies it.
type PlatformProbe interface {
	ListProjects(ctx context.Context, requestID string) ([]dokploy.Project, error)
}

type healthResponse struct {
	Status   string `json:"status"`
	Provider string `json:"provider"`
	Platform string `json:"platform,omitempty"`
}

// HealthcheckHandler reports broker liveness. When the remote provider is
// active it also probes the platform, degrading (but not failing) the
// response if the probe errors.
func HealthcheckHandler(probe PlatformProbe, cfg *config.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Provider: string(cfg.Provider)}

		if cfg.RemoteEnabled() && probe != nil {
			ctx, cancel := context.WithTimeout(r.Context(), platformProbeTimeout)
			defer cancel()
			if _, err := probe.ListProjects(ctx, requestID(r)); err != nil {
				resp.Platform = "unreachable"
			} else {
				resp.Platform = "ok"
			}
		}

		writeJSON(w, http.StatusOK, resp)
	})
}
