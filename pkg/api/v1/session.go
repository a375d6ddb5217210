package v1

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/boltlabs/runtimed/pkg/config"
	rterrors "github.com/boltlabs/runtimed/pkg/errors"
	"github.com/boltlabs/runtimed/pkg/session"
)

// ActorCookieName is the long-lived pseudonymous identity cookie.
const ActorCookieName = "bolt_actor_id"

// actorCookieMaxAge keeps the actor stable for a year.
const actorCookieMaxAge = 365 * 24 * 60 * 60

// SessionRoutes handles the session lifecycle endpoints.
type SessionRoutes struct {
	orchestrator *session.Orchestrator
	cfg          *config.Config
}

// SessionRouter creates the router for /api/runtime/session.
func SessionRouter(orchestrator *session.Orchestrator, cfg *config.Config) http.Handler {
	routes := SessionRoutes{orchestrator: orchestrator, cfg: cfg}

	r := chi.NewRouter()
	r.MethodNotAllowed(methodNotAllowed)
	r.Post("/", routes.createSession)
	r.Get("/", routes.getSession)
	r.Delete("/", routes.deleteSession)
	r.Post("/heartbeat", routes.heartbeat)

	return r
}

type createSessionRequest struct {
	ChatID       string `json:"chatId"`
	TemplateID   string `json:"templateId,omitempty"`
	RuntimeToken string `json:"runtimeToken,omitempty"`
}

type createSessionResponse struct {
	RuntimeToken     string                   `json:"runtimeToken"`
	Session          *session.Session         `json:"session"`
	DeploymentStatus session.DeploymentStatus `json:"deploymentStatus"`
}

func (s *SessionRoutes) createSession(w http.ResponseWriter, r *http.Request) {
	if err := requireRemote(s.cfg); err != nil {
		writeError(w, err)
		return
	}

	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	// sendBeacon can only POST, so teardown on page exit arrives as a create
	// with a delete intent.
	if r.URL.Query().Get("intent") == "delete" {
		s.deleteWithToken(w, r, req.RuntimeToken)
		return
	}

	if req.ChatID == "" {
		writeError(w, rterrors.NewBadRequest("chatId is required", nil))
		return
	}
	if err := validateID("chatId", req.ChatID); err != nil {
		writeError(w, err)
		return
	}
	if err := validateID("templateId", req.TemplateID); err != nil {
		writeError(w, err)
		return
	}

	actorID, mint := resolveActor(r)

	result, err := s.orchestrator.Create(r.Context(), actorID, req.ChatID, req.TemplateID, requestID(r))
	if err != nil {
		writeError(w, err)
		return
	}

	if mint {
		setActorCookie(w, actorID)
	}
	writeJSON(w, http.StatusOK, createSessionResponse{
		RuntimeToken:     result.Token,
		Session:          result.Session,
		DeploymentStatus: result.DeploymentStatus,
	})
}

type getSessionResponse struct {
	SessionStatus    session.Status           `json:"sessionStatus"`
	PreviewURL       string                   `json:"previewUrl,omitempty"`
	DeploymentStatus session.DeploymentStatus `json:"deploymentStatus"`
	Session          *session.Session         `json:"session"`
}

func (s *SessionRoutes) getSession(w http.ResponseWriter, r *http.Request) {
	if err := requireRemote(s.cfg); err != nil {
		writeError(w, err)
		return
	}

	tok, err := extractToken(r, "")
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.orchestrator.Get(r.Context(), tok, requestID(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, getSessionResponse{
		SessionStatus:    result.Session.Status,
		PreviewURL:       result.Session.PreviewURL,
		DeploymentStatus: result.DeploymentStatus,
		Session:          result.Session,
	})
}

type deleteSessionRequest struct {
	RuntimeToken string `json:"runtimeToken,omitempty"`
}

func (s *SessionRoutes) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := requireRemote(s.cfg); err != nil {
		writeError(w, err)
		return
	}

	var req deleteSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.deleteWithToken(w, r, req.RuntimeToken)
}

func (s *SessionRoutes) deleteWithToken(w http.ResponseWriter, r *http.Request, bodyToken string) {
	tok, err := extractToken(r, bodyToken)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.orchestrator.Delete(r.Context(), tok, requestID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

type heartbeatRequest struct {
	RuntimeToken string `json:"runtimeToken,omitempty"`
}

type heartbeatResponse struct {
	Status       session.Status `json:"status"`
	ExpiresAt    time.Time      `json:"expiresAt"`
	RuntimeToken string         `json:"runtimeToken,omitempty"`
}

func (s *SessionRoutes) heartbeat(w http.ResponseWriter, r *http.Request) {
	if err := requireRemote(s.cfg); err != nil {
		writeError(w, err)
		return
	}

	var req heartbeatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tok, err := extractToken(r, req.RuntimeToken)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.orchestrator.Heartbeat(r.Context(), tok, requestID(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, heartbeatResponse{
		Status:       result.Status,
		ExpiresAt:    result.ExpiresAt,
		RuntimeToken: result.Token,
	})
}

// resolveActor reads the actor cookie, minting a fresh identity when absent.
// The second return reports whether a cookie must be set on the response.
func resolveActor(r *http.Request) (string, bool) {
	if c, err := r.Cookie(ActorCookieName); err == nil && c.Value != "" && len(c.Value) <= maxIDBytes {
		return c.Value, false
	}
	return uuid.NewString(), true
}

func setActorCookie(w http.ResponseWriter, actorID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     ActorCookieName,
		Value:    actorID,
		Path:     "/",
		MaxAge:   actorCookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
