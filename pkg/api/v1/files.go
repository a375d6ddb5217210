package v1

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/boltlabs/runtimed/pkg/config"
	"github.com/boltlabs/runtimed/pkg/dokploy"
	rterrors "github.com/boltlabs/runtimed/pkg/errors"
	"github.com/boltlabs/runtimed/pkg/logger"
	"github.com/boltlabs/runtimed/pkg/paths"
	"github.com/boltlabs/runtimed/pkg/session"
)

// FileManager is the slice of the platform client the file endpoints use.
// *dokploy.Client satisfies it.
type FileManager interface {
	ListFiles(ctx context.Context, composeID, path, requestID string) ([]dokploy.FileEntry, error)
	ReadFile(ctx context.Context, composeID, path, requestID string) (*dokploy.FileContent, error)
	WriteFile(ctx context.Context, input dokploy.WriteFileInput, requestID string) error
	CreateDirectory(ctx context.Context, composeID, path, requestID string) error
	DeletePath(ctx context.Context, composeID, path string, recursive bool, requestID string) error
	SearchFiles(ctx context.Context, composeID, query, path, requestID string) ([]dokploy.FileEntry, error)
	RedeployCompose(ctx context.Context, composeID, requestID string) error
}

// FilesRoutes handles the scoped filesystem endpoints.
type FilesRoutes struct {
	orchestrator *session.Orchestrator
	files        FileManager
	cfg          *config.Config
}

// FilesRouter creates the router for /api/runtime/files.
func FilesRouter(orchestrator *session.Orchestrator, files FileManager, cfg *config.Config) http.Handler {
	routes := FilesRoutes{orchestrator: orchestrator, files: files, cfg: cfg}

	r := chi.NewRouter()
	r.MethodNotAllowed(methodNotAllowed)
	r.Get("/list", routes.list)
	r.Get("/read", routes.read)
	r.Put("/write", routes.write)
	r.Post("/write", routes.write)
	r.Post("/mkdir", routes.mkdir)
	r.Delete("/delete", routes.deletePath)
	r.Get("/search", routes.search)

	return r
}

// fileEntryResponse is a listing entry with the virtual path the UI shows.
type fileEntryResponse struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	VirtualPath string `json:"virtualPath"`
	Type        string `json:"type"`
	Size        int64  `json:"size,omitempty"`
	ModifiedAt  string `json:"modifiedAt,omitempty"`
}

type fileContentResponse struct {
	fileEntryResponse
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	IsBinary bool   `json:"isBinary"`
}

// authorize validates the token and maps the requested virtual path; every
// file endpoint goes through it. The compose id always comes from the token.
func (f *FilesRoutes) authorize(r *http.Request, bodyToken, virtualPath string) (composeID, platformPath string, err error) {
	if err := requireRemote(f.cfg); err != nil {
		return "", "", err
	}
	if err := validatePath(virtualPath); err != nil {
		return "", "", err
	}

	tok, err := extractToken(r, bodyToken)
	if err != nil {
		return "", "", err
	}
	claims, err := f.orchestrator.WithClaims(tok)
	if err != nil {
		return "", "", err
	}

	platformPath, err = paths.ToPlatformPath(virtualPath)
	if err != nil {
		return "", "", err
	}
	return claims.ComposeID, platformPath, nil
}

func (f *FilesRoutes) list(w http.ResponseWriter, r *http.Request) {
	virtualPath := r.URL.Query().Get("path")
	if virtualPath == "" {
		virtualPath = paths.VirtualRoot
	}

	composeID, platformPath, err := f.authorize(r, "", virtualPath)
	if err != nil {
		writeError(w, err)
		return
	}

	entries, err := f.files.ListFiles(r.Context(), composeID, platformPath, requestID(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": toEntryResponses(entries)})
}

func (f *FilesRoutes) read(w http.ResponseWriter, r *http.Request) {
	virtualPath := r.URL.Query().Get("path")
	if virtualPath == "" {
		writeError(w, rterrors.NewBadRequest("path is required", nil))
		return
	}

	composeID, platformPath, err := f.authorize(r, "", virtualPath)
	if err != nil {
		writeError(w, err)
		return
	}

	file, err := f.files.ReadFile(r.Context(), composeID, platformPath, requestID(r))
	if err != nil {
		writeError(w, err)
		return
	}

	vp, err := paths.ToVirtualPath(file.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"file": fileContentResponse{
		fileEntryResponse: fileEntryResponse{
			Name:        baseName(file.Path),
			Path:        file.Path,
			VirtualPath: vp,
			Type:        "file",
			Size:        file.Size,
		},
		Content:  file.Content,
		Encoding: file.Encoding,
		IsBinary: file.IsBinary,
	}})
}

type writeFileRequest struct {
	Path         string `json:"path"`
	Content      string `json:"content"`
	Encoding     string `json:"encoding,omitempty"`
	RuntimeToken string `json:"runtimeToken,omitempty"`
}

func (f *FilesRoutes) write(w http.ResponseWriter, r *http.Request) {
	var req writeFileRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Path == "" {
		writeError(w, rterrors.NewBadRequest("path is required", nil))
		return
	}
	switch req.Encoding {
	case "", "utf8", "base64":
	default:
		writeError(w, rterrors.NewBadRequest("encoding must be utf8 or base64", nil))
		return
	}

	composeID, platformPath, err := f.authorize(r, req.RuntimeToken, req.Path)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := f.files.WriteFile(r.Context(), dokploy.WriteFileInput{
		ComposeID: composeID,
		Path:      platformPath,
		Content:   req.Content,
		Encoding:  req.Encoding,
		Overwrite: true,
	}, requestID(r)); err != nil {
		writeError(w, err)
		return
	}

	// Dependency-manifest writes require a redeploy for the running app to
	// pick them up; queue it before acknowledging the write.
	if paths.IsRedeployTrigger(req.Path) {
		if err := f.files.RedeployCompose(r.Context(), composeID, requestID(r)); err != nil {
			writeError(w, err)
			return
		}
		logger.Infow("queued redeploy for manifest write",
			"composeId", composeID, "path", platformPath)
	}

	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

type mkdirRequest struct {
	Path         string `json:"path"`
	RuntimeToken string `json:"runtimeToken,omitempty"`
}

func (f *FilesRoutes) mkdir(w http.ResponseWriter, r *http.Request) {
	var req mkdirRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Path == "" {
		writeError(w, rterrors.NewBadRequest("path is required", nil))
		return
	}

	composeID, platformPath, err := f.authorize(r, req.RuntimeToken, req.Path)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := f.files.CreateDirectory(r.Context(), composeID, platformPath, requestID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

type deleteRequest struct {
	Path         string `json:"path"`
	Recursive    bool   `json:"recursive,omitempty"`
	RuntimeToken string `json:"runtimeToken,omitempty"`
}

func (f *FilesRoutes) deletePath(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Path == "" {
		writeError(w, rterrors.NewBadRequest("path is required", nil))
		return
	}

	composeID, platformPath, err := f.authorize(r, req.RuntimeToken, req.Path)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := f.files.DeletePath(r.Context(), composeID, platformPath, req.Recursive, requestID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (f *FilesRoutes) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		writeError(w, rterrors.NewBadRequest("query is required", nil))
		return
	}
	if len(query) > maxQueryBytes {
		writeError(w, fieldTooLong("query", maxQueryBytes))
		return
	}
	virtualPath := r.URL.Query().Get("path")
	if virtualPath == "" {
		virtualPath = paths.VirtualRoot
	}

	composeID, platformPath, err := f.authorize(r, "", virtualPath)
	if err != nil {
		writeError(w, err)
		return
	}

	entries, err := f.files.SearchFiles(r.Context(), composeID, query, platformPath, requestID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": toEntryResponses(entries)})
}

func toEntryResponses(entries []dokploy.FileEntry) []fileEntryResponse {
	out := make([]fileEntryResponse, 0, len(entries))
	for _, e := range entries {
		vp, err := paths.ToVirtualPath(e.Path)
		if err != nil {
			// The platform handed back a path we refuse to map; hide it.
			logger.Warnw("dropping unmappable platform path", "path", e.Path)
			continue
		}
		out = append(out, fileEntryResponse{
			Name:        e.Name,
			Path:        e.Path,
			VirtualPath: vp,
			Type:        e.Type,
			Size:        e.Size,
			ModifiedAt:  e.ModifiedAt,
		})
	}
	return out
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
