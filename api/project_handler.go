package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"launchpad/types"
)

// Lifecycle is the set of project operations the API serves.
type Lifecycle interface {
	Install(ctx context.Context, sourceURL string) (types.Project, error)
	Run(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	UpdateSettings(ctx context.Context, name string, env map[string]string) error
	Settings(ctx context.Context, name string) (map[string]string, error)
	Get(ctx context.Context, name string) (types.Project, error)
	List(ctx context.Context) ([]types.Project, error)
}

// ProjectHandler handles API requests related to projects.
type ProjectHandler struct {
	lifecycle Lifecycle
	logger    *slog.Logger
}

// NewProjectHandler creates a new ProjectHandler.
func NewProjectHandler(lc Lifecycle, logger *slog.Logger) *ProjectHandler {
	return &ProjectHandler{lifecycle: lc, logger: logger}
}

type installRequest struct {
	RepoURL string `json:"repoUrl"`
}

type projectRequest struct {
	ProjectName string `json:"projectName"`
}

// Install godoc
// @Summary Install a project from a git repository
// @Tags projects
// @Accept json
// @Produce json
// @Param body body installRequest true "Repository URL"
// @Success 200 {object} map[string]any "success, projectName"
// @Failure 409 {object} errorResponse "project already exists"
// @Router /install [post]
func (h *ProjectHandler) Install(w http.ResponseWriter, r *http.Request) {
	var req installRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if strings.TrimSpace(req.RepoURL) == "" {
		writeError(w, h.logger, types.Errorf(types.CodeInvalidInput, "install", "", "repoUrl is required"))
		return
	}

	project, err := h.lifecycle.Install(r.Context(), req.RepoURL)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"success": true, "projectName": project.Name})
}

// ListProjects godoc
// @Summary List installed projects
// @Tags projects
// @Produce json
// @Success 200 {object} map[string]any "projects"
// @Router /projects [get]
func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.lifecycle.List(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"projects": projects})
}

// GetProject godoc
// @Summary Get one project
// @Tags projects
// @Produce json
// @Param name path string true "Project name"
// @Success 200 {object} map[string]any "project"
// @Failure 404 {object} errorResponse "project not found"
// @Router /project/{name} [get]
func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.lifecycle.Get(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"project": project})
}

// GetSettings godoc
// @Summary Get a project's environment variables
// @Tags projects
// @Produce json
// @Param name path string true "Project name"
// @Success 200 {object} map[string]any "settings"
// @Router /project/{name}/settings [get]
func (h *ProjectHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.lifecycle.Settings(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"settings": settings})
}

// UpdateSettings godoc
// @Summary Replace a project's environment variables
// @Description Values must be strings. A running project sees them on its next run.
// @Tags projects
// @Accept json
// @Produce json
// @Param name path string true "Project name"
// @Success 200 {object} messageResponse
// @Failure 400 {object} errorResponse "missing envVariables or non-string value"
// @Router /project/{name}/settings [post]
func (h *ProjectHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req struct {
		EnvVariables *map[string]any `json:"envVariables"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.EnvVariables == nil || *req.EnvVariables == nil {
		writeError(w, h.logger, types.Errorf(types.CodeInvalidInput, "update settings", name, "envVariables is required"))
		return
	}

	env := make(map[string]string, len(*req.EnvVariables))
	for k, v := range *req.EnvVariables {
		s, ok := v.(string)
		if !ok {
			writeError(w, h.logger, types.Errorf(types.CodeInvalidInput, "update settings", name, "value of %s must be a string", k))
			return
		}
		env[k] = s
	}

	if err := h.lifecycle.UpdateSettings(r.Context(), name, env); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, messageResponse{Success: true, Message: "Project settings updated successfully"})
}

// Run godoc
// @Summary Start a project
// @Description Returns once the launch is accepted; the outcome shows in the project status.
// @Tags projects
// @Accept json
// @Produce json
// @Success 200 {object} messageResponse
// @Failure 409 {object} errorResponse "already running"
// @Router /run [post]
func (h *ProjectHandler) Run(w http.ResponseWriter, r *http.Request) {
	name, ok := h.projectName(w, r)
	if !ok {
		return
	}
	if err := h.lifecycle.Run(r.Context(), name); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, messageResponse{Success: true, Message: "Project started successfully"})
}

// Stop godoc
// @Summary Stop a project
// @Tags projects
// @Accept json
// @Produce json
// @Success 200 {object} messageResponse
// @Router /stop [post]
func (h *ProjectHandler) Stop(w http.ResponseWriter, r *http.Request) {
	name, ok := h.projectName(w, r)
	if !ok {
		return
	}
	if err := h.lifecycle.Stop(r.Context(), name); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, messageResponse{Success: true, Message: "Project stopped successfully"})
}

func (h *ProjectHandler) projectName(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req projectRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return "", false
	}
	if strings.TrimSpace(req.ProjectName) == "" {
		writeError(w, h.logger, types.Errorf(types.CodeInvalidInput, "decode request", "", "projectName is required"))
		return "", false
	}
	return req.ProjectName, true
}

// RegisterProjectHandlers registers the project routes, each wrapped by guard.
func (h *ProjectHandler) RegisterProjectHandlers(router *mux.Router, guard mux.MiddlewareFunc) {
	router.Handle("/install", guard(http.HandlerFunc(h.Install))).Methods(http.MethodPost)
	router.Handle("/projects", guard(http.HandlerFunc(h.ListProjects))).Methods(http.MethodGet)
	router.Handle("/project/{name}", guard(http.HandlerFunc(h.GetProject))).Methods(http.MethodGet)
	router.Handle("/project/{name}/settings", guard(http.HandlerFunc(h.GetSettings))).Methods(http.MethodGet)
	router.Handle("/project/{name}/settings", guard(http.HandlerFunc(h.UpdateSettings))).Methods(http.MethodPost)
	router.Handle("/run", guard(http.HandlerFunc(h.Run))).Methods(http.MethodPost)
	router.Handle("/stop", guard(http.HandlerFunc(h.Stop))).Methods(http.MethodPost)
}
