package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"launchpad/types"
)

// DomainManager manages the public domains of projects.
type DomainManager interface {
	CreateProjectDomain(ctx context.Context, project string) (*types.ProjectDomain, error)
	GetProjectDomain(project string) (types.ProjectDomain, bool)
	DeleteProjectDomain(ctx context.Context, project string) error
	GetAllDomains() []types.ProjectDomain
	IsEnabled() bool
}

// DomainHandler handles API requests related to domains.
type DomainHandler struct {
	domains   DomainManager
	lifecycle Lifecycle
	logger    *slog.Logger
}

// NewDomainHandler creates a new DomainHandler.
func NewDomainHandler(dm DomainManager, lc Lifecycle, logger *slog.Logger) *DomainHandler {
	return &DomainHandler{domains: dm, lifecycle: lc, logger: logger}
}

// GetDomainForProject godoc
// @Summary Get domain information for a project
// @Tags domains
// @Produce json
// @Param name path string true "Project name"
// @Success 200 {object} types.ProjectDomain "Domain information"
// @Failure 404 {object} errorResponse "Project or domain not found"
// @Router /domains/{name} [get]
func (h *DomainHandler) GetDomainForProject(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, err := h.lifecycle.Get(r.Context(), name); err != nil {
		writeError(w, h.logger, err)
		return
	}

	domain, exists := h.domains.GetProjectDomain(name)
	if !exists {
		writeError(w, h.logger, types.Errorf(types.CodeNotFound, "get domain", name, "no domain registered for project %s", name))
		return
	}
	writeJSON(w, h.logger, http.StatusOK, domain)
}

// ListAllDomains godoc
// @Summary List all domains
// @Tags domains
// @Produce json
// @Success 200 {array} types.ProjectDomain "List of domains"
// @Router /domains [get]
func (h *DomainHandler) ListAllDomains(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, h.domains.GetAllDomains())
}

// CreateDomainForProject godoc
// @Summary Create a domain for an existing project
// @Tags domains
// @Produce json
// @Param name path string true "Project name"
// @Success 201 {object} types.ProjectDomain "The created domain"
// @Failure 404 {object} errorResponse "Project not found"
// @Failure 409 {object} errorResponse "Domain already exists"
// @Router /domains/{name} [post]
func (h *DomainHandler) CreateDomainForProject(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, err := h.lifecycle.Get(r.Context(), name); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if !h.domains.IsEnabled() {
		writeJSON(w, h.logger, http.StatusOK, messageResponse{Success: true, Message: "Domain creation skipped (Cloudflare integration disabled)"})
		return
	}

	if _, exists := h.domains.GetProjectDomain(name); exists {
		writeError(w, h.logger, types.Errorf(types.CodeAlreadyExists, "create domain", name, "domain for project %s already exists", name))
		return
	}

	domain, err := h.domains.CreateProjectDomain(r.Context(), name)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, domain)
}

// DeleteDomainForProject godoc
// @Summary Delete domain for a project
// @Tags domains
// @Produce json
// @Param name path string true "Project name"
// @Success 200 {object} messageResponse
// @Failure 404 {object} errorResponse "Domain not found"
// @Router /domains/{name} [delete]
func (h *DomainHandler) DeleteDomainForProject(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, exists := h.domains.GetProjectDomain(name); !exists {
		writeError(w, h.logger, types.Errorf(types.CodeNotFound, "delete domain", name, "no domain registered for project %s", name))
		return
	}

	if err := h.domains.DeleteProjectDomain(r.Context(), name); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, messageResponse{Success: true, Message: "Domain deleted successfully"})
}

// RegisterDomainHandlers registers the domain routes, each wrapped by guard.
func (h *DomainHandler) RegisterDomainHandlers(router *mux.Router, guard mux.MiddlewareFunc) {
	router.Handle("/domains", guard(http.HandlerFunc(h.ListAllDomains))).Methods(http.MethodGet)
	router.Handle("/domains/{name}", guard(http.HandlerFunc(h.GetDomainForProject))).Methods(http.MethodGet)
	router.Handle("/domains/{name}", guard(http.HandlerFunc(h.CreateDomainForProject))).Methods(http.MethodPost)
	router.Handle("/domains/{name}", guard(http.HandlerFunc(h.DeleteDomainForProject))).Methods(http.MethodDelete)
}
