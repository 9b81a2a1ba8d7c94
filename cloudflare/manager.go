// Package cloudflare registers a subdomain per installed project.
package cloudflare

import (
	"context"
	"log/slog"
	"sync"

	"launchpad/types"
)

// Manager handles domain management for projects
type Manager struct {
	client  *Client
	autoGen bool
	mu      sync.Mutex // serialises register/delete against the existence check
	logger  *slog.Logger
}

// NewManager creates a new domain manager. A nil client disables it.
func NewManager(client *Client, autoGenerate bool, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{client: client, autoGen: autoGenerate, logger: logger}
}

// RegisterProjectDomain creates a domain for a freshly installed project when
// auto-generation is on. It returns nil when registration was skipped.
func (m *Manager) RegisterProjectDomain(ctx context.Context, project string) (*types.ProjectDomain, error) {
	if !m.IsEnabled() || !m.autoGen {
		m.logger.Debug("Domain registration skipped", "project", project, "enabled", m.IsEnabled(), "autoGenerate", m.autoGen)
		return nil, nil
	}
	return m.CreateProjectDomain(ctx, project)
}

// CreateProjectDomain creates a domain for project, returning the existing
// one if already registered.
func (m *Manager) CreateProjectDomain(ctx context.Context, project string) (*types.ProjectDomain, error) {
	if !m.IsEnabled() {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if domain, exists := m.client.GetDomain(project); exists {
		return &domain, nil
	}

	domain, err := m.client.CreateDomain(ctx, project)
	if err != nil {
		m.logger.Error("Failed to create domain", "project", project, "error", err)
		return nil, err
	}
	m.logger.Info("Registered domain", "project", project, "domain", domain.Domain)
	return domain, nil
}

// GetProjectDomain retrieves domain info for a project
func (m *Manager) GetProjectDomain(project string) (types.ProjectDomain, bool) {
	if !m.IsEnabled() {
		return types.ProjectDomain{}, false
	}
	return m.client.GetDomain(project)
}

// DeleteProjectDomain removes a project's domain. Deleting a missing domain
// is a no-op.
func (m *Manager) DeleteProjectDomain(ctx context.Context, project string) error {
	if !m.IsEnabled() {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.client.GetDomain(project); !exists {
		return nil
	}
	if err := m.client.DeleteDomain(ctx, project); err != nil {
		m.logger.Error("Failed to delete domain", "project", project, "error", err)
		return err
	}
	return nil
}

// GetAllDomains returns all registered domains
func (m *Manager) GetAllDomains() []types.ProjectDomain {
	if !m.IsEnabled() {
		return []types.ProjectDomain{}
	}
	return m.client.GetAllDomains()
}

// IsEnabled returns whether domain management is enabled
func (m *Manager) IsEnabled() bool {
	return m != nil && m.client != nil
}
