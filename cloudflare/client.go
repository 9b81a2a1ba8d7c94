package cloudflare

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	cf "github.com/cloudflare/cloudflare-go"

	"launchpad/types"
)

// dnsAPI is the part of the Cloudflare API the client needs.
type dnsAPI interface {
	CreateDNSRecord(ctx context.Context, rc *cf.ResourceContainer, params cf.CreateDNSRecordParams) (cf.DNSRecord, error)
	DeleteDNSRecord(ctx context.Context, rc *cf.ResourceContainer, recordID string) error
}

// Client handles interactions with Cloudflare API
type Client struct {
	api        dnsAPI
	config     types.CloudflareConfig
	domainMap  map[string]types.ProjectDomain // Key: project name
	mu         sync.RWMutex
	serverAddr string // The server's public IP, the A record content
	logger     *slog.Logger
}

// NewClient creates a new Cloudflare API client. With integration disabled
// the client only records domains locally.
func NewClient(config types.CloudflareConfig, serverAddr string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		config:     config,
		domainMap:  make(map[string]types.ProjectDomain),
		serverAddr: serverAddr,
		logger:     logger,
	}
	if !config.Enabled {
		return c, nil
	}

	api, err := cf.NewWithAPIToken(config.APIToken)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Cloudflare API client: %w", err)
	}
	c.api = api
	return c, nil
}

// CreateDomain creates a subdomain of the base domain for a project.
func (c *Client) CreateDomain(ctx context.Context, project string) (*types.ProjectDomain, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subdomain := sanitizeForDNS(project)
	fullDomain := fmt.Sprintf("%s.%s", subdomain, c.config.BaseDomain)

	if !c.config.Enabled || c.api == nil {
		c.logger.Info("Cloudflare integration disabled, recording domain locally", "project", project, "domain", fullDomain)
		domain := types.ProjectDomain{Project: project, Domain: fullDomain}
		c.domainMap[project] = domain
		return &domain, nil
	}

	proxied := true
	params := cf.CreateDNSRecordParams{
		Type:    "A",
		Name:    subdomain,
		Content: c.serverAddr,
		TTL:     120,
		Proxied: &proxied,
	}

	c.logger.Info("Creating DNS record", "domain", fullDomain, "content", c.serverAddr)
	record, err := c.api.CreateDNSRecord(ctx, cf.ZoneIdentifier(c.config.ZoneID), params)
	if err != nil {
		return nil, fmt.Errorf("failed to create DNS record: %w", err)
	}

	domain := types.ProjectDomain{
		Project: project,
		Domain:  fullDomain,
		DNSRecord: types.CloudflareDNSRecord{
			RecordID: record.ID,
			Name:     fullDomain,
			Content:  c.serverAddr,
			Type:     "A",
			Proxied:  true,
		},
	}
	c.domainMap[project] = domain
	c.logger.Info("Created DNS record", "domain", fullDomain, "record", record.ID)
	return &domain, nil
}

// DeleteDomain removes a project's domain and its DNS record.
func (c *Client) DeleteDomain(ctx context.Context, project string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	domain, exists := c.domainMap[project]
	if !exists {
		return types.Errorf(types.CodeNotFound, "delete domain", project, "no domain registered")
	}

	if c.config.Enabled && c.api != nil {
		if domain.DNSRecord.RecordID == "" {
			return fmt.Errorf("no DNS record ID found for domain: %s", domain.Domain)
		}
		if err := c.api.DeleteDNSRecord(ctx, cf.ZoneIdentifier(c.config.ZoneID), domain.DNSRecord.RecordID); err != nil {
			return fmt.Errorf("failed to delete DNS record: %w", err)
		}
	}

	delete(c.domainMap, project)
	c.logger.Info("Deleted domain", "project", project, "domain", domain.Domain)
	return nil
}

// GetDomain retrieves domain information for a project
func (c *Client) GetDomain(project string) (types.ProjectDomain, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	domain, exists := c.domainMap[project]
	return domain, exists
}

// GetAllDomains returns all registered domains ordered by project.
func (c *Client) GetAllDomains() []types.ProjectDomain {
	c.mu.RLock()
	defer c.mu.RUnlock()

	domains := make([]types.ProjectDomain, 0, len(c.domainMap))
	for _, domain := range c.domainMap {
		domains = append(domains, domain)
	}
	sort.Slice(domains, func(i, j int) bool { return domains[i].Project < domains[j].Project })
	return domains
}

// sanitizeForDNS lowercases name and replaces anything outside [a-z0-9-]
// with single hyphens.
func sanitizeForDNS(name string) string {
	sanitized := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		if r >= 'A' && r <= 'Z' {
			return r + 32
		}
		return '-'
	}, name)

	for strings.Contains(sanitized, "--") {
		sanitized = strings.ReplaceAll(sanitized, "--", "-")
	}
	sanitized = strings.Trim(sanitized, "-")

	if sanitized == "" {
		sanitized = "app"
	}
	return sanitized
}
