package types

// CloudflareConfig holds configuration for Cloudflare integration
type CloudflareConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`             // Whether Cloudflare integration is enabled
	APIToken     string `json:"api_token" yaml:"api_token"`         // Cloudflare API token for authentication
	ZoneID       string `json:"zone_id" yaml:"zone_id"`             // Cloudflare Zone ID
	BaseDomain   string `json:"base_domain" yaml:"base_domain"`     // Base domain for subdomains, e.g. "example.com"
	AutoGenerate bool   `json:"auto_generate" yaml:"auto_generate"` // Register a subdomain for every installed project
}

// CloudflareDNSRecord represents a DNS record created for a project
type CloudflareDNSRecord struct {
	RecordID string `json:"record_id"` // Cloudflare Record ID
	Name     string `json:"name"`      // The full domain name, e.g. "myapp.example.com"
	Content  string `json:"content"`   // IP address or CNAME value
	Type     string `json:"type"`      // "A" or "CNAME"
	Proxied  bool   `json:"proxied"`   // Whether the record is proxied through Cloudflare
}

// ProjectDomain links a project to the domain registered for it.
type ProjectDomain struct {
	Project   string              `json:"project"`
	Domain    string              `json:"domain"`
	DNSRecord CloudflareDNSRecord `json:"dns_record,omitempty"`
}
