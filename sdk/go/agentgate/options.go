package agentgate

import "io"

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	configPath string
	secret     string
	agentID    string
	tenantID   string
	auditPath  string
	log        io.Writer
}

// WithConfig sets the path to a gate.yaml file.
func WithConfig(path string) Option {
	return func(c *clientConfig) { c.configPath = path }
}

// WithSecret sets the signing secret instead of reading it from the
// environment variable named in the config.
func WithSecret(secret string) Option {
	return func(c *clientConfig) { c.secret = secret }
}

// WithAgent sets the agent identifier attached to every action.
func WithAgent(id string) Option {
	return func(c *clientConfig) { c.agentID = id }
}

// WithTenant sets the tenant identifier attached to every action.
func WithTenant(id string) Option {
	return func(c *clientConfig) { c.tenantID = id }
}

// WithAuditLog appends decisions and receipts to a hash-chained log.
func WithAuditLog(path string) Option {
	return func(c *clientConfig) { c.auditPath = path }
}

// WithLog sets where diagnostics are written. Defaults to stderr.
func WithLog(w io.Writer) Option {
	return func(c *clientConfig) { c.log = w }
}
