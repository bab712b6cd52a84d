package bootstrap

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-hooks/core"
	sqlstore "github.com/goliatone/go-hooks/store/sql"
)

type DatabaseConfig struct {
	Driver string
	DSN    string
	Debug  bool
	// AutoMigrate applies the embedded schema during Build.
	AutoMigrate bool
}

type RetiredKey struct {
	ID       string
	Version  int
	Material string
}

// SecretsConfig enables at-rest encryption of webhook signing secrets.
// Leaving AppKey empty stores secrets unencrypted.
type SecretsConfig struct {
	AppKey      string
	KeyID       string
	Version     int
	RetiredKeys []RetiredKey
}

type Config struct {
	// Hooks is the runtime layer applied over defaults and Values.
	Hooks core.Config
	// Values is the loaded layer, keyed like core.Config's koanf tags.
	Values map[string]any

	Database DatabaseConfig
	Secrets  SecretsConfig

	// WebhookCacheTTL puts the per-business webhook listing behind a read
	// cache. Zero disables it.
	WebhookCacheTTL time.Duration
	// TenantHeader names the trusted header carrying the business id when
	// no tenant resolver option is given.
	TenantHeader string
	// APIPrefix is prepended to every management route.
	APIPrefix string
	// AllowInsecureWebhookURLs accepts plain http targets.
	AllowInsecureWebhookURLs bool
}

func (c Config) validate() error {
	switch strings.TrimSpace(c.Database.Driver) {
	case sqlstore.DriverPostgres, sqlstore.DriverSQLite:
	case "":
		return fmt.Errorf("bootstrap: database driver is required")
	default:
		return fmt.Errorf("bootstrap: unsupported database driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("bootstrap: database dsn is required")
	}
	if c.WebhookCacheTTL < 0 {
		return fmt.Errorf("bootstrap: webhook cache ttl must be >= 0")
	}
	return nil
}

func (c Config) tenantHeader() string {
	if header := strings.TrimSpace(c.TenantHeader); header != "" {
		return header
	}
	return DefaultTenantHeader
}
