package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-hooks/adapters/gocommand"
	"github.com/goliatone/go-hooks/core"
	"github.com/goliatone/go-hooks/httpapi"
	"github.com/goliatone/go-hooks/metrics"
	hookmigrations "github.com/goliatone/go-hooks/migrations"
	"github.com/goliatone/go-hooks/security"
	sqlstore "github.com/goliatone/go-hooks/store/sql"
	"github.com/goliatone/go-hooks/transport"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DefaultTenantHeader = "X-Business-Id"
	DefaultMetricsPath  = "/metrics"
)

type Option func(*options)

type options struct {
	logger         glog.Logger
	loggerProvider glog.LoggerProvider
	registry       *prometheus.Registry
	tenants        core.TenantResolver
	transportOpts  []transport.Option
	coreOpts       []core.Option
	commands       *gocmd.Registry
}

func WithLogger(logger glog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithLoggerProvider(provider glog.LoggerProvider) Option {
	return func(o *options) {
		o.loggerProvider = provider
	}
}

// WithPrometheusRegistry records hooks metrics into registry and serves it
// from the metrics route.
func WithPrometheusRegistry(registry *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

func WithTenantResolver(resolver core.TenantResolver) Option {
	return func(o *options) {
		o.tenants = resolver
	}
}

func WithTransportOptions(opts ...transport.Option) Option {
	return func(o *options) {
		o.transportOpts = append(o.transportOpts, opts...)
	}
}

// WithServiceOptions forwards extra options to core.NewService, for example
// core.WithAttemptQueue with a go-job backed queue.
func WithServiceOptions(opts ...core.Option) Option {
	return func(o *options) {
		o.coreOpts = append(o.coreOpts, opts...)
	}
}

// WithCommandRegistry registers the hooks commands and queries on registry
// and subscribes them on the go-command dispatcher. Runtime.Close removes
// the subscriptions.
func WithCommandRegistry(registry *gocmd.Registry) Option {
	return func(o *options) {
		o.commands = registry
	}
}

// Runtime is a fully wired hooks deployment over a SQL database.
type Runtime struct {
	Service   *core.Service
	Handler   *httpapi.Handler
	Client    *persistence.Client
	Transport *transport.HTTPTransport
	Metrics   *metrics.PrometheusRecorder
	Registry  *prometheus.Registry
	Commands  *gocommand.Registrar
	Logger    glog.Logger
}

func Build(ctx context.Context, cfg Config, opts ...Option) (*Runtime, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	_, logger := glog.Resolve("hooks", o.loggerProvider, o.logger)
	logger = glog.Ensure(logger)

	resolved, err := ResolveConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client, err := Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Client: client, Logger: logger}
	fail := func(err error) (*Runtime, error) {
		_ = client.Close()
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := Migrate(ctx, client, cfg.Database.Driver); err != nil {
			return fail(err)
		}
	}

	var factoryOpts []sqlstore.FactoryOption
	if cfg.WebhookCacheTTL > 0 {
		cacheConfig := repositorycache.DefaultConfig()
		cacheConfig.TTL = cfg.WebhookCacheTTL
		cacheService, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			return fail(fmt.Errorf("bootstrap: webhook cache: %w", err))
		}
		factoryOpts = append(factoryOpts, sqlstore.WithWebhookCache(cacheService))
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, factoryOpts...)
	if err != nil {
		return fail(err)
	}

	httpTransport, err := transport.NewHTTPTransportFromConfig(resolved.Transport, o.transportOpts...)
	if err != nil {
		return fail(err)
	}
	rt.Transport = httpTransport

	registry := o.registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	rt.Registry = registry
	rt.Metrics = metrics.NewPrometheusRecorder(registry)

	serviceOpts := []core.Option{
		core.WithLogger(logger),
		core.WithLoggerProvider(o.loggerProvider),
		core.WithRepositoryFactory(factory),
		core.WithTransport(httpTransport),
		core.WithMetricsRecorder(rt.Metrics),
	}
	if cfg.AllowInsecureWebhookURLs {
		serviceOpts = append(serviceOpts, core.WithAllowInsecureWebhookURLs())
	}
	if cfg.Secrets.AppKey != "" {
		provider, err := newSecretProvider(cfg.Secrets)
		if err != nil {
			return fail(err)
		}
		serviceOpts = append(serviceOpts, core.WithSecretProvider(provider))
	}
	serviceOpts = append(serviceOpts, o.coreOpts...)

	service, err := core.NewService(resolved, serviceOpts...)
	if err != nil {
		return fail(err)
	}
	rt.Service = service

	if o.commands != nil {
		registrar := gocommand.NewRegistrar(o.commands)
		if err := registrar.Register(service); err != nil {
			return fail(fmt.Errorf("bootstrap: register commands: %w", err))
		}
		rt.Commands = registrar
	}

	tenants := o.tenants
	if tenants == nil {
		tenants = httpapi.HeaderTenantResolver(cfg.tenantHeader())
	}
	handler, err := httpapi.NewHandler(service, tenants,
		httpapi.WithLogger(logger),
		httpapi.WithPathPrefix(cfg.APIPrefix),
	)
	if err != nil {
		return fail(err)
	}
	rt.Handler = handler
	return rt, nil
}

// ResolveConfig layers defaults, cfg.Values and cfg.Hooks the same way
// core.NewService does.
func ResolveConfig(ctx context.Context, cfg Config) (core.Config, error) {
	defaults := core.DefaultConfig()
	loaded, err := core.NewCfgxConfigProvider(core.StaticRawConfigLoader{Values: cfg.Values}).Load(ctx, defaults)
	if err != nil {
		return core.Config{}, fmt.Errorf("bootstrap: load config: %w", err)
	}
	resolved, err := core.GoOptionsResolver{}.Resolve(defaults, loaded, cfg.Hooks)
	if err != nil {
		return core.Config{}, fmt.Errorf("bootstrap: resolve config: %w", err)
	}
	return resolved, nil
}

func Open(cfg DatabaseConfig) (*persistence.Client, error) {
	persistenceConfig := sqlstore.PersistenceConfig{DSN: cfg.DSN, Debug: cfg.Debug}
	switch cfg.Driver {
	case sqlstore.DriverPostgres:
		return sqlstore.OpenPostgres(persistenceConfig)
	case sqlstore.DriverSQLite:
		return sqlstore.OpenSQLite(persistenceConfig)
	default:
		return nil, fmt.Errorf("bootstrap: unsupported database driver %q", cfg.Driver)
	}
}

// Migrate registers the embedded schema for driver and applies it.
func Migrate(ctx context.Context, client *persistence.Client, driver string) error {
	if client == nil {
		return fmt.Errorf("bootstrap: persistence client is required")
	}
	dialect := hookmigrations.DialectPostgres
	if driver == sqlstore.DriverSQLite {
		dialect = hookmigrations.DialectSQLite
	}
	_, err := hookmigrations.Register(ctx, func(_ context.Context, registered string, _ string, fsys fs.FS) error {
		if registered == dialect {
			client.RegisterSQLMigrations(fsys)
		}
		return nil
	}, hookmigrations.WithValidationTargets(dialect))
	if err != nil {
		return err
	}
	if err := client.Migrate(ctx); err != nil {
		return fmt.Errorf("bootstrap: migrate: %w", err)
	}
	return nil
}

func newSecretProvider(cfg SecretsConfig) (*security.AppKeySecretProvider, error) {
	var opts []security.Option
	if cfg.KeyID != "" {
		opts = append(opts, security.WithKeyID(cfg.KeyID))
	}
	if cfg.Version > 0 {
		opts = append(opts, security.WithVersion(cfg.Version))
	}
	for _, retired := range cfg.RetiredKeys {
		opts = append(opts, security.WithRetiredKey(retired.ID, retired.Version, []byte(retired.Material)))
	}
	return security.NewAppKeySecretProviderFromString(cfg.AppKey, opts...)
}

// Router mounts the management API and the Prometheus scrape endpoint.
func (r *Runtime) Router() *mux.Router {
	router := mux.NewRouter()
	r.Handler.Register(router)
	router.Handle(DefaultMetricsPath, promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return router
}

func (r *Runtime) Start(ctx context.Context) error {
	return r.Service.Start(ctx)
}

// Close stops background delivery and releases the database.
func (r *Runtime) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.Commands != nil {
		r.Commands.Close()
	}
	if r.Service != nil {
		errs = append(errs, r.Service.Stop(ctx))
	}
	if r.Client != nil {
		errs = append(errs, r.Client.Close())
	}
	return errors.Join(errs...)
}
