// Package core wires a record store from configuration: backend selection,
// logging, caching and operation metrics.
package core

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/alphadevx/alpha-sub000/internal/cache"
	"github.com/alphadevx/alpha-sub000/internal/config"
	"github.com/alphadevx/alpha-sub000/internal/infra/persistence/postgres"
	"github.com/alphadevx/alpha-sub000/internal/infra/persistence/sqlite"
	"github.com/alphadevx/alpha-sub000/internal/observability"
	"github.com/alphadevx/alpha-sub000/pkg/record"
)

// StorageDriver identifies a concrete persistence provider.
type StorageDriver string

const (
	StorageSQLite   StorageDriver = sqlite.ProviderName   // embedded sqlite file
	StoragePostgres StorageDriver = postgres.ProviderName // PostgreSQL server
)

// Options carries the process-wide collaborators. Zero values are valid:
// logging is discarded and Prometheus metrics are skipped.
type Options struct {
	Logger     zerolog.Logger
	Registerer prometheus.Registerer
	Session    record.Session
}

// OpenStore selects the backend named by cfg.Provider and attaches the
// configured cache and observers. The connection is opened lazily.
func OpenStore(cfg *config.Config, o Options) (*record.Store, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	opts := []record.Option{record.WithLogger(o.Logger)}
	if o.Session != nil {
		opts = append(opts, record.WithSession(o.Session))
	}
	if cfg.Cache.Enabled {
		opts = append(opts, record.WithCache(cache.New(cfg.Cache.Size, cfg.Cache.TTL)))
	}
	observers := observability.Fanout{observability.NewJournal(o.Logger)}
	if o.Registerer != nil {
		prom, err := observability.NewPrometheusObserver(o.Registerer, cfg.Metrics.Namespace)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		observers = append(observers, prom)
	}
	if cfg.Metrics.Expvar {
		observers = append(observers, observability.NewExpvarRecorder(cfg.Metrics.Namespace+"_record_store"))
	}
	opts = append(opts, record.WithObserver(observers))

	switch StorageDriver(cfg.Provider) {
	case StorageSQLite:
		return sqlite.Open(cfg.SQLite.Path, opts...)
	case StoragePostgres:
		if cfg.Postgres.DSN == "" {
			return nil, fmt.Errorf("postgres provider requires a dsn")
		}
		return postgres.Open(cfg.Postgres.DSN, opts...)
	default:
		return nil, fmt.Errorf("%w: %s", record.ErrUnknownProvider, cfg.Provider)
	}
}
