package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof" //nolint:gosec
	"os"
	"os/signal"
	runtimePprof "runtime/pprof"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stellar/go/ingest/ledgerbackend"
	supportdb "github.com/stellar/go/support/db"
	supporthttp "github.com/stellar/go/support/http"
	supportlog "github.com/stellar/go/support/log"

	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/config"
	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/db"
	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/ingest"
	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/jsonrpc"
	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/query"
)

const (
	prometheusNamespace        = "txsearch_rpc"
	defaultReadTimeout         = 5 * time.Second
	defaultShutdownGracePeriod = 10 * time.Second
)

// network bundles the per-network resources the daemon owns: the database
// connection and, when ingestion is enabled, the captive core instance
// driving the ingestion service.
type network struct {
	name          string
	db            *db.DB
	core          *ledgerbackend.CaptiveStellarCore
	ingestService *ingest.Service
}

type Daemon struct {
	networks        []*network
	jsonRPCHandler  *jsonrpc.Handler
	logger          *supportlog.Entry
	listener        net.Listener
	server          *http.Server
	adminListener   net.Listener
	adminServer     *http.Server
	closeOnce       sync.Once
	closeError      error
	done            chan struct{}
	metricsRegistry *prometheus.Registry
}

func (d *Daemon) MetricsRegistry() *prometheus.Registry {
	return d.metricsRegistry
}

func (d *Daemon) GetEndpointAddrs() (net.TCPAddr, *net.TCPAddr) {
	addr := d.listener.Addr().(*net.TCPAddr)
	var adminAddr *net.TCPAddr
	if d.adminListener != nil {
		adminAddr = d.adminListener.Addr().(*net.TCPAddr)
	}
	return *addr, adminAddr
}

func (d *Daemon) close() {
	shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), defaultShutdownGracePeriod)
	defer shutdownRelease()
	var closeErrors []error

	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.logger.WithError(err).Error("error during JSON RPC server Shutdown")
		closeErrors = append(closeErrors, err)
	}
	if d.adminServer != nil {
		if err := d.adminServer.Shutdown(shutdownCtx); err != nil {
			d.logger.WithError(err).Error("error during admin server Shutdown")
			closeErrors = append(closeErrors, err)
		}
	}

	for _, nw := range d.networks {
		if nw.ingestService != nil {
			if err := nw.ingestService.Close(); err != nil {
				d.logger.WithError(err).Errorf("error closing ingestion service for network %s", nw.name)
				closeErrors = append(closeErrors, err)
			}
		}
		if nw.core != nil {
			if err := nw.core.Close(); err != nil {
				d.logger.WithError(err).Errorf("error closing captive core for network %s", nw.name)
				closeErrors = append(closeErrors, err)
			}
		}
		if err := nw.db.Close(); err != nil {
			d.logger.WithError(err).Errorf("error closing db for network %s", nw.name)
			closeErrors = append(closeErrors, err)
		}
	}
	d.jsonRPCHandler.Close()
	d.closeError = errors.Join(closeErrors...)
	close(d.done)
}

func (d *Daemon) Close() error {
	d.closeOnce.Do(d.close)
	return d.closeError
}

// newCaptiveCore creates a new captive core backend instance for one network
// and returns it.
func newCaptiveCore(cfg *config.Network, logger *supportlog.Entry) (*ledgerbackend.CaptiveStellarCore, error) {
	captiveCoreTomlParams := ledgerbackend.CaptiveCoreTomlParams{
		HTTPPort:           &cfg.CaptiveCoreHTTPPort,
		HistoryArchiveURLs: cfg.HistoryArchiveURLs,
		NetworkPassphrase:  cfg.NetworkPassphrase,
		Strict:             true,
		UseDB:              true,
		CoreBinaryPath:     cfg.StellarCoreBinaryPath,
	}
	captiveCoreToml, err := ledgerbackend.NewCaptiveCoreTomlFromFile(cfg.CaptiveCoreConfigPath, captiveCoreTomlParams)
	if err != nil {
		return nil, err
	}

	captiveConfig := ledgerbackend.CaptiveCoreConfig{
		BinaryPath:          cfg.StellarCoreBinaryPath,
		StoragePath:         cfg.CaptiveCoreStoragePath,
		NetworkPassphrase:   cfg.NetworkPassphrase,
		HistoryArchiveURLs:  cfg.HistoryArchiveURLs,
		CheckpointFrequency: cfg.CheckpointFrequency,
		Log:                 logger.WithField("subservice", "stellar-core"),
		Toml:                captiveCoreToml,
		UseDB:               true,
	}
	return ledgerbackend.NewCaptive(captiveConfig)
}

// mustOpenNetwork opens one network's database, registers its query backend
// and, when configured, starts its ingestion service.
func (d *Daemon) mustOpenNetwork(cfg *config.Config, netCfg *config.Network, registry *query.Registry) *network {
	logger := d.logger.WithField("network", netCfg.Name)

	dbConn, err := db.OpenSQLiteDBWithPrometheusMetrics(
		netCfg.SQLiteDBPath,
		prometheusNamespace,
		supportdb.Subservice("db_"+netCfg.Name),
		d.metricsRegistry,
	)
	if err != nil {
		logger.WithError(err).Fatal("could not open database")
	}

	registry.Register(netCfg.Name, query.Backend{
		Index:    db.NewIndexReader(logger, dbConn),
		Archive:  db.NewArchiveReader(logger, dbConn),
		Ledgers:  db.NewLedgerReader(dbConn),
		Accounts: db.NewAccountResolver(dbConn),
		Assets:   db.NewAssetResolver(dbConn),
		Pools:    db.NewPoolResolver(dbConn),
		Memos:    db.NewMemoResolver(dbConn),
	})

	nw := &network{name: netCfg.Name, db: dbConn}
	if !netCfg.Ingest {
		return nw
	}

	core, err := newCaptiveCore(netCfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("could not create captive core")
	}
	nw.core = core

	onIngestionRetry := func(err error, _ time.Duration) {
		logger.WithError(err).Error("could not run ingestion. Retrying")
	}
	nw.ingestService = ingest.NewService(ingest.Config{
		Logger:           logger,
		DB:               db.NewReadWriter(logger, dbConn, netCfg.LedgerRetentionWindow, netCfg.NetworkPassphrase),
		Ledgers:          db.NewLedgerReader(dbConn),
		LedgerBackend:    core,
		Timeout:          cfg.Timeout,
		OnIngestionRetry: onIngestionRetry,
		NetworkName:      netCfg.Name,
		MetricsRegistry:  d.metricsRegistry,
		MetricsNamespace: prometheusNamespace,
	})
	return nw
}

func MustNew(cfg *config.Config, logger *supportlog.Entry) *Daemon {
	logger.SetLevel(cfg.LogLevel)
	if cfg.LogFormat == "json" {
		logger.UseJSONFormatter()
	}

	logger.WithFields(supportlog.F{
		"version": config.Version,
		"commit":  config.CommitHash,
	}).Info("starting txsearch RPC")

	daemon := &Daemon{
		logger:          logger,
		done:            make(chan struct{}),
		metricsRegistry: prometheus.NewRegistry(),
	}
	daemon.metricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	registry := query.NewRegistry()
	for i := range cfg.Networks {
		daemon.networks = append(daemon.networks, daemon.mustOpenNetwork(cfg, &cfg.Networks[i], registry))
	}

	jsonRPCHandler := jsonrpc.NewJSONRPCHandler(jsonrpc.HandlerParams{
		Logger:           logger,
		Registry:         registry,
		BasePath:         cfg.BasePath,
		MetricsRegistry:  daemon.metricsRegistry,
		MetricsNamespace: prometheusNamespace,
	})
	daemon.jsonRPCHandler = &jsonRPCHandler

	// Use a separate listener in order to obtain the actual TCP port
	// when using dynamic ports during testing (e.g. endpoint="localhost:0")
	var err error
	daemon.listener, err = net.Listen("tcp", cfg.Endpoint)
	if err != nil {
		daemon.logger.WithError(err).WithField("endpoint", cfg.Endpoint).Fatal("cannot listen on endpoint")
	}
	daemon.server = &http.Server{
		Handler:     jsonRPCHandler,
		ReadTimeout: defaultReadTimeout,
	}
	if cfg.AdminEndpoint != "" {
		adminMux := supporthttp.NewMux(logger)
		adminMux.HandleFunc("/debug/pprof/", pprof.Index)
		adminMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		adminMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		adminMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		adminMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		// add the entry points for:
		// goroutine, threadcreate, heap, allocs, block, mutex
		for _, profile := range runtimePprof.Profiles() {
			adminMux.Handle("/debug/pprof/"+profile.Name(), pprof.Handler(profile.Name()))
		}
		adminMux.Handle("/metrics", promhttp.HandlerFor(daemon.metricsRegistry, promhttp.HandlerOpts{}))
		daemon.adminListener, err = net.Listen("tcp", cfg.AdminEndpoint)
		if err != nil {
			daemon.logger.WithError(err).WithField("endpoint", cfg.AdminEndpoint).Fatal("cannot listen on admin endpoint")
		}
		daemon.adminServer = &http.Server{Handler: adminMux}
	}
	return daemon
}

func (d *Daemon) Run() {
	d.logger.WithFields(supportlog.F{
		"addr": d.listener.Addr().String(),
	}).Info("starting HTTP server")

	go func() {
		if err := d.server.Serve(d.listener); !errors.Is(err, http.ErrServerClosed) {
			d.logger.WithError(err).Fatal("JSON RPC server encountered fatal error")
		}
	}()

	if d.adminServer != nil {
		d.logger.WithFields(supportlog.F{
			"addr": d.adminListener.Addr().String(),
		}).Info("starting Admin HTTP server")
		go func() {
			if err := d.adminServer.Serve(d.adminListener); !errors.Is(err, http.ErrServerClosed) {
				d.logger.WithError(err).Error("admin server encountered fatal error")
			}
		}()
	}

	// Shutdown gracefully when we receive an interrupt signal.
	// First server.Shutdown closes all open listeners, then closes all idle connections.
	// Finally, it waits a grace period (10s here) for connections to return to idle and then shut down.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-signals:
		d.Close()
	case <-d.done:
		return
	}
}
