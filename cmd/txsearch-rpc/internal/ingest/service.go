package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	backends "github.com/stellar/go/ingest/ledgerbackend"
	"github.com/stellar/go/support/log"

	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/db"
)

const (
	// Stellar's genesis ledger is sequence 2, there is no meta for 0 and 1.
	firstIngestibleLedger = 2
)

type Config struct {
	Logger        *log.Entry
	DB            db.ReadWriter
	Ledgers       db.LedgerReader
	LedgerBackend backends.LedgerBackend
	Timeout       time.Duration
	// StartLedger is where ingestion begins on an empty database. Zero means
	// the first ledger the backend can serve.
	StartLedger      uint32
	OnIngestionRetry backoff.Notify
	NetworkName      string

	MetricsRegistry  *prometheus.Registry
	MetricsNamespace string
}

type Metrics struct {
	ingestionDurationMetric *prometheus.SummaryVec
	transactionCountMetric  prometheus.Summary
	latestLedgerMetric      prometheus.Gauge
}

// Service tails the ledger backend of one network and feeds every closed
// ledger into the archive store and the search index.
type Service struct {
	logger        *log.Entry
	db            db.ReadWriter
	ledgers       db.LedgerReader
	ledgerBackend backends.LedgerBackend
	timeout       time.Duration
	startLedger   uint32
	done          context.CancelFunc
	wg            sync.WaitGroup
	metrics       Metrics
}

func NewService(cfg Config) *Service {
	service := newService(cfg)
	startService(service, cfg)
	return service
}

func newService(cfg Config) *Service {
	ingestionDurationMetric := prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: cfg.MetricsNamespace, Subsystem: "ingest", Name: "ledger_ingestion_duration_seconds",
		Help:        "ledger ingestion durations, sliding window = 10m",
		Objectives:  map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		ConstLabels: prometheus.Labels{"network": cfg.NetworkName},
	},
		[]string{"type"},
	)
	transactionCountMetric := prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: cfg.MetricsNamespace, Subsystem: "ingest", Name: "ledger_transaction_count",
		Help:        "transactions per ingested ledger, sliding window = 10m",
		Objectives:  map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		ConstLabels: prometheus.Labels{"network": cfg.NetworkName},
	})
	latestLedgerMetric := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.MetricsNamespace, Subsystem: "ingest", Name: "local_latest_ledger",
		Help:        "sequence number of the latest ledger ingested by this instance",
		ConstLabels: prometheus.Labels{"network": cfg.NetworkName},
	})
	cfg.MetricsRegistry.MustRegister(
		ingestionDurationMetric,
		transactionCountMetric,
		latestLedgerMetric,
	)

	startLedger := cfg.StartLedger
	if startLedger < firstIngestibleLedger {
		startLedger = firstIngestibleLedger
	}

	return &Service{
		logger:        cfg.Logger,
		db:            cfg.DB,
		ledgers:       cfg.Ledgers,
		ledgerBackend: cfg.LedgerBackend,
		timeout:       cfg.Timeout,
		startLedger:   startLedger,
		metrics: Metrics{
			ingestionDurationMetric: ingestionDurationMetric,
			transactionCountMetric:  transactionCountMetric,
			latestLedgerMetric:      latestLedgerMetric,
		},
	}
}

func startService(service *Service, cfg Config) {
	ctx, done := context.WithCancel(context.Background())
	service.done = done
	service.wg.Add(1)
	go func() {
		defer service.wg.Done()
		// Retry running ingestion every second for 5 seconds.
		constantBackoff := backoff.WithMaxRetries(backoff.NewConstantBackOff(1*time.Second), 5)
		// Don't want to keep retrying if the context gets canceled.
		contextBackoff := backoff.WithContext(constantBackoff, ctx)
		err := backoff.RetryNotify(
			func() error {
				return service.run(ctx)
			},
			contextBackoff,
			cfg.OnIngestionRetry)
		if err != nil && !errors.Is(err, context.Canceled) {
			service.logger.WithError(err).Fatal("could not run ingestion")
		}
	}()
}

func (s *Service) Close() error {
	s.done()
	s.wg.Wait()
	return nil
}

func (s *Service) run(ctx context.Context) error {
	nextLedgerSeq, err := s.nextLedgerSequence(ctx)
	if err != nil {
		return err
	}

	prepareRangeCtx, cancelPrepareRange := context.WithTimeout(ctx, s.timeout)
	err = s.ledgerBackend.PrepareRange(prepareRangeCtx, backends.UnboundedRange(nextLedgerSeq))
	cancelPrepareRange()
	if err != nil {
		return err
	}

	for ; ; nextLedgerSeq++ {
		if err := s.ingest(ctx, nextLedgerSeq); err != nil {
			return err
		}
	}
}

func (s *Service) nextLedgerSequence(ctx context.Context) (uint32, error) {
	curLedgerSeq, err := s.ledgers.GetLatestLedgerSequence(ctx)
	if err != nil {
		return 0, err
	}
	if curLedgerSeq == 0 {
		return s.startLedger, nil
	}
	return curLedgerSeq + 1, nil
}

func (s *Service) ingest(ctx context.Context, sequence uint32) error {
	startTime := time.Now()
	s.logger.Debugf("Ingesting ledger %d", sequence)
	ledgerCloseMeta, err := s.ledgerBackend.GetLedger(ctx, sequence)
	if err != nil {
		return err
	}

	tx, err := s.db.NewTx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil {
			s.logger.WithError(err).Warn("could not rollback ingest write transactions")
		}
	}()

	if err := tx.LedgerWriter().InsertLedger(ledgerCloseMeta); err != nil {
		return err
	}

	txWriter := tx.TransactionWriter()
	txWriter.RegisterMetrics(
		s.metrics.ingestionDurationMetric.With(prometheus.Labels{"type": "transactions"}),
		s.metrics.transactionCountMetric,
	)
	if err := txWriter.InsertTransactions(ledgerCloseMeta); err != nil {
		return err
	}

	if err := tx.Commit(sequence); err != nil {
		return err
	}
	s.logger.Debugf("Ingested ledger %d", sequence)

	s.metrics.ingestionDurationMetric.
		With(prometheus.Labels{"type": "total"}).Observe(time.Since(startTime).Seconds())
	s.metrics.latestLedgerMetric.Set(float64(sequence))
	return nil
}
