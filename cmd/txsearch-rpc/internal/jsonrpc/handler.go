package jsonrpc

import (
	"net/http"
	"strconv"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"github.com/stellar/go/support/log"

	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/methods"
	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/query"
)

// maxHTTPRequestSize defines the largest request body the server accepts,
// 10kb is ample for the query methods served here.
const maxHTTPRequestSize = 10 * 1024

// Handler is the HTTP handler bridging JSON RPC 2.0 requests to the query
// methods.
type Handler struct {
	bridge *jhttp.Bridge
	logger *log.Entry
	http.Handler
}

// Close closes all the resources held by this Handler instance.
func (h Handler) Close() {
	if err := h.bridge.Close(); err != nil {
		h.logger.WithError(err).Warn("could not close bridge")
	}
}

type HandlerParams struct {
	Logger           *log.Entry
	Registry         *query.Registry
	BasePath         string
	MetricsRegistry  *prometheus.Registry
	MetricsNamespace string
}

// NewJSONRPCHandler constructs a Handler instance.
func NewJSONRPCHandler(params HandlerParams) Handler {
	bridge := jhttp.NewBridge(handler.Map{
		"getTransactions": methods.NewGetTransactionsHandler(params.Logger, params.Registry, params.BasePath),
		"getTransaction":  methods.NewGetTransactionHandler(params.Logger, params.Registry),
		"health":          methods.NewHealthCheck(params.Registry),
	}, &jhttp.BridgeOptions{
		Client: &jrpc2.ClientOptions{
			Logger: func(text string) { params.Logger.Debug(text) },
		},
	})

	requestMetric := prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: params.MetricsNamespace, Subsystem: "json_rpc", Name: "request_duration_seconds",
		Help:       "JSON RPC request durations, sliding window = 10m",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	}, []string{"status"})
	params.MetricsRegistry.MustRegister(requestMetric)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
	})

	mux := chi.NewRouter()
	mux.Use(middleware.RequestSize(maxHTTPRequestSize))
	mux.Use(corsMiddleware.Handler)
	mux.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(recorder, r)
			requestMetric.
				With(prometheus.Labels{"status": strconv.Itoa(recorder.Status())}).
				Observe(time.Since(start).Seconds())
		})
	})
	mux.Handle("/", bridge)

	return Handler{
		bridge:  bridge,
		logger:  params.Logger,
		Handler: mux,
	}
}
