package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics
var (
	auctionOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_operations_total",
			Help: "Auction engine operations by outcome.",
		},
		[]string{"op", "result"},
	)

	escrowBalance = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "auction_escrow_balance",
		Help: "Escrow held by the auction engine (float approximation).",
	})

	registryWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "registry_records_written_total",
		Help: "Registry records written by the authorized mutator.",
	})

	chainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chain_height",
		Help: "Current block height.",
	})

	serviceReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the readiness probe passes.",
	})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Always 1; labels carry the running version and commit.",
	}, []string{"version", "commit"})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		auctionOps, escrowBalance, registryWrites, chainHeight, serviceReady,
		buildInfo,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuctionOp counts one engine call. A nil err is recorded as "ok".
func ObserveAuctionOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	auctionOps.WithLabelValues(op, result).Inc()
}

func SetEscrow(v float64)     { escrowBalance.Set(v) }
func IncRegistryWrites()      { registryWrites.Inc() }
func SetChainHeight(h uint64) { chainHeight.Set(float64(h)) }

// SetBuildInfo publishes the running version. Earlier label sets are
// dropped so only one series reports 1.
func SetBuildInfo(version, commit string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit).Set(1)
}

// SetReady flips the readiness gauge.
func SetReady(ok bool) {
	if ok {
		serviceReady.Set(1)
		return
	}
	serviceReady.Set(0)
}

// Instrument records RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath replaces name and identity segments with placeholders so the
// path label stays low-cardinality. Unknown shapes pass through unchanged.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" {
		return p
	}
	switch parts[1] {
	case "auctions":
		switch {
		case len(parts) == 3:
			return "/v1/auctions/:name"
		case len(parts) == 4 && isAuctionAction(parts[3]):
			return "/v1/auctions/:name/" + parts[3]
		case len(parts) == 5 && parts[3] == "commits":
			return "/v1/auctions/:name/commits/:id"
		}
	case "names":
		if len(parts) == 3 {
			return "/v1/names/:name"
		}
	case "owners":
		if len(parts) == 4 && parts[3] == "names" {
			return "/v1/owners/:id/names"
		}
	case "accounts":
		if len(parts) == 4 && (parts[3] == "balance" || parts[3] == "deposit") {
			return "/v1/accounts/:id/" + parts[3]
		}
	}
	return p
}

func isAuctionAction(s string) bool {
	switch s {
	case "start", "bids", "reveal", "claim":
		return true
	}
	return false
}

// statusWriter records the response code.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
