package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"blindbid.org/internal/auction"
	"blindbid.org/internal/auth"
	"blindbid.org/internal/ledger"
	"blindbid.org/internal/obs"
	"blindbid.org/internal/registry"
	"blindbid.org/internal/stream"
)

const serviceName = "blindbid"

// ReadyProbe checks that the backing store answers. A nil DB means the
// service runs on in-memory stores and is always ready.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Deps are the domain services behind the HTTP API.
type Deps struct {
	Engine   *auction.Engine
	Registry *registry.Ledger
	Ledger   ledger.Service
	Stream   *stream.Stream
}

// API is the HTTP layer of registrard.
type API struct {
	mux        *http.ServeMux
	readyProbe readinessChecker
	version    string

	engine   *auction.Engine
	registry *registry.Ledger
	ledger   ledger.Service
	stream   *stream.Stream

	devMode      bool
	tokenTTL     time.Duration
	maxBodyBytes int64
	rateBurst    int
	ratePerSec   int
}

// Option tunes an API.
type Option func(*API)

// WithDevMode enables token issuance and faucet deposits.
func WithDevMode(on bool) Option { return func(a *API) { a.devMode = on } }

func WithTokenTTL(ttl time.Duration) Option {
	return func(a *API) {
		if ttl > 0 {
			a.tokenTTL = ttl
		}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst = burst
			a.ratePerSec = perSecond
		}
	}
}

func New(rp readinessChecker, version string, deps Deps, opts ...Option) *API {
	if rp == nil {
		rp = ReadyProbe{}
	}
	a := &API{
		mux:          http.NewServeMux(),
		readyProbe:   rp,
		version:      version,
		engine:       deps.Engine,
		registry:     deps.Registry,
		ledger:       deps.Ledger,
		stream:       deps.Stream,
		tokenTTL:     time.Hour,
		maxBodyBytes: 1 << 20,
		rateBurst:    50,
		ratePerSec:   25,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("/v1/chain/height", a.handleHeight)
	a.mux.HandleFunc("/v1/commitments", a.handleCommitment)

	a.mux.HandleFunc("/v1/auctions/{name}", a.handleAuction)
	a.mux.HandleFunc("/v1/auctions/{name}/commits/{identity}", a.handleCommitSlot)
	a.mux.HandleFunc("/v1/auctions/{name}/start", a.handleStart)
	a.mux.HandleFunc("/v1/auctions/{name}/bids", a.handleAddBid)
	a.mux.HandleFunc("/v1/auctions/{name}/reveal", a.handleReveal)
	a.mux.HandleFunc("/v1/auctions/{name}/claim", a.handleClaim)

	a.mux.HandleFunc("/v1/names/{name}", a.handleName)
	a.mux.HandleFunc("/v1/owners/{identity}/names", a.handleOwnerNames)

	a.mux.HandleFunc("/v1/admin/params", a.handleParams)
	a.mux.HandleFunc("/v1/admin/mutator", a.handleMutator)
	a.mux.HandleFunc("/v1/admin/escrow", a.handleEscrow)
	a.mux.HandleFunc("/v1/admin/escrow/withdraw", a.handleWithdraw)

	a.mux.Handle("/v1/accounts/{identity}/deposit", RequireRole(auth.RoleFaucet)(http.HandlerFunc(a.handleDeposit)))
	a.mux.HandleFunc("/v1/accounts/{identity}/balance", a.handleBalance)
	a.mux.HandleFunc("/v1/ledger/transactions", a.handleTransactions)

	a.mux.HandleFunc("/v1/stream", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler wraps the mux with the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = obs.Instrument(h)
	h = Logging(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	}
	if a.engine != nil {
		body["admin"] = a.engine.Admin().Hex()
		body["engine"] = a.engine.Identity().Hex()
		body["height"] = uint64(a.engine.Height())
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
