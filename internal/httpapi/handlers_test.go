package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"blindbid.org/internal/auction"
	"blindbid.org/internal/auth"
	"blindbid.org/internal/chain"
	"blindbid.org/internal/commit"
	"blindbid.org/internal/ledger"
	"blindbid.org/internal/registry"
	"blindbid.org/internal/stream"
)

var (
	testAdmin  = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	testEngine = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	testAlice  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testBob    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	testFaucet = common.HexToAddress("0x00000000000000000000000000000000000000f0")
)

type apiClient struct {
	baseURL string
	client  *http.Client
	clock   *chain.ManualClock
	engine  *auction.Engine
	t       *testing.T
}

func newTestAPI(t *testing.T, opts ...Option) *apiClient {
	t.Helper()

	t.Setenv("BLINDBID_JWT_SECRET", "test-secret")
	auth.ResetSecretForTests()

	clock := chain.NewManualClock(100)
	reg := registry.New(testAdmin, nil)
	if err := reg.SetAuthorizedMutator(testAdmin, testEngine); err != nil {
		t.Fatalf("set mutator: %v", err)
	}
	funds := ledger.NewInMemory()
	engine := auction.New(testAdmin, testEngine, clock, reg, funds)

	opts = append([]Option{WithDevMode(true), WithRateLimit(100, 100)}, opts...)
	api := New(ReadyProbe{}, "test", Deps{
		Engine:   engine,
		Registry: reg,
		Ledger:   funds,
		Stream:   stream.New(),
	}, opts...)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		clock:   clock,
		engine:  engine,
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) obtainToken(id chain.Identity, roles []string) map[string]string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{
		"identity": id.Hex(),
		"roles":    roles,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return map[string]string{"Authorization": "Bearer " + payload.Token}
}

func (c *apiClient) fund(faucet map[string]string, id chain.Identity, amount string) {
	c.t.Helper()
	resp := c.post("/v1/accounts/"+id.Hex()+"/deposit", map[string]any{"amount": amount}, faucet)
	expectStatus(c.t, resp, http.StatusCreated)
	resp.Body.Close()
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, r *http.Response, want int) {
	t.Helper()
	if r.StatusCode != want {
		body := decode[map[string]any](t, r)
		t.Fatalf("expected status %d, got %d: %v", want, r.StatusCode, body)
	}
}

func digest(v uint64, salt string) string {
	return commit.Hash(uint256.NewInt(v), salt).Hex()
}

func sameIdentity(t *testing.T, got any, want chain.Identity) {
	t.Helper()
	s, _ := got.(string)
	if common.HexToAddress(s) != want {
		t.Fatalf("expected identity %s, got %v", want.Hex(), got)
	}
}

func TestAuctionLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	faucet := api.obtainToken(testFaucet, []string{auth.RoleFaucet})
	alice := api.obtainToken(testAlice, nil)
	bob := api.obtainToken(testBob, nil)
	admin := api.obtainToken(testAdmin, nil)

	api.fund(faucet, testAlice, "1000")
	api.fund(faucet, testBob, "1000")

	// The digest helper matches the local computation.
	resp := api.post("/v1/commitments", map[string]any{"value": "50", "salt": "s1"}, nil)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[digestResponse](t, resp); got.Hash != digest(50, "s1") {
		t.Fatalf("unexpected digest: %s", got.Hash)
	}

	// Start requires a caller.
	resp = api.post("/v1/auctions/alpha/start", map[string]any{"hash": digest(50, "s1")}, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = api.post("/v1/auctions/alpha/start", map[string]any{"hash": digest(50, "s1")}, alice)
	expectStatus(t, resp, http.StatusCreated)
	started := decode[auctionResponse](t, resp)
	if started.CommitEnd != 103 || started.RevealEnd != 106 || started.ClaimEnd != 109 {
		t.Fatalf("unexpected thresholds: %+v", started)
	}

	resp = api.post("/v1/auctions/alpha/bids", map[string]any{"hash": digest(40, "s2")}, bob)
	expectStatus(t, resp, http.StatusAccepted)
	resp.Body.Close()

	resp = api.get("/v1/auctions/alpha", nil, bob)
	expectStatus(t, resp, http.StatusOK)
	info := decode[auctionResponse](t, resp)
	if info.Phase != "commit" || info.Bidders != 2 || !info.CanAdd || info.CanReveal {
		t.Fatalf("unexpected commit-phase info: %+v", info)
	}
	if info.IsHighestBidder == nil || *info.IsHighestBidder {
		t.Fatalf("expected is_highest_bidder=false for bob")
	}

	resp = api.get("/v1/auctions/alpha/commits/"+testBob.Hex(), nil, nil)
	expectStatus(t, resp, http.StatusOK)
	if slot := decode[commitSlotResponse](t, resp); slot.Hash != digest(40, "s2") || slot.CommittedAt != 100 {
		t.Fatalf("unexpected commit slot: %+v", slot)
	}

	resp = api.post("/v1/auctions/alpha/reveal", map[string]any{"value": "50", "salt": "s1"}, alice)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	api.clock.Mine(4) // 104: reveal

	resp = api.post("/v1/auctions/alpha/reveal", map[string]any{"value": "50", "salt": "wrong"}, alice)
	expectStatus(t, resp, http.StatusUnprocessableEntity)
	resp.Body.Close()

	resp = api.post("/v1/auctions/alpha/reveal", map[string]any{"value": "50", "salt": "s1"}, alice)
	expectStatus(t, resp, http.StatusOK)
	if rv := decode[revealResponse](t, resp); !rv.Leading || rv.HighestBid != "50" {
		t.Fatalf("unexpected reveal result: %+v", rv)
	}
	resp = api.post("/v1/auctions/alpha/reveal", map[string]any{"value": "40", "salt": "s2"}, bob)
	expectStatus(t, resp, http.StatusOK)
	if rv := decode[revealResponse](t, resp); rv.Leading {
		t.Fatalf("bob should not lead: %+v", rv)
	}

	api.clock.Mine(3) // 107: claim

	resp = api.post("/v1/auctions/alpha/claim", map[string]any{"target": testBob.Hex(), "paid": "50"}, bob)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = api.post("/v1/auctions/alpha/claim", map[string]any{"target": "nonsense", "paid": "50"}, alice)
	expectStatus(t, resp, http.StatusUnprocessableEntity)
	resp.Body.Close()

	resp = api.post("/v1/auctions/alpha/claim", map[string]any{"target": testAlice.Hex(), "paid": "49"}, alice)
	expectStatus(t, resp, http.StatusPaymentRequired)
	resp.Body.Close()

	resp = api.post("/v1/auctions/alpha/claim", map[string]any{"target": testAlice.Hex(), "paid": "60"}, alice)
	expectStatus(t, resp, http.StatusOK)
	rc := decode[receiptResponse](t, resp)
	if rc.Price != "50" || rc.Refund != "10" || rc.Expiry != 137 {
		t.Fatalf("unexpected receipt: %+v", rc)
	}

	resp = api.get("/v1/accounts/"+testAlice.Hex()+"/balance", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	if bal := decode[balanceResponse](t, resp); bal.Balance != "950" {
		t.Fatalf("unexpected alice balance: %s", bal.Balance)
	}

	resp = api.get("/v1/names/alpha", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	name := decode[map[string]any](t, resp)
	sameIdentity(t, name["owner"], testAlice)
	if name["live"] != true || name["expiry"].(float64) != 137 {
		t.Fatalf("unexpected name record: %v", name)
	}

	resp = api.get("/v1/owners/"+testAlice.Hex()+"/names", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	if owned := decode[ownerNamesResponse](t, resp); len(owned.Names) != 1 || owned.Names[0] != "alpha" {
		t.Fatalf("unexpected owned names: %+v", owned)
	}

	resp = api.get("/v1/admin/escrow", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	if esc := decode[escrowResponse](t, resp); esc.Balance != "50" {
		t.Fatalf("unexpected escrow: %+v", esc)
	}

	resp = api.post("/v1/admin/escrow/withdraw", nil, alice)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.post("/v1/admin/escrow/withdraw", nil, admin)
	expectStatus(t, resp, http.StatusOK)
	if wd := decode[withdrawalResponse](t, resp); wd.Amount != "50" {
		t.Fatalf("unexpected withdrawal: %+v", wd)
	}

	resp = api.get("/v1/accounts/"+testAdmin.Hex()+"/balance", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	if bal := decode[balanceResponse](t, resp); bal.Balance != "50" {
		t.Fatalf("unexpected admin balance: %s", bal.Balance)
	}

	// A live name cannot be auctioned again.
	resp = api.post("/v1/auctions/alpha/start", map[string]any{"hash": digest(1, "x")}, bob)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()
}

func TestAdminParams(t *testing.T) {
	api := newTestAPI(t)
	admin := api.obtainToken(testAdmin, nil)
	alice := api.obtainToken(testAlice, nil)

	resp := api.get("/v1/admin/params", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	params := decode[paramsResponse](t, resp)
	if params.CommitLength != 3 || params.DefaultExpiryLength != 30 {
		t.Fatalf("unexpected defaults: %+v", params)
	}
	if common.HexToAddress(params.AuthorizedMutator) != testEngine {
		t.Fatalf("unexpected mutator: %s", params.AuthorizedMutator)
	}

	resp = api.do(http.MethodPut, "/v1/admin/params", map[string]any{"commit_length": 5}, alice)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.do(http.MethodPut, "/v1/admin/params", map[string]any{"reveal_length": 0}, admin)
	expectStatus(t, resp, http.StatusUnprocessableEntity)
	resp.Body.Close()

	resp = api.do(http.MethodPut, "/v1/admin/params", map[string]any{
		"commit_length":         5,
		"default_expiry_length": 10,
	}, admin)
	expectStatus(t, resp, http.StatusOK)
	params = decode[paramsResponse](t, resp)
	if params.CommitLength != 5 || params.RevealLength != 3 || params.DefaultExpiryLength != 10 {
		t.Fatalf("unexpected params after update: %+v", params)
	}

	resp = api.do(http.MethodPut, "/v1/admin/mutator", map[string]any{"mutator": testBob.Hex()}, alice)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.do(http.MethodPut, "/v1/admin/mutator", map[string]any{"mutator": testBob.Hex()}, admin)
	expectStatus(t, resp, http.StatusOK)
	if p := decode[paramsResponse](t, resp); common.HexToAddress(p.AuthorizedMutator) != testBob {
		t.Fatalf("mutator not updated: %+v", p)
	}
}

func TestDepositRequiresFaucetRole(t *testing.T) {
	api := newTestAPI(t)
	alice := api.obtainToken(testAlice, nil)

	path := "/v1/accounts/" + testAlice.Hex() + "/deposit"
	resp := api.post(path, map[string]any{"amount": "10"}, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate header")
	}
	resp.Body.Close()

	resp = api.post(path, map[string]any{"amount": "10"}, alice)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestDepositIsIdempotent(t *testing.T) {
	api := newTestAPI(t)
	faucet := api.obtainToken(testFaucet, []string{auth.RoleFaucet})
	headers := map[string]string{
		"Authorization":   faucet["Authorization"],
		"Idempotency-Key": "fund-1",
	}

	path := "/v1/accounts/" + testBob.Hex() + "/deposit"
	resp := api.post(path, map[string]any{"amount": "25"}, headers)
	expectStatus(t, resp, http.StatusCreated)
	if resp.Header.Get("Idempotency-Key") != "fund-1" {
		t.Fatalf("missing idempotency header echo")
	}
	first := decode[transactionResponse](t, resp)

	resp = api.post(path, map[string]any{"amount": "25"}, headers)
	expectStatus(t, resp, http.StatusCreated)
	if second := decode[transactionResponse](t, resp); second.ID != first.ID {
		t.Fatalf("idempotent call returned different transaction id")
	}

	resp = api.post(path, map[string]any{"amount": "25", "idempotency_key": "other"}, headers)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.post(path, map[string]any{"amount": "-1"}, faucet)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.get("/v1/ledger/transactions", url.Values{"limit": []string{"10"}}, nil)
	expectStatus(t, resp, http.StatusOK)
	list := decode[listTransactionsResponse](t, resp)
	if len(list.Items) != 1 || list.Items[0].Amount != "25" || list.Items[0].From != "" {
		t.Fatalf("unexpected transactions: %+v", list.Items)
	}

	resp = api.get("/v1/ledger/transactions", url.Values{"limit": []string{"0"}}, nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestTokenIssuanceDisabledOutsideDevMode(t *testing.T) {
	api := newTestAPI(t, WithDevMode(false))
	resp := api.post("/v1/auth/token", map[string]any{"identity": testAlice.Hex()}, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestInvalidTokenRejected(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/v1/auctions/alpha", nil, map[string]string{"Authorization": "Bearer nope"})
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = api.get("/v1/auctions/alpha", nil, map[string]string{"Authorization": "Basic abc"})
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestUnknownAuctionAndBadInput(t *testing.T) {
	api := newTestAPI(t)
	alice := api.obtainToken(testAlice, nil)

	resp := api.get("/v1/auctions/ghost", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	info := decode[auctionResponse](t, resp)
	if info.Phase != "none" || !info.CanStart || info.HighestBid != "0" || info.IsHighestBidder != nil {
		t.Fatalf("unexpected info for unknown name: %+v", info)
	}

	resp = api.post("/v1/auctions/ghost/start", map[string]any{"hash": "0x1234"}, alice)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.post("/v1/auctions/ghost/bids", map[string]any{"hash": digest(1, "a")}, alice)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = api.post("/v1/auctions/ghost/reveal", map[string]any{"value": "abc", "salt": "a"}, alice)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.get("/v1/auctions/ghost/commits/"+testAlice.Hex(), nil, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = api.get("/v1/auctions/ghost/start", nil, alice)
	expectStatus(t, resp, http.StatusMethodNotAllowed)
	if resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("unexpected Allow header: %q", resp.Header.Get("Allow"))
	}
	resp.Body.Close()

	resp = api.get("/v1/nowhere", nil, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestProbesAndHeight(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.get("/readyz", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	api.clock.Mine(2)
	resp = api.get("/v1/chain/height", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	if h := decode[heightResponse](t, resp); h.Height != 102 {
		t.Fatalf("unexpected height: %d", h.Height)
	}

	resp = api.get("/v1/info", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	info := decode[map[string]any](t, resp)
	sameIdentity(t, info["admin"], testAdmin)
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
}
