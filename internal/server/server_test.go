package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakeregistry/internal/clock"
	"github.com/alanyoungcy/stakeregistry/internal/crypto"
	"github.com/alanyoungcy/stakeregistry/internal/domain"
	"github.com/alanyoungcy/stakeregistry/internal/metrics"
	"github.com/alanyoungcy/stakeregistry/internal/registry"
	"github.com/alanyoungcy/stakeregistry/internal/server/handler"
	"github.com/alanyoungcy/stakeregistry/internal/server/middleware"
	"github.com/alanyoungcy/stakeregistry/internal/store/memory"
	"github.com/alanyoungcy/stakeregistry/internal/token"
)

const apiKey = "test-admin-key"

var (
	escrow     = common.HexToAddress("0xe5c0")
	treasury   = common.HexToAddress("0x7ea5")
	owner      = common.HexToAddress("0x0a")
	challenger = common.HexToAddress("0x0c")
	voter      = common.HexToAddress("0x0d")
)

type testAPI struct {
	t       *testing.T
	h       http.Handler
	clk     *clock.Mock
	metrics *metrics.Metrics
}

func newTestAPI(t *testing.T, mutate func(*Config, *Deps)) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewMock(time.Unix(1_700_000_000, 0).UTC())
	store := memory.NewStore()
	m := metrics.New()

	params := domain.Params{
		MinDeposit:      100,
		ApplyStageLen:   time.Minute,
		ExitTimeDelay:   1000 * time.Second,
		DispensationPct: 50,
		CommitStageLen:  time.Hour,
		RevealStageLen:  time.Hour,
		VoteQuorum:      50,
		Escrow:          escrow,
		Treasury:        treasury,
	}
	audit := memory.NewAuditStore(clk)
	engine, err := registry.New(params, store, memory.NewLockManager(), clk, logger,
		registry.WithObserver(m),
		registry.WithEmitter(registry.NewDispatcher(nil, audit, nil, logger)),
	)
	require.NoError(t, err)

	cfg := Config{APIKey: apiKey}
	deps := Deps{Recorder: m, Now: clk.Now}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	h := NewHandler(cfg, Handlers{
		Health:   handler.NewHealthHandler(nil, logger),
		Registry: handler.NewRegistryHandler(engine, logger),
		Listings: handler.NewListingHandler(engine, logger),
		Polls:    handler.NewPollHandler(engine, logger),
		Tokens:   handler.NewTokenHandler(token.NewService(store), escrow, logger),
		History:  handler.NewHistoryHandler(audit, logger),
		Metrics:  m.Handler(),
	}, nil, deps, logger)
	return &testAPI{t: t, h: h, clk: clk, metrics: m}
}

type call struct {
	method string
	path   string
	body   any
	as     *common.Address
	header map[string]string
}

func (a *testAPI) do(c call) *httptest.ResponseRecorder {
	a.t.Helper()
	var body io.Reader
	if c.body != nil {
		data, err := json.Marshal(c.body)
		require.NoError(a.t, err)
		body = bytes.NewReader(data)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.as != nil {
		req.Header.Set(middleware.HeaderAddress, c.as.Hex())
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) ok(c call, want int) map[string]any {
	a.t.Helper()
	rec := a.do(c)
	require.Equal(a.t, want, rec.Code, "%s %s: %s", c.method, c.path, rec.Body.String())
	var out map[string]any
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (a *testAPI) fund(who common.Address, amount uint64) {
	a.t.Helper()
	a.ok(call{method: http.MethodPost, path: "/api/tokens/mint",
		body:   map[string]any{"to": who.Hex(), "amount": amount},
		header: map[string]string{"X-API-Key": apiKey}}, http.StatusOK)
	a.ok(call{method: http.MethodPost, path: "/api/tokens/approve",
		body: map[string]any{"amount": amount}, as: &who}, http.StatusOK)
}

func TestChallengeLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t, nil)
	api.fund(owner, 1000)
	api.fund(challenger, 1000)
	api.fund(voter, 500)

	listing := api.ok(call{method: http.MethodPost, path: "/api/listings",
		body: map[string]any{"name": "example.com", "deposit": 100}, as: &owner}, http.StatusCreated)
	assert.Equal(t, "applied", listing["status"])
	id := crypto.ListingID("example.com").Hex()
	assert.Equal(t, id, listing["id"])

	ch := api.ok(call{method: http.MethodPost, path: "/api/listings/example.com/challenge", as: &challenger}, http.StatusCreated)
	pollID := strconv.FormatFloat(ch["poll_id"].(float64), 'f', 0, 64)

	commitment := crypto.VoteCommitment(uint8(domain.VoteRemove), 42)
	api.ok(call{method: http.MethodPost, path: "/api/polls/" + pollID + "/commit",
		body: map[string]any{"commitment": commitment.Hex(), "num_tokens": 500}, as: &voter}, http.StatusAccepted)

	// Reveal before the commit stage ends is too early.
	rec := api.do(call{method: http.MethodPost, path: "/api/polls/" + pollID + "/reveal",
		body: map[string]any{"choice": 0, "salt": 42}, as: &voter})
	assert.Equal(t, http.StatusTooEarly, rec.Code)

	api.clk.Advance(time.Hour + time.Second)
	api.ok(call{method: http.MethodPost, path: "/api/polls/" + pollID + "/reveal",
		body: map[string]any{"choice": 0, "salt": 42}, as: &voter}, http.StatusOK)

	api.clk.Advance(time.Hour)
	api.ok(call{method: http.MethodPost, path: "/api/listings/" + id + "/resolve"}, http.StatusOK)

	got := api.ok(call{method: http.MethodGet, path: "/api/listings/" + id}, http.StatusOK)
	assert.Equal(t, "unlisted", got["status"])

	// Pool 200, fee 50 of the forfeited 100, challenger receives 150.
	bal := api.ok(call{method: http.MethodGet, path: "/api/tokens/" + challenger.Hex()}, http.StatusOK)
	assert.EqualValues(t, 1050, bal["balance"])

	reg := api.ok(call{method: http.MethodGet, path: "/api/registry"}, http.StatusOK)
	assert.Equal(t, true, reg["escrow_consistent"])
	assert.EqualValues(t, 0, reg["escrow_balance"])

	// The audit trail outlives the removed listing.
	hist := api.ok(call{method: http.MethodGet, path: "/api/listings/" + id + "/history"}, http.StatusOK)
	var types []string
	for _, e := range hist["events"].([]any) {
		types = append(types, e.(map[string]any)["event"].(string))
	}
	assert.Equal(t, []string{
		"listing_removed", "challenge_failed", "vote_revealed",
		"vote_committed", "challenge", "application",
	}, types)

	page := api.ok(call{method: http.MethodGet, path: "/api/listings/" + id + "/history?limit=2&offset=1"}, http.StatusOK)
	assert.Len(t, page["events"], 2)
}

func TestExitErrorsMapToStatusCodes(t *testing.T) {
	api := newTestAPI(t, nil)
	api.fund(owner, 1000)
	api.fund(challenger, 1000)

	api.ok(call{method: http.MethodPost, path: "/api/listings",
		body: map[string]any{"name": "exit.example", "deposit": 100}, as: &owner}, http.StatusCreated)
	api.clk.Advance(time.Minute)
	api.ok(call{method: http.MethodPost, path: "/api/listings/exit.example/update"}, http.StatusOK)

	path := "/api/listings/exit.example/exit"
	assert.Equal(t, http.StatusUnauthorized, api.do(call{method: http.MethodPost, path: path + "/finalize"}).Code)
	assert.Equal(t, http.StatusConflict, api.do(call{method: http.MethodPost, path: path + "/finalize", as: &owner}).Code)
	assert.Equal(t, http.StatusForbidden, api.do(call{method: http.MethodPost, path: path, as: &challenger}).Code)

	api.ok(call{method: http.MethodPost, path: path, as: &owner}, http.StatusOK)
	api.clk.Advance(500 * time.Second)
	rec := api.do(call{method: http.MethodPost, path: path + "/finalize", as: &owner})
	assert.Equal(t, http.StatusTooEarly, rec.Code)
	assert.Contains(t, rec.Body.String(), "timing violation")

	api.clk.Advance(501 * time.Second)
	api.ok(call{method: http.MethodPost, path: path + "/finalize", as: &owner}, http.StatusOK)
	assert.Equal(t, http.StatusNotFound, api.do(call{method: http.MethodPost, path: path + "/finalize", as: &owner}).Code)

	bal := api.ok(call{method: http.MethodGet, path: "/api/tokens/" + owner.Hex()}, http.StatusOK)
	assert.EqualValues(t, 1000, bal["balance"])
}

func TestApplyValidation(t *testing.T) {
	api := newTestAPI(t, nil)
	api.fund(owner, 1000)

	rec := api.do(call{method: http.MethodPost, path: "/api/listings", body: map[string]any{"name": "low", "deposit": 99}, as: &owner})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = api.do(call{method: http.MethodPost, path: "/api/listings", body: map[string]any{"name": "x", "bogus": 1}, as: &owner})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	poor := common.HexToAddress("0x99")
	rec = api.do(call{method: http.MethodPost, path: "/api/listings", body: map[string]any{"name": "poor", "deposit": 100}, as: &poor})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	api.ok(call{method: http.MethodPost, path: "/api/listings", body: map[string]any{"name": "dup", "deposit": 100}, as: &owner}, http.StatusCreated)
	rec = api.do(call{method: http.MethodPost, path: "/api/listings", body: map[string]any{"name": "dup", "deposit": 100}, as: &owner})
	assert.Equal(t, http.StatusConflict, rec.Code)

	list := api.ok(call{method: http.MethodGet, path: "/api/listings?status=applied"}, http.StatusOK)
	assert.Len(t, list["listings"], 1)
	assert.Equal(t, http.StatusBadRequest, api.do(call{method: http.MethodGet, path: "/api/listings?status=bogus"}).Code)
}

func TestEscrowAddressRejectedAsCaller(t *testing.T) {
	api := newTestAPI(t, nil)
	api.fund(owner, 1000)
	api.ok(call{method: http.MethodPost, path: "/api/listings",
		body: map[string]any{"name": "example.com", "deposit": 100}, as: &owner}, http.StatusCreated)

	rec := api.do(call{method: http.MethodPost, path: "/api/listings/example.com/challenge", as: &escrow})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "escrow account cannot act as a party")

	rec = api.do(call{method: http.MethodPost, path: "/api/listings",
		body: map[string]any{"name": "escrow.example", "deposit": 100}, as: &escrow})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(call{method: http.MethodPost, path: "/api/tokens/transfer",
		body: map[string]any{"to": voter.Hex(), "amount": 100}, as: &escrow})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = api.do(call{method: http.MethodPost, path: "/api/tokens/transfer",
		body: map[string]any{"to": escrow.Hex(), "amount": 100}, as: &owner})
	assert.Equal(t, http.StatusConflict, rec.Code)

	reg := api.ok(call{method: http.MethodGet, path: "/api/registry"}, http.StatusOK)
	assert.Equal(t, true, reg["escrow_consistent"])
	assert.EqualValues(t, 100, reg["escrow_balance"])
}

func TestTokenTransfer(t *testing.T) {
	api := newTestAPI(t, nil)
	api.fund(owner, 1000)

	got := api.ok(call{method: http.MethodPost, path: "/api/tokens/transfer",
		body: map[string]any{"to": voter.Hex(), "amount": 300}, as: &owner}, http.StatusOK)
	assert.EqualValues(t, 700, got["balance"])

	bal := api.ok(call{method: http.MethodGet, path: "/api/tokens/" + voter.Hex()}, http.StatusOK)
	assert.EqualValues(t, 300, bal["balance"])

	rec := api.do(call{method: http.MethodPost, path: "/api/tokens/transfer",
		body: map[string]any{"to": voter.Hex(), "amount": 5000}, as: &owner})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	rec = api.do(call{method: http.MethodPost, path: "/api/tokens/transfer",
		body: map[string]any{"to": voter.Hex(), "amount": 0}, as: &owner})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = api.do(call{method: http.MethodPost, path: "/api/tokens/transfer",
		body: map[string]any{"to": "nope", "amount": 1}, as: &owner})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, http.StatusUnauthorized, api.do(call{method: http.MethodPost, path: "/api/tokens/transfer",
		body: map[string]any{"to": voter.Hex(), "amount": 1}}).Code)
}

func TestMintRequiresAPIKey(t *testing.T) {
	api := newTestAPI(t, nil)
	body := map[string]any{"to": owner.Hex(), "amount": 10}

	assert.Equal(t, http.StatusUnauthorized, api.do(call{method: http.MethodPost, path: "/api/tokens/mint", body: body}).Code)
	assert.Equal(t, http.StatusUnauthorized, api.do(call{method: http.MethodPost, path: "/api/tokens/mint", body: body,
		header: map[string]string{"Authorization": "Bearer wrong"}}).Code)
	api.ok(call{method: http.MethodPost, path: "/api/tokens/mint", body: body,
		header: map[string]string{"Authorization": "Bearer " + apiKey}}, http.StatusOK)

	closed := newTestAPI(t, func(c *Config, _ *Deps) { c.APIKey = "" })
	assert.Equal(t, http.StatusForbidden, closed.do(call{method: http.MethodPost, path: "/api/tokens/mint", body: body,
		header: map[string]string{"X-API-Key": apiKey}}).Code)
}

func TestSignedRequests(t *testing.T) {
	api := newTestAPI(t, func(c *Config, _ *Deps) {
		c.RequireSignatures = true
		c.SignatureMaxSkew = time.Minute
	})
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.NewSignerFromKey(key)
	addr := signer.Address()

	body := []byte(`{"amount":50}`)
	ts := api.clk.Now().Unix()
	sig, err := signer.SignRequest(http.MethodPost, "/api/tokens/approve", ts, body)
	require.NoError(t, err)

	send := func(sig string, ts int64) int {
		req := httptest.NewRequest(http.MethodPost, "/api/tokens/approve", bytes.NewReader(body))
		req.Header.Set(middleware.HeaderAddress, addr.Hex())
		req.Header.Set(middleware.HeaderSignature, sig)
		req.Header.Set(middleware.HeaderTimestamp, strconv.FormatInt(ts, 10))
		rec := httptest.NewRecorder()
		api.h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send(sig, ts))
	assert.Equal(t, http.StatusUnauthorized, send("0x00", ts))
	assert.Equal(t, http.StatusUnauthorized, send(sig, ts+1), "timestamp is signed")

	api.clk.Advance(2 * time.Minute)
	assert.Equal(t, http.StatusUnauthorized, send(sig, ts), "stale timestamp")

	// Claiming someone else's address with a valid signature fails.
	req := httptest.NewRequest(http.MethodPost, "/api/tokens/approve", bytes.NewReader(body))
	req.Header.Set(middleware.HeaderAddress, owner.Hex())
	req.Header.Set(middleware.HeaderSignature, sig)
	req.Header.Set(middleware.HeaderTimestamp, strconv.FormatInt(ts, 10))
	rec := httptest.NewRecorder()
	api.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimit(t *testing.T) {
	api := newTestAPI(t, func(c *Config, d *Deps) {
		c.RateLimit = 2
		c.RateWindow = time.Minute
		d.Limiter = memory.NewRateLimiter(clock.NewMock(time.Unix(1_700_000_000, 0)))
	})
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, api.do(call{method: http.MethodGet, path: "/api/health"}).Code)
	}
	rec := api.do(call{method: http.MethodGet, path: "/api/health"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestMetricsUseRoutePatterns(t *testing.T) {
	api := newTestAPI(t, nil)
	api.do(call{method: http.MethodGet, path: "/api/listings/a.example"})
	api.do(call{method: http.MethodGet, path: "/api/listings/b.example"})

	rec := api.do(call{method: http.MethodGet, path: "/metrics"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `path="GET /api/listings/{id}"`)
	assert.NotContains(t, rec.Body.String(), "a.example")
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI(t, func(c *Config, _ *Deps) { c.CORSOrigins = []string{"https://app.example"} })
	rec := api.do(call{method: http.MethodOptions, path: "/api/listings",
		header: map[string]string{"Origin": "https://app.example"}})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), middleware.HeaderSignature)

	rec = api.do(call{method: http.MethodGet, path: "/api/registry",
		header: map[string]string{"Origin": "https://app.example"}})
	assert.Equal(t, "Retry-After", rec.Header().Get("Access-Control-Expose-Headers"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Methods"))

	rec = api.do(call{method: http.MethodGet, path: "/api/registry",
		header: map[string]string{"Origin": "https://evil.example"}})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
