package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"blindbid.org/internal/audit"
	"blindbid.org/internal/auction"
	"blindbid.org/internal/auth"
	"blindbid.org/internal/chain"
	"blindbid.org/internal/commit"
	"blindbid.org/internal/obs"
)

type commitRequest struct {
	Hash string `json:"hash"`
}

type revealRequest struct {
	Value string `json:"value"`
	Salt  string `json:"salt"`
}

type claimRequest struct {
	Target string `json:"target"`
	Paid   string `json:"paid"`
}

type digestRequest struct {
	Value string `json:"value"`
	Salt  string `json:"salt"`
}

type digestResponse struct {
	Hash string `json:"hash"`
}

type heightResponse struct {
	Height uint64    `json:"height"`
	AsOf   time.Time `json:"as_of"`
}

type auctionResponse struct {
	Name            string `json:"name"`
	Height          uint64 `json:"height"`
	Phase           string `json:"phase"`
	Active          bool   `json:"active"`
	CommitEnd       uint64 `json:"commit_end"`
	RevealEnd       uint64 `json:"reveal_end"`
	ClaimEnd        uint64 `json:"claim_end"`
	HighestBid      string `json:"highest_bid"`
	HighestBidder   string `json:"highest_bidder,omitempty"`
	Bidders         int    `json:"bidders"`
	CanStart        bool   `json:"can_start"`
	CanAdd          bool   `json:"can_add"`
	CanReveal       bool   `json:"can_reveal"`
	CanClaim        bool   `json:"can_claim"`
	IsHighestBidder *bool  `json:"is_highest_bidder,omitempty"`
}

type commitSlotResponse struct {
	Name        string `json:"name"`
	Bidder      string `json:"bidder"`
	Hash        string `json:"hash"`
	CommittedAt uint64 `json:"committed_at"`
}

type revealResponse struct {
	Leading       bool   `json:"leading"`
	HighestBid    string `json:"highest_bid"`
	HighestBidder string `json:"highest_bidder"`
}

type receiptResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Bidder    string    `json:"bidder"`
	Target    string    `json:"target"`
	Paid      string    `json:"paid"`
	Price     string    `json:"price"`
	Refund    string    `json:"refund"`
	Expiry    uint64    `json:"expiry"`
	Height    uint64    `json:"height"`
	PaymentTx string    `json:"payment_tx"`
	SettledAt time.Time `json:"settled_at"`
}

func (a *API) handleHeight(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, heightResponse{
		Height: uint64(a.engine.Height()),
		AsOf:   time.Now().UTC(),
	})
}

func (a *API) handleCommitment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req digestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	value, err := parseAmount(req.Value, "value")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, digestResponse{Hash: commit.Hash(value, req.Salt).Hex()})
}

func (a *API) handleAuction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	name := r.PathValue("name")
	info := a.engine.Info(name)
	resp := auctionResponse{
		Name:       info.Name,
		Height:     uint64(info.Height),
		Phase:      info.Phase.String(),
		Active:     info.Active,
		CommitEnd:  uint64(info.CommitEnd),
		RevealEnd:  uint64(info.RevealEnd),
		ClaimEnd:   uint64(info.ClaimEnd),
		HighestBid: info.HighestBid.Dec(),
		Bidders:    info.Bidders,
		CanStart:   a.engine.CanStart(r.Context(), name),
		CanAdd:     a.engine.CanAdd(name),
		CanReveal:  a.engine.CanReveal(name),
		CanClaim:   a.engine.CanClaim(name),
	}
	if !chain.IsZero(info.HighestBidder) {
		resp.HighestBidder = info.HighestBidder.Hex()
	}
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		leading := a.engine.IsHighestBidder(name, id)
		resp.IsHighestBidder = &leading
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCommitSlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	name := r.PathValue("name")
	bidder, err := chain.ParseIdentity(r.PathValue("identity"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	slot, ok := a.engine.Commit(name, bidder)
	if !ok {
		writeError(w, r, http.StatusNotFound, auction.ErrNoSuchCommit.Error())
		return
	}
	writeJSON(w, http.StatusOK, commitSlotResponse{
		Name:        name,
		Bidder:      bidder.Hex(),
		Hash:        slot.Hash.Hex(),
		CommittedAt: uint64(slot.CommittedAt),
	})
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	hash, ok := decodeCommit(w, r)
	if !ok {
		return
	}
	name := r.PathValue("name")
	info, err := a.engine.StartAuction(r.Context(), name, hash, caller)
	obs.ObserveAuctionOp("start", err)
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}
	a.audit(r, "auction.start", map[string]any{
		"name":       name,
		"commit_end": uint64(info.CommitEnd),
		"reveal_end": uint64(info.RevealEnd),
		"claim_end":  uint64(info.ClaimEnd),
	})
	w.Header().Set("Location", "/v1/auctions/"+url.PathEscape(name))
	writeJSON(w, http.StatusCreated, auctionResponse{
		Name:       info.Name,
		Height:     uint64(info.Height),
		Phase:      info.Phase.String(),
		Active:     info.Active,
		CommitEnd:  uint64(info.CommitEnd),
		RevealEnd:  uint64(info.RevealEnd),
		ClaimEnd:   uint64(info.ClaimEnd),
		HighestBid: info.HighestBid.Dec(),
		Bidders:    info.Bidders,
		CanAdd:     info.Phase == auction.PhaseCommit,
	})
}

func (a *API) handleAddBid(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	hash, ok := decodeCommit(w, r)
	if !ok {
		return
	}
	name := r.PathValue("name")
	err := a.engine.AddBid(r.Context(), name, hash, caller)
	obs.ObserveAuctionOp("add_bid", err)
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}
	a.audit(r, "auction.bid.add", map[string]any{"name": name})
	slot, _ := a.engine.Commit(name, caller)
	writeJSON(w, http.StatusAccepted, commitSlotResponse{
		Name:        name,
		Bidder:      caller.Hex(),
		Hash:        slot.Hash.Hex(),
		CommittedAt: uint64(slot.CommittedAt),
	})
}

func (a *API) handleReveal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	var req revealRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	value, err := parseAmount(req.Value, "value")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	name := r.PathValue("name")
	res, err := a.engine.RevealBid(r.Context(), name, value, req.Salt, caller)
	obs.ObserveAuctionOp("reveal", err)
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}
	a.audit(r, "auction.bid.reveal", map[string]any{
		"name":    name,
		"value":   value.Dec(),
		"leading": res.Leading,
	})
	resp := revealResponse{Leading: res.Leading, HighestBid: res.HighestBid.Dec()}
	if !chain.IsZero(res.HighestBidder) {
		resp.HighestBidder = res.HighestBidder.Hex()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	var req claimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	paid, err := parseAmount(req.Paid, "paid")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	// A malformed target is the zero identity; the engine rejects it in
	// order with its other checks.
	target, _ := chain.ParseIdentity(req.Target)

	name := r.PathValue("name")
	rc, err := a.engine.ClaimDomain(r.Context(), name, target, paid, caller)
	obs.ObserveAuctionOp("claim", err)
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}
	obs.SetEscrow(a.engine.Escrow().Float64())
	a.audit(r, "auction.claim", map[string]any{
		"name":       name,
		"target":     rc.Target.Hex(),
		"price":      rc.Price.Dec(),
		"refund":     rc.Refund.Dec(),
		"expiry":     uint64(rc.Expiry),
		"payment_tx": rc.PaymentTx,
	})
	writeJSON(w, http.StatusOK, receiptResponse{
		ID:        rc.ID,
		Name:      rc.Name,
		Bidder:    rc.Bidder.Hex(),
		Target:    rc.Target.Hex(),
		Paid:      rc.Paid.Dec(),
		Price:     rc.Price.Dec(),
		Refund:    rc.Refund.Dec(),
		Expiry:    uint64(rc.Expiry),
		Height:    uint64(rc.Height),
		PaymentTx: rc.PaymentTx,
		SettledAt: rc.SettledAt,
	})
}

func decodeCommit(w http.ResponseWriter, r *http.Request) (commit.Digest, bool) {
	var req commitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return commit.Digest{}, false
	}
	hash, ok := commit.ParseDigest(strings.TrimSpace(req.Hash))
	if !ok {
		writeError(w, r, http.StatusBadRequest, "hash must be a 32-byte hex digest")
		return commit.Digest{}, false
	}
	return hash, true
}

// parseAmount reads a non-negative decimal integer below 2^256.
func parseAmount(raw, field string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New(field + " is required")
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, errors.New(field + " must be a decimal integer below 2^256")
	}
	return v, nil
}

func (a *API) audit(r *http.Request, event string, fields map[string]any) {
	if err := audit.LogEvent(r.Context(), event, fields); err != nil {
		obs.Logger().Warn("audit log failed")
	}
}
