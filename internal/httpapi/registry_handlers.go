package httpapi

import (
	"net/http"
	"time"

	"blindbid.org/internal/auction"
	"blindbid.org/internal/chain"
)

type nameResponse struct {
	Name   string `json:"name"`
	Owner  string `json:"owner,omitempty"`
	Expiry uint64 `json:"expiry"`
	Live   bool   `json:"live"`
	Height uint64 `json:"height"`
}

type ownerNamesResponse struct {
	Owner string    `json:"owner"`
	Names []string  `json:"names"`
	AsOf  time.Time `json:"as_of"`
}

type paramsResponse struct {
	Admin               string `json:"admin"`
	Engine              string `json:"engine"`
	AuthorizedMutator   string `json:"authorized_mutator,omitempty"`
	CommitLength        uint64 `json:"commit_length"`
	RevealLength        uint64 `json:"reveal_length"`
	ClaimLength         uint64 `json:"claim_length"`
	DefaultExpiryLength uint64 `json:"default_expiry_length"`
}

// paramsUpdate changes only the fields that are present.
type paramsUpdate struct {
	CommitLength        *uint64 `json:"commit_length"`
	RevealLength        *uint64 `json:"reveal_length"`
	ClaimLength         *uint64 `json:"claim_length"`
	DefaultExpiryLength *uint64 `json:"default_expiry_length"`
}

type mutatorRequest struct {
	Mutator string `json:"mutator"`
}

func (a *API) handleName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	name := r.PathValue("name")
	rec, err := a.registry.Details(r.Context(), name)
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	h := a.engine.Height()
	resp := nameResponse{
		Name:   name,
		Expiry: uint64(rec.Expiry),
		Live:   rec.Live(h),
		Height: uint64(h),
	}
	if !chain.IsZero(rec.Owner) {
		resp.Owner = rec.Owner.Hex()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleOwnerNames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	owner, err := chain.ParseIdentity(r.PathValue("identity"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	names, err := a.registry.NamesOwnedBy(r.Context(), owner)
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, ownerNamesResponse{
		Owner: owner.Hex(),
		Names: names,
		AsOf:  time.Now().UTC(),
	})
}

func (a *API) handleParams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.params())
	case http.MethodPut:
		a.updateParams(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) params() paramsResponse {
	cfg := a.engine.Config()
	resp := paramsResponse{
		Admin:               a.engine.Admin().Hex(),
		Engine:              a.engine.Identity().Hex(),
		CommitLength:        uint64(cfg.CommitLength),
		RevealLength:        uint64(cfg.RevealLength),
		ClaimLength:         uint64(cfg.ClaimLength),
		DefaultExpiryLength: uint64(a.registry.DefaultExpiryLength()),
	}
	if m := a.registry.AuthorizedMutator(); !chain.IsZero(m) {
		resp.AuthorizedMutator = m.Hex()
	}
	return resp
}

func (a *API) updateParams(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	var req paramsUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if caller != a.engine.Admin() {
		writeError(w, r, http.StatusForbidden, auction.ErrNotAuthorized.Error())
		return
	}
	for _, v := range []*uint64{req.CommitLength, req.RevealLength, req.ClaimLength, req.DefaultExpiryLength} {
		if v != nil && *v == 0 {
			writeError(w, r, http.StatusUnprocessableEntity, auction.ErrInvalidLength.Error())
			return
		}
	}

	fields := map[string]any{}
	setters := []struct {
		key string
		val *uint64
		set func(chain.Identity, chain.BlockCount) error
	}{
		{"commit_length", req.CommitLength, a.engine.SetCommitLength},
		{"reveal_length", req.RevealLength, a.engine.SetRevealLength},
		{"claim_length", req.ClaimLength, a.engine.SetClaimLength},
		{"default_expiry_length", req.DefaultExpiryLength, a.registry.SetDefaultExpiryLength},
	}
	for _, s := range setters {
		if s.val == nil {
			continue
		}
		if err := s.set(caller, chain.BlockCount(*s.val)); err != nil {
			handleAuctionError(w, r, err)
			return
		}
		fields[s.key] = *s.val
	}
	a.audit(r, "admin.params.update", fields)
	writeJSON(w, http.StatusOK, a.params())
}

func (a *API) handleMutator(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	var req mutatorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	mutator, err := chain.ParseIdentity(req.Mutator)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "mutator: "+err.Error())
		return
	}
	if err := a.registry.SetAuthorizedMutator(caller, mutator); err != nil {
		handleRegistryError(w, r, err)
		return
	}
	a.audit(r, "admin.mutator.set", map[string]any{"mutator": mutator.Hex()})
	writeJSON(w, http.StatusOK, a.params())
}
