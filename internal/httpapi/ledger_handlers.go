package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"blindbid.org/internal/chain"
	"blindbid.org/internal/ledger"
	"blindbid.org/internal/obs"
)

type depositRequest struct {
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

type balanceResponse struct {
	Identity string    `json:"identity"`
	Balance  string    `json:"balance"`
	AsOf     time.Time `json:"as_of"`
}

type escrowResponse struct {
	Balance string `json:"balance"`
	Account string `json:"account"`
	Admin   string `json:"admin"`
}

type withdrawalResponse struct {
	ID     string `json:"id"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	TxID   string `json:"tx_id,omitempty"`
}

type transactionResponse struct {
	ID             string    `json:"id"`
	Sequence       uint64    `json:"sequence"`
	CreatedAt      time.Time `json:"created_at"`
	From           string    `json:"from,omitempty"`
	To             string    `json:"to"`
	Amount         string    `json:"amount"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
}

type listTransactionsResponse struct {
	Items     []transactionResponse `json:"items"`
	NextAfter uint64                `json:"next_after"`
	AsOf      time.Time             `json:"as_of"`
}

func (a *API) handleEscrow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, escrowResponse{
		Balance: a.engine.Escrow().Dec(),
		Account: a.engine.Identity().Hex(),
		Admin:   a.engine.Admin().Hex(),
	})
}

func (a *API) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	wd, err := a.engine.Withdraw(r.Context(), caller)
	obs.ObserveAuctionOp("withdraw", err)
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}
	obs.SetEscrow(a.engine.Escrow().Float64())
	a.audit(r, "admin.escrow.withdraw", map[string]any{
		"amount": wd.Amount.Dec(),
		"tx_id":  wd.TxID,
	})
	writeJSON(w, http.StatusOK, withdrawalResponse{
		ID:     wd.ID,
		To:     wd.To.Hex(),
		Amount: wd.Amount.Dec(),
		TxID:   wd.TxID,
	})
}

func (a *API) handleDeposit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.devMode {
		writeError(w, r, http.StatusNotFound, "faucet disabled")
		return
	}
	to, err := chain.ParseIdentity(r.PathValue("identity"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var req depositRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	idem, err := idempotencyKey(r, req.IdempotencyKey)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	amt, err := parseAmount(req.Amount, "amount")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now().UTC()
	tx, err := a.ledger.Deposit(r.Context(), to, amt, idem)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if idem != "" {
		w.Header().Set("Idempotency-Key", idem)
	}
	event := "ledger.deposit.execute"
	if idem != "" && tx.CreatedAt.Before(start) {
		event = "ledger.deposit.idempotent_replay"
	}
	a.audit(r, event, map[string]any{
		"to":              to.Hex(),
		"amount":          amt.Dec(),
		"transaction_id":  tx.ID,
		"idempotency_key": idem,
	})
	writeJSON(w, http.StatusCreated, toTransactionResponse(tx))
}

func (a *API) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, err := chain.ParseIdentity(r.PathValue("identity"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	bal, err := a.ledger.GetBalance(r.Context(), id)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Identity: id.Hex(),
		Balance:  bal.Dec(),
		AsOf:     time.Now().UTC(),
	})
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	afterParam := strings.TrimSpace(r.URL.Query().Get("after"))
	var after uint64
	if afterParam != "" {
		v, err := strconv.ParseUint(afterParam, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = v
	}

	items, next, err := a.ledger.ListTransactions(r.Context(), limit, after)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	resp := listTransactionsResponse{
		Items:     make([]transactionResponse, 0, len(items)),
		NextAfter: next,
		AsOf:      time.Now().UTC(),
	}
	for _, tx := range items {
		resp.Items = append(resp.Items, toTransactionResponse(tx))
	}
	writeJSON(w, http.StatusOK, resp)
}

func toTransactionResponse(tx ledger.Transaction) transactionResponse {
	out := transactionResponse{
		ID:             tx.ID,
		Sequence:       tx.Sequence,
		CreatedAt:      tx.CreatedAt,
		To:             tx.To.Hex(),
		IdempotencyKey: tx.IdempotencyKey,
	}
	if !chain.IsZero(tx.From) {
		out.From = tx.From.Hex()
	}
	if tx.Amount != nil {
		out.Amount = tx.Amount.Dec()
	}
	return out
}

// idempotencyKey merges the Idempotency-Key header with the body value.
func idempotencyKey(r *http.Request, body string) (string, error) {
	idem := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if body != "" {
		bodyKey := strings.TrimSpace(body)
		if idem == "" {
			idem = bodyKey
		} else if idem != bodyKey {
			return "", errors.New("Idempotency-Key header and body value must match")
		}
	}
	if len(idem) > 128 {
		return "", errors.New("Idempotency-Key too long")
	}
	return idem, nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return val, nil
}
