package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"blindbid.org/internal/auction"
	"blindbid.org/internal/ledger"
	"blindbid.org/internal/obs"
	"blindbid.org/internal/registry"
)

func handleAuctionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auction.ErrPhaseViolation),
		errors.Is(err, auction.ErrNameUnavailable),
		errors.Is(err, auction.ErrNotWinner):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auction.ErrNoSuchCommit):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auction.ErrCommitMismatch),
		errors.Is(err, auction.ErrInvalidTarget),
		errors.Is(err, auction.ErrInvalidName),
		errors.Is(err, auction.ErrInvalidLength):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, auction.ErrInsufficientPayment):
		writeError(w, r, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, auction.ErrNotAuthorized):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, r, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, registry.ErrNotAuthorized):
		handleRegistryError(w, r, err)
	default:
		obs.Logger().Error("auction operation failed",
			zap.Error(err),
			zap.String("request_id", RequestIDFromContext(r.Context())),
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func handleRegistryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, registry.ErrNotAuthorized):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, registry.ErrInvalidLength):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidAccount):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrBalanceOverflow):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
