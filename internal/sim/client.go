package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"blindbid.org/internal/auth"
	"blindbid.org/internal/chain"
	"blindbid.org/internal/commit"
)

// StatusError is a non-2xx answer from registrard.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

type AuctionInfo struct {
	Name          string `json:"name"`
	Height        uint64 `json:"height"`
	Phase         string `json:"phase"`
	CommitEnd     uint64 `json:"commit_end"`
	RevealEnd     uint64 `json:"reveal_end"`
	ClaimEnd      uint64 `json:"claim_end"`
	HighestBid    string `json:"highest_bid"`
	HighestBidder string `json:"highest_bidder"`
	Bidders       int    `json:"bidders"`
}

type RevealResult struct {
	Leading       bool   `json:"leading"`
	HighestBid    string `json:"highest_bid"`
	HighestBidder string `json:"highest_bidder"`
}

type Receipt struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Target string `json:"target"`
	Price  string `json:"price"`
	Refund string `json:"refund"`
	Expiry uint64 `json:"expiry"`
}

// Client speaks the registrard HTTP API.
type Client struct {
	base string
	http *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Token asks a dev-mode server to mint a bearer token for id.
func (c *Client) Token(ctx context.Context, id chain.Identity, roles ...string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	body := map[string]any{"identity": id.Hex(), "roles": roles}
	if err := c.do(ctx, http.MethodPost, "/v1/auth/token", "", body, nil, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *Client) Height(ctx context.Context) (chain.Height, error) {
	var out struct {
		Height uint64 `json:"height"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/chain/height", "", nil, nil, &out); err != nil {
		return 0, err
	}
	return chain.Height(out.Height), nil
}

// Deposit credits id through the faucet. token must carry the faucet role.
func (c *Client) Deposit(ctx context.Context, token string, id chain.Identity, amount *uint256.Int) error {
	hdr := map[string]string{"Idempotency-Key": uuid.NewString()}
	body := map[string]string{"amount": amount.Dec()}
	return c.do(ctx, http.MethodPost, "/v1/accounts/"+id.Hex()+"/deposit", token, body, hdr, nil)
}

func (c *Client) Balance(ctx context.Context, id chain.Identity) (*uint256.Int, error) {
	var out struct {
		Balance string `json:"balance"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+id.Hex()+"/balance", "", nil, nil, &out); err != nil {
		return nil, err
	}
	return uint256.FromDecimal(out.Balance)
}

func (c *Client) Auction(ctx context.Context, name string) (AuctionInfo, error) {
	var out AuctionInfo
	err := c.do(ctx, http.MethodGet, auctionPath(name, ""), "", nil, nil, &out)
	return out, err
}

func (c *Client) Start(ctx context.Context, token, name string, hash commit.Digest) (AuctionInfo, error) {
	var out AuctionInfo
	err := c.do(ctx, http.MethodPost, auctionPath(name, "start"), token, map[string]string{"hash": hash.Hex()}, nil, &out)
	return out, err
}

func (c *Client) AddBid(ctx context.Context, token, name string, hash commit.Digest) error {
	return c.do(ctx, http.MethodPost, auctionPath(name, "bids"), token, map[string]string{"hash": hash.Hex()}, nil, nil)
}

func (c *Client) Reveal(ctx context.Context, token, name string, value *uint256.Int, salt string) (RevealResult, error) {
	var out RevealResult
	body := map[string]string{"value": value.Dec(), "salt": salt}
	err := c.do(ctx, http.MethodPost, auctionPath(name, "reveal"), token, body, nil, &out)
	return out, err
}

func (c *Client) Claim(ctx context.Context, token, name string, target chain.Identity, paid *uint256.Int) (Receipt, error) {
	var out Receipt
	body := map[string]string{"target": target.Hex(), "paid": paid.Dec()}
	err := c.do(ctx, http.MethodPost, auctionPath(name, "claim"), token, body, nil, &out)
	return out, err
}

// WaitForPhase polls the auction until it reports phase or ctx ends.
func (c *Client) WaitForPhase(ctx context.Context, name, phase string, every time.Duration) (AuctionInfo, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		info, err := c.Auction(ctx, name)
		if err != nil {
			return info, err
		}
		if info.Phase == phase {
			return info, nil
		}
		select {
		case <-ctx.Done():
			return info, fmt.Errorf("waiting for %s phase of %q: %w", phase, name, ctx.Err())
		case <-ticker.C:
		}
	}
}

func auctionPath(name, action string) string {
	p := "/v1/auctions/" + url.PathEscape(name)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path, token string, body any, headers map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if json.Unmarshal(raw, &payload) != nil || payload.Error == "" {
			payload.Error = strings.TrimSpace(string(raw))
		}
		return &StatusError{Code: resp.StatusCode, Message: payload.Error}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// FaucetRole is re-exported for callers that only import sim.
const FaucetRole = auth.RoleFaucet
