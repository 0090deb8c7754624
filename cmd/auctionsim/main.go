package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/holiman/uint256"
	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"

	"blindbid.org/internal/chain"
	"blindbid.org/internal/obs"
	"blindbid.org/internal/sim"
)

func main() {
	var (
		baseURL    = flag.String("base-url", "http://localhost:8080", "registrard base URL (dev mode)")
		workers    = flag.Int("workers", 4, "Concurrent auctions")
		auctions   = flag.Int("auctions", 16, "Auctions to run")
		bidders    = flag.Int("bidders", 8, "Bidder population")
		maxBidders = flag.Int("max-bidders", 4, "Upper bound of bidders per auction")
		maxBid     = flag.Uint64("max-bid", 1_000, "Upper bound of a bid value")
		funding    = flag.Uint64("funding", 1_000_000, "Faucet deposit per bidder")
		seed       = flag.Int64("seed", 0, "Random seed (0 picks one)")
		poll       = flag.Duration("poll", 250*time.Millisecond, "Phase polling interval")
		duration   = flag.Duration("duration", 5*time.Minute, "Overall deadline")
		logLevel   = flag.String("log-level", "info", "Log level")
	)
	flag.Parse()

	log, err := obs.NewLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auctionsim: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	client := sim.NewClient(*baseURL, 10*time.Second)
	gen := sim.NewGenerator(*seed, *bidders, *maxBid)
	log = log.With(zap.String("run", gen.Run()))
	log.Info("launching auction simulation",
		zap.String("base_url", *baseURL),
		zap.Int("workers", *workers),
		zap.Int("auctions", *auctions),
		zap.Int("bidders", *bidders),
	)

	tokens, err := enroll(ctx, client, gen.Bidders(), uint256.NewInt(*funding))
	if err != nil {
		log.Fatal("enroll bidders", zap.Error(err))
	}

	plans := make([]sim.Plan, *auctions)
	for i := range plans {
		plans[i] = gen.NextPlan(*maxBidders)
	}

	runner := &sim.Runner{Client: client, Tokens: tokens, Poll: *poll, Log: log}
	var counter sim.Counter
	started := time.Now()
	iter.Iterator[sim.Plan]{MaxGoroutines: *workers}.ForEach(plans, func(plan *sim.Plan) {
		out, err := runner.Play(ctx, *plan)
		if err != nil {
			status := sim.StatusOf(err)
			counter.Failed(status)
			log.Warn("auction failed", zap.String("name", plan.Name), zap.Int("status", status), zap.Error(err))
			if status == http.StatusTooManyRequests {
				time.Sleep(250 * time.Millisecond)
			}
			return
		}
		price, _ := uint256.FromDecimal(out.Receipt.Price)
		counter.Claimed(price, out.Expected)
		if !out.Expected {
			log.Error("unexpected winner", zap.String("name", plan.Name), zap.String("winner", out.Winner.Bidder.Label))
		}
	})

	s := counter.Summary()
	log.Info("run complete",
		zap.Duration("elapsed", time.Since(started)),
		zap.Int("auctions", s.Auctions),
		zap.Int("claimed", s.Claimed),
		zap.Int("mismatched", s.Mismatched),
		zap.String("volume", s.Volume),
		zap.Int("conflicts", s.Failures[http.StatusConflict]),
		zap.Int("rate_limited", s.Failures[http.StatusTooManyRequests]),
		zap.Any("failures", s.Failures),
	)
	if s.Mismatched > 0 {
		os.Exit(1)
	}
}

// enroll mints a token per bidder and funds each one through the faucet.
func enroll(ctx context.Context, client *sim.Client, bidders []sim.Bidder, amount *uint256.Int) (map[chain.Identity]string, error) {
	faucet := chain.DeriveIdentity("auctionsim.faucet")
	faucetToken, err := client.Token(ctx, faucet, sim.FaucetRole)
	if err != nil {
		return nil, fmt.Errorf("faucet token: %w", err)
	}
	minted, err := iter.MapErr(bidders, func(b *sim.Bidder) (string, error) {
		tok, err := client.Token(ctx, b.ID)
		if err != nil {
			return "", fmt.Errorf("token for %s: %w", b.Label, err)
		}
		if err := client.Deposit(ctx, faucetToken, b.ID, amount); err != nil {
			return "", fmt.Errorf("fund %s: %w", b.Label, err)
		}
		return tok, nil
	})
	if err != nil {
		return nil, err
	}
	tokens := make(map[chain.Identity]string, len(bidders))
	for i, b := range bidders {
		tokens[b.ID] = minted[i]
	}
	return tokens, nil
}
