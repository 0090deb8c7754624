package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"blindbid.org/internal/chain"
	"blindbid.org/internal/commit"
	"blindbid.org/internal/obs"
	"blindbid.org/internal/sim"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	switch os.Args[1] {
	case "digest":
		runDigest(os.Args[2:])
	case "height":
		runHeight(os.Args[2:])
	case "smoke":
		runSmoke(os.Args[2:])
	default:
		usage()
	}
}

// runDigest prints the sealed-bid digest for a value and salt, computed
// locally so the bid never leaves the machine.
func runDigest(args []string) {
	if len(args) != 2 {
		usage()
	}
	value, err := uint256.FromDecimal(args[0])
	if err != nil {
		fail("value must be a non-negative decimal integer: %v", err)
	}
	fmt.Println(commit.Hash(value, args[1]).Hex())
}

func runHeight(args []string) {
	fs := flag.NewFlagSet("height", flag.ExitOnError)
	baseURL := fs.String("base-url", "http://localhost:8080", "registrard base URL")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h, err := sim.NewClient(*baseURL, 0).Height(ctx)
	if err != nil {
		fail("height: %v", err)
	}
	fmt.Println(h)
}

// runSmoke plays one two-bidder auction end to end against a dev-mode
// registrard and checks the settlement.
func runSmoke(args []string) {
	fs := flag.NewFlagSet("smoke", flag.ExitOnError)
	var (
		baseURL  = fs.String("base-url", "http://localhost:8080", "registrard base URL (dev mode)")
		timeout  = fs.Duration("timeout", 2*time.Minute, "Overall deadline")
		poll     = fs.Duration("poll", 250*time.Millisecond, "Phase polling interval")
		logLevel = fs.String("log-level", "info", "Log level")
	)
	_ = fs.Parse(args)

	log, err := obs.NewLogger(*logLevel)
	if err != nil {
		fail("logger: %v", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := sim.NewClient(*baseURL, 10*time.Second)
	gen := sim.NewGenerator(0, 2, 1_000)
	log = log.With(zap.String("run", gen.Run()))

	faucet, err := client.Token(ctx, chain.DeriveIdentity("bidctl.faucet"), sim.FaucetRole)
	if err != nil {
		log.Fatal("faucet token", zap.Error(err))
	}
	funding := uint256.NewInt(10_000)
	tokens := map[chain.Identity]string{}
	for _, b := range gen.Bidders() {
		tok, err := client.Token(ctx, b.ID)
		if err != nil {
			log.Fatal("bidder token", zap.String("bidder", b.Label), zap.Error(err))
		}
		if err := client.Deposit(ctx, faucet, b.ID, funding); err != nil {
			log.Fatal("fund bidder", zap.String("bidder", b.Label), zap.Error(err))
		}
		tokens[b.ID] = tok
	}

	plan := gen.NextPlan(2)
	for len(plan.Bids) < 2 {
		plan = gen.NextPlan(2)
	}
	runner := &sim.Runner{Client: client, Tokens: tokens, Poll: *poll, Log: log}
	out, err := runner.Play(ctx, plan)
	if err != nil {
		log.Fatal("auction", zap.String("name", plan.Name), zap.Error(err))
	}
	if !out.Expected {
		log.Fatal("unexpected winner", zap.String("winner", out.Winner.Bidder.Label))
	}

	bal, err := client.Balance(ctx, out.Winner.Bidder.ID)
	if err != nil {
		log.Fatal("winner balance", zap.Error(err))
	}
	want := new(uint256.Int).Sub(funding, out.Winner.Value)
	if !bal.Eq(want) {
		log.Fatal("winner balance mismatch", zap.String("got", bal.Dec()), zap.String("want", want.Dec()))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out.Receipt)
	log.Info("smoke passed", zap.String("name", plan.Name), zap.String("price", out.Receipt.Price))
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "bidctl: "+format+"\n", args...)
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s digest <value> <salt> | height [-base-url URL] | smoke [flags]\n", os.Args[0])
	os.Exit(1)
}
