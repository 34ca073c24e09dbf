// routecheck sends one routing request (or an admin degraded toggle) to a
// coherence hub and prints the result.
// Usage:
//
//	go run ./cmd/routecheck --category verify --score 0.96 --evidence 4
//	go run ./cmd/routecheck --set-degraded=true --key-id ops --private-key ops.pem
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/rickgao/coherence-hub/internal/api"
	"github.com/rickgao/coherence-hub/internal/auth"
	"github.com/rickgao/coherence-hub/internal/policy"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "hub base URL")
	category := flag.String("category", "mirror", "category name or glyph")
	score := flag.Float64("score", 0.8, "coherence score")
	trace := flag.String("trace", "", "sequence trace (for session tracking)")
	evidence := flag.Int("evidence", 0, "evidence item count (verify)")
	prior := flag.Float64("prior", -1, "prior verify provenance (commit); negative omits it")
	steps := flag.Int("steps", 0, "iterate budget cap; 0 omits budgets")
	step := flag.Int("step", 0, "iterate step counter")
	degraded := flag.Bool("degraded", false, "mark this request degraded")
	setDegraded := flag.String("set-degraded", "", "set the hub's degraded flag (true/false) instead of routing")
	keyID := flag.String("key-id", os.Getenv("HUB_KEY_ID"), "admin key ID")
	keyPath := flag.String("private-key", os.Getenv("HUB_PRIVATE_KEY_PATH"), "admin private key PEM")
	timeout := flag.Duration("timeout", 10*time.Second, "overall timeout")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	opts := []api.ClientOption{
		api.WithLogger(logger),
		api.WithTimeout(*timeout),
		api.WithRetries(3, 250*time.Millisecond),
	}
	if *keyPath != "" {
		creds, err := auth.LoadCredentials(*keyID, *keyPath)
		if err != nil {
			logger.Error("failed to load credentials", "error", err)
			os.Exit(1)
		}
		opts = append(opts, api.WithCredentials(creds))
	}
	client := api.NewClient(*baseURL, opts...)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *setDegraded != "" {
		want, err := strconv.ParseBool(*setDegraded)
		if err != nil {
			logger.Error("invalid --set-degraded", "value", *setDegraded)
			os.Exit(2)
		}
		got, err := client.SetDegraded(ctx, want)
		if err != nil {
			fail(logger, err)
		}
		fmt.Printf("degraded=%v\n", got)
		return
	}

	req := policy.Request{
		CategoryTag:    *category,
		CoherenceScore: score,
		SequenceTrace:  *trace,
		Degraded:       *degraded,
		Intent:         "routecheck",
	}
	if *evidence > 0 || *prior >= 0 {
		req.Provenance = &policy.Provenance{EvidenceCount: *evidence}
		if *prior >= 0 {
			req.Provenance.PriorVerifyScore = prior
		}
	}
	if *steps > 0 {
		req.Budgets = &policy.Budgets{Steps: *steps, Step: *step}
	}

	d, err := client.Route(ctx, req)
	if err != nil {
		fail(logger, err)
	}

	out, _ := json.MarshalIndent(d, "", "  ")
	fmt.Println(string(out))
}

func fail(logger *slog.Logger, err error) {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		logger.Error("hub rejected request",
			"status", apiErr.StatusCode,
			"message", apiErr.Message,
			"fields", apiErr.Fields,
		)
	} else {
		logger.Error("request failed", "error", err)
	}
	os.Exit(1)
}
