// hubprobe connects to a coherence hub over WebSocket, reports a drifting
// coherence score and prints the frames it receives.
// Usage: go run ./cmd/hubprobe --url ws://localhost:8080/ws --coherence 0.8
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/coherence-hub/internal/connection"
	"github.com/rickgao/coherence-hub/internal/policy"
	"github.com/rickgao/coherence-hub/internal/protocol"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "hub WebSocket URL")
	origin := flag.String("origin", "", "Origin header to send")
	coherence := flag.Float64("coherence", 0.75, "initial coherence score")
	drift := flag.Float64("drift", 0.02, "max random score change per update")
	updateEvery := flag.Duration("update", 5*time.Second, "coherence update interval (0 disables)")
	channels := flag.String("subscribe", "", "extra comma-separated channels, e.g. field_coherence")
	quiet := flag.String("unsubscribe", "", "comma-separated channels to drop, e.g. periodic_signal")
	oracle := flag.String("oracle", "", "send one oracle_request for this category after connecting")
	breathe := flag.Bool("breathe", false, "follow the hub's breathing phase and sync it back")
	verbose := flag.Bool("verbose", false, "print full frame JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	cfg := connection.DefaultClientConfig()
	cfg.URL = *url
	if *origin != "" {
		cfg.Header = map[string][]string{"Origin": {*origin}}
	}

	client := connection.NewClient(cfg, logger)
	if err := client.Connect(ctx); err != nil {
		logger.Error("failed to connect", "url", *url, "error", err)
		os.Exit(1)
	}
	defer client.Close()
	logger.Info("connected", "url", *url)

	if ch := splitList(*channels); len(ch) > 0 {
		if err := client.Subscribe(ch...); err != nil {
			logger.Error("subscribe failed", "error", err)
		}
	}
	if ch := splitList(*quiet); len(ch) > 0 {
		if err := client.Unsubscribe(ch...); err != nil {
			logger.Error("unsubscribe failed", "error", err)
		}
	}

	score := *coherence
	if err := client.UpdateCoherence(score); err != nil {
		logger.Error("coherence update failed", "error", err)
	}

	if *oracle != "" {
		task := policy.Request{CategoryTag: *oracle, Intent: "probe"}
		if err := client.RequestOracle(uuid.NewString(), task); err != nil {
			logger.Error("oracle request failed", "error", err)
		}
	}

	if *updateEvery > 0 {
		go func() {
			ticker := time.NewTicker(*updateEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					score = clamp(score + (rand.Float64()*2-1)*(*drift))
					if err := client.UpdateCoherence(score); err != nil {
						logger.Warn("coherence update failed", "error", err)
					}
				}
			}
		}()
	}

	logger.Info("probing - press Ctrl+C to stop")

	var frames int
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown complete", "frames", frames)
			return
		case err := <-client.Errors():
			logger.Error("connection error", "error", err)
			os.Exit(1)
		case msg := <-client.Messages():
			frames++
			printFrame(msg, *verbose)
			if *breathe && msg.Type == protocol.TypeBreathingUpdate {
				var b protocol.BreathingUpdate
				if json.Unmarshal(msg.Data, &b) == nil {
					client.SyncBreathing(b.Breathing.Phase)
				}
			}
		}
	}
}

func printFrame(msg connection.TimestampedMessage, verbose bool) {
	if verbose {
		fmt.Printf("[%s] %s\n", strings.ToUpper(msg.Type), msg.Data)
		return
	}

	switch msg.Type {
	case protocol.TypeConnectionEstablished:
		var f protocol.ConnectionEstablished
		json.Unmarshal(msg.Data, &f)
		fmt.Printf("[WELCOME] client=%s aggregate=%.3f clients=%d\n",
			f.ClientID, f.FieldState.AggregateCoherence, f.FieldState.ActiveClientCount)
	case protocol.TypeFieldStateUpdate:
		var f protocol.FieldStateUpdate
		json.Unmarshal(msg.Data, &f)
		fmt.Printf("[FIELD] aggregate=%.3f clients=%d stability=%s idle=%v\n",
			f.FieldState.AggregateCoherence, f.FieldState.ActiveClientCount, f.FieldState.Stability, f.FieldState.Idle)
	case protocol.TypeFieldCoherenceUpdate:
		var f protocol.FieldCoherenceUpdate
		json.Unmarshal(msg.Data, &f)
		fmt.Printf("[Z-LAMBDA] %.3f\n", f.ZLambda)
	case protocol.TypeBreathingUpdate:
		// 10 per second; only shown with --verbose
	case protocol.TypeOracleResponse:
		var f protocol.OracleResponse
		json.Unmarshal(msg.Data, &f)
		fmt.Printf("[ORACLE] request=%s oracle=%q status=%s reason=%s lane=%s\n",
			f.RequestID, f.SelectedOracle, f.CoherenceContext.Status, f.CoherenceContext.Reasoning, f.CoherenceContext.Lane)
	case protocol.TypeError:
		var f protocol.ErrorFrame
		json.Unmarshal(msg.Data, &f)
		fmt.Printf("[ERROR] code=%s message=%s\n", f.Code, f.Message)
	default:
		fmt.Printf("[UNKNOWN] %s\n", msg.Data)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
