package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/solatis/uploadwaf/internal/core/reload"
	"github.com/solatis/uploadwaf/internal/telemetry"
	"github.com/solatis/uploadwaf/internal/types"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <requests.jsonl>",
	Short: "Evaluate a file of requests and summarize rule matches",
	Long: `simulate reads one JSON request per line ({"method": ..., "uri_path": ..., "headers": {...}}),
evaluates them concurrently against the configured policy, prints one decision per line
in input order, and ends with a per-rule summary line. Use "-" to read standard input.`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().Int("workers", 8, "concurrent evaluators")
}

type simulationSummary struct {
	Requests int                   `json:"requests"`
	Actions  map[string]int        `json:"actions"`
	Rules    []telemetry.RuleCount `json:"rules"`
}

func runSimulate(cmd *cobra.Command, args []string) error {
	workers, _ := cmd.Flags().GetInt("workers")
	if workers <= 0 {
		return fmt.Errorf("--workers must be positive, got %d", workers)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	in := cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open requests: %w", err)
		}
		defer f.Close()
		in = f
	}
	requests, err := readRequests(in)
	if err != nil {
		return err
	}

	counters := &telemetry.Counters{}
	snap, err := (&reload.Builder{Recorder: counters, Logger: logger}).Build(cfg.Policy)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	decisions, err := simulate(ctx, snap, requests, workers)
	if err != nil {
		return err
	}

	summary := simulationSummary{Requests: len(requests), Actions: map[string]int{}, Rules: counters.Snapshot()}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for i, d := range decisions {
		summary.Actions[d.Action.String()]++
		if err := enc.Encode(newDecisionOutput(requests[i], d)); err != nil {
			return err
		}
	}
	return enc.Encode(map[string]simulationSummary{"summary": summary})
}

// simulate decides every request on a bounded pool. Results keep input order.
func simulate(ctx context.Context, snap *reload.Snapshot, requests []types.RequestAttributes, workers int) ([]types.Decision, error) {
	decisions := make([]types.Decision, len(requests))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range requests {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			decisions[i] = snap.Decide(requests[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return decisions, nil
}

func readRequests(r io.Reader) ([]types.RequestAttributes, error) {
	var requests []types.RequestAttributes
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var attrs types.RequestAttributes
		if err := json.Unmarshal(raw, &attrs); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if attrs.Method == "" || attrs.URIPath == "" {
			return nil, fmt.Errorf("line %d: method and uri_path are required", line)
		}
		attrs.Headers = lowerKeys(attrs.Headers)
		requests = append(requests, attrs)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read requests: %w", err)
	}
	return requests, nil
}

func lowerKeys(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}
