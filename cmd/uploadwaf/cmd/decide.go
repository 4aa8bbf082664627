package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/solatis/uploadwaf/internal/core/api"
	"github.com/solatis/uploadwaf/internal/core/reload"
	"github.com/solatis/uploadwaf/internal/types"
)

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Evaluate one request against the configured policy",
	Example: `  uploadwaf decide --method POST --path /profile -H "Content-Type: multipart/form-data"
  uploadwaf decide --remote localhost:50051 --method GET --path /health`,
	RunE: runDecide,
}

func init() {
	rootCmd.AddCommand(decideCmd)
	decideCmd.Flags().String("method", "GET", "request method")
	decideCmd.Flags().String("path", "/", "request URI path")
	decideCmd.Flags().StringArrayP("header", "H", nil, `request header as "Name: value" (repeatable)`)
	decideCmd.Flags().String("remote", "", "ask a running decision API at host:port instead of evaluating locally")
	decideCmd.Flags().String("api-key", "", "decision API key (default $UW_API_KEY)")
}

// decisionOutput is the JSON shape printed by decide and simulate.
type decisionOutput struct {
	Request     types.RequestAttributes `json:"request"`
	Action      string                  `json:"action"`
	MatchedRule string                  `json:"matched_rule,omitempty"`
	Overrides   []string                `json:"overrides,omitempty"`
	PolicyID    string                  `json:"policy_id"`
}

func newDecisionOutput(attrs types.RequestAttributes, d types.Decision) decisionOutput {
	return decisionOutput{
		Request:     attrs,
		Action:      d.Action.String(),
		MatchedRule: d.MatchedRule,
		Overrides:   d.Overrides,
		PolicyID:    string(d.PolicyID),
	}
}

// parseHeaders turns "Name: value" strings into lowercase-keyed attributes.
func parseHeaders(raw []string) (map[string]string, error) {
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("malformed header %q (want \"Name: value\")", h)
		}
		headers[strings.ToLower(name)] = strings.TrimSpace(value)
	}
	return headers, nil
}

func runDecide(cmd *cobra.Command, args []string) error {
	method, _ := cmd.Flags().GetString("method")
	path, _ := cmd.Flags().GetString("path")
	rawHeaders, _ := cmd.Flags().GetStringArray("header")
	remote, _ := cmd.Flags().GetString("remote")

	headers, err := parseHeaders(rawHeaders)
	if err != nil {
		return err
	}
	attrs := types.RequestAttributes{Method: strings.ToUpper(method), URIPath: path, Headers: headers}

	var decision types.Decision
	if remote != "" {
		apiKey, _ := cmd.Flags().GetString("api-key")
		if apiKey == "" {
			apiKey = os.Getenv("UW_API_KEY")
		}
		decision, err = decideRemote(cmd.Context(), remote, apiKey, attrs)
	} else {
		decision, err = decideLocal(cmd, attrs)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(newDecisionOutput(attrs, decision))
}

func decideLocal(cmd *cobra.Command, attrs types.RequestAttributes) (types.Decision, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return types.Decision{}, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return types.Decision{}, err
	}
	snap, err := (&reload.Builder{Logger: logger}).Build(cfg.Policy)
	if err != nil {
		return types.Decision{}, err
	}
	return snap.Decide(attrs), nil
}

func decideRemote(ctx context.Context, addr, apiKey string, attrs types.RequestAttributes) (types.Decision, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return types.Decision{}, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	req, err := api.AttributesStruct(attrs)
	if err != nil {
		return types.Decision{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if apiKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-api-key", apiKey)
	}

	out, err := api.NewDecisionClient(conn).Decide(ctx, req)
	if err != nil {
		return types.Decision{}, fmt.Errorf("remote decide failed: %w", err)
	}
	return api.DecisionFromStruct(out)
}
