package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/uploadwaf/internal/core/db"
	"github.com/solatis/uploadwaf/internal/telemetry"
	"github.com/solatis/uploadwaf/internal/types"
)

var samplesCmd = &cobra.Command{
	Use:   "samples",
	Short: "Inspect and prune stored sampled requests",
}

var samplesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print recent sampled requests as JSON lines, newest first",
	RunE:  runSamplesList,
}

var samplesPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete sampled requests older than --older-than",
	RunE:  runSamplesPrune,
}

func init() {
	rootCmd.AddCommand(samplesCmd)
	samplesCmd.AddCommand(samplesListCmd, samplesPruneCmd)
	samplesListCmd.Flags().String("policy-id", "", "only samples recorded under this policy")
	samplesListCmd.Flags().String("rule", "", "only samples for this rule (DEFAULT for default-action samples)")
	samplesListCmd.Flags().Int("limit", 100, "maximum samples to print")
	samplesPruneCmd.Flags().Duration("older-than", 7*24*time.Hour, "delete samples recorded before now minus this age")
}

type sampleOutput struct {
	SampleID   string    `json:"sample_id"`
	PolicyID   string    `json:"policy_id"`
	Rule       string    `json:"rule"`
	Action     string    `json:"action"`
	Method     string    `json:"method"`
	URIPath    string    `json:"uri_path"`
	RecordedAt time.Time `json:"recorded_at"`
}

func runSamplesList(cmd *cobra.Command, args []string) error {
	policyID, _ := cmd.Flags().GetString("policy-id")
	rule, _ := cmd.Flags().GetString("rule")
	limit, _ := cmd.Flags().GetInt("limit")

	url, err := requireDatabaseURL(cmd)
	if err != nil {
		return err
	}
	database, queries, err := openMigrated(url)
	if err != nil {
		return err
	}
	defer database.Close()

	samples, err := db.NewSampleRepository(queries).ListSamples(cmd.Context(), telemetry.SampleFilter{
		PolicyID: types.PolicyID(policyID),
		Rule:     rule,
		Limit:    limit,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, s := range samples {
		if err := enc.Encode(sampleOutput{
			SampleID:   string(s.SampleID),
			PolicyID:   string(s.PolicyID),
			Rule:       s.Rule,
			Action:     s.Action.String(),
			Method:     s.Method,
			URIPath:    s.URIPath,
			RecordedAt: s.RecordedAt,
		}); err != nil {
			return err
		}
	}
	return nil
}

func runSamplesPrune(cmd *cobra.Command, args []string) error {
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	if olderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}
	url, err := requireDatabaseURL(cmd)
	if err != nil {
		return err
	}
	database, queries, err := openMigrated(url)
	if err != nil {
		return err
	}
	defer database.Close()

	n, err := db.NewSampleRepository(queries).PruneSamples(cmd.Context(), time.Now().UTC().Add(-olderThan))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d samples\n", n)
	return nil
}
