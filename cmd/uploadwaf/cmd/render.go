package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	waftypes "github.com/aws/aws-sdk-go-v2/service/wafv2/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/solatis/uploadwaf/internal/core/config"
	"github.com/solatis/uploadwaf/internal/core/reload"
	"github.com/solatis/uploadwaf/internal/export/wafv2"
	"github.com/solatis/uploadwaf/internal/policy"
	"github.com/solatis/uploadwaf/internal/rules"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the configured policy as a WAFv2 web ACL or a policy document",
	RunE:  runRender,
}

var renderBindings = []flagBinding{
	{"export.acl_name", "name"},
	{"export.scope", "scope"},
	{"export.region", "region"},
}

func init() {
	rootCmd.AddCommand(renderCmd)
	renderCmd.Flags().String("format", "wafv2", "output format (wafv2, document)")
	renderCmd.Flags().StringP("output", "o", "", "write to file instead of stdout")
	renderCmd.Flags().String("name", "WebAcl", "web ACL name")
	renderCmd.Flags().String("scope", "REGIONAL", "web ACL scope (REGIONAL, CLOUDFRONT)")
	renderCmd.Flags().String("region", "", "AWS region for --apply (default from the AWS config chain)")
	renderCmd.Flags().Bool("apply", false, "create the web ACL in AWS instead of printing it")
}

func runRender(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")
	apply, _ := cmd.Flags().GetBool("apply")

	cfg, err := loadConfig(cmd, renderBindings...)
	if err != nil {
		return err
	}
	compiled, err := compilePolicy(cfg.Policy)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", output, err)
		}
		defer f.Close()
		out = f
	}

	switch format {
	case "document":
		if apply {
			return fmt.Errorf("--apply requires --format wafv2")
		}
		return writeDocument(out, policy.NewDocument(compiled.Definition()))
	case "wafv2":
	default:
		return fmt.Errorf("unknown format %q (want wafv2 or document)", format)
	}

	input, err := wafv2.Render(compiled, exportOptions(cfg.Export))
	if err != nil {
		return err
	}

	if !apply {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(input)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := wafv2.NewClient(ctx, cfg.Export.Region)
	if err != nil {
		return err
	}
	deployment, err := wafv2.Deploy(ctx, client, input)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(deployment)
}

// compilePolicy compiles the configured policy without loading signatures.
func compilePolicy(cfg config.PolicyConfig) (*rules.CompiledPolicy, error) {
	def, err := reload.Definition(cfg)
	if err != nil {
		return nil, err
	}
	compiled, err := rules.Compile(def)
	if err != nil {
		return nil, fmt.Errorf("failed to compile policy: %w", err)
	}
	return compiled, nil
}

func exportOptions(cfg config.ExportConfig) wafv2.Options {
	return wafv2.Options{
		Name:           cfg.ACLName,
		Vendor:         cfg.Vendor,
		Scope:          waftypes.Scope(cfg.Scope),
		MetricsEnabled: cfg.MetricsEnabled,
	}
}

func writeDocument(w io.Writer, doc policy.Document) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	return enc.Close()
}
