package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/solatis/uploadwaf/internal/core/auth"
	"github.com/solatis/uploadwaf/internal/core/config"
	"github.com/solatis/uploadwaf/internal/core/db"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage decision API keys",
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue a new API key; the key is printed once and only its HMAC is stored",
	RunE:  runKeysCreate,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	RunE:  runKeysList,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysCreateCmd, keysRevokeCmd, keysListCmd)
	keysCreateCmd.Flags().String("name", "", "human-readable key name (required)")
	keysCreateCmd.Flags().String("secret-id", "", "HMAC secret to bind the key to (default: the only, or lowest, configured secret)")
	_ = keysCreateCmd.MarkFlagRequired("name")
}

// selectSecret picks the secret new keys are bound to.
func selectSecret(secrets map[string][]byte, want string) (string, []byte, error) {
	if len(secrets) == 0 {
		return "", nil, fmt.Errorf("no HMAC secrets configured (set UW_HMAC_SECRET environment variable)")
	}
	if want != "" {
		secret, ok := secrets[want]
		if !ok {
			return "", nil, fmt.Errorf("secret %s is not configured", want)
		}
		return want, secret, nil
	}
	ids := make([]string, 0, len(secrets))
	for id := range secrets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids[0], secrets[ids[0]], nil
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	secretID, _ := cmd.Flags().GetString("secret-id")

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	secretID, secret, err := selectSecret(secrets, secretID)
	if err != nil {
		return err
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

	key, hash, err := auth.GenerateAPIKey(secretID, secret)
	if err != nil {
		return err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate key id: %w", err)
	}
	if err := db.NewKeyRepository(queries).InsertKey(cmd.Context(), id.String(), name, secretID, hash); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "key id:  %s\n", id)
	fmt.Fprintf(out, "api key: %s\n", key)
	fmt.Fprintln(out, "store the api key now; it cannot be shown again")
	return nil
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	url, err := requireDatabaseURL(cmd)
	if err != nil {
		return err
	}
	database, queries, err := openMigrated(url)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.NewKeyRepository(queries).RevokeKey(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
	return nil
}

func runKeysList(cmd *cobra.Command, args []string) error {
	url, err := requireDatabaseURL(cmd)
	if err != nil {
		return err
	}
	database, queries, err := openMigrated(url)
	if err != nil {
		return err
	}
	defer database.Close()

	keys, err := db.NewKeyRepository(queries).ListKeys(cmd.Context())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY ID\tNAME\tCREATED\tLAST USED\tSTATUS")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt.Valid {
			lastUsed = k.LastUsedAt.Time.Format(time.RFC3339)
		}
		status := "active"
		if k.RevokedAt.Valid {
			status = "revoked " + k.RevokedAt.Time.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.CreatedAt.Format(time.RFC3339), lastUsed, status)
	}
	return tw.Flush()
}
