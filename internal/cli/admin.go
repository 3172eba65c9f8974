package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"timebank/internal/handler"
)

func init() {
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(tokenCmd)

	grantCmd.Flags().String("actor", "cli", "actor id recorded on the grant")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Rebuild balances from the transaction log and report discrepancies",
	Long: `Reads every account, the transaction log and all completed sessions in one
transaction and checks that they agree. Exits non-zero if anything is off.`,
	Args: cobra.NoArgs,
	RunE: runAudit,
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.engine.Audit(cmd.Context())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if !report.OK() {
		return fmt.Errorf("%d discrepancies found", len(report.Discrepancies))
	}
	return nil
}

var grantCmd = &cobra.Command{
	Use:   "grant USER_ID AMOUNT",
	Short: "Grant time credits to a user",
	Args:  cobra.ExactArgs(2),
	RunE:  runGrant,
}

func runGrant(cmd *cobra.Command, args []string) error {
	var amount int64
	if _, err := fmt.Sscan(args[1], &amount); err != nil {
		return fmt.Errorf("amount must be an integer: %w", err)
	}
	actor, _ := cmd.Flags().GetString("actor")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	balance, err := a.accounts.Grant(ctx, args[0], amount, actor)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "user %s: available=%d reserved=%d\n", balance.UserID, balance.Available, balance.Reserved)
	return nil
}

var tokenCmd = &cobra.Command{
	Use:   "token USER_ID",
	Short: "Sign a bearer token for USER_ID with auth.jwt_secret (development)",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func runToken(cmd *cobra.Command, args []string) error {
	ttl, _ := cmd.Flags().GetDuration("ttl")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not set")
	}

	token, err := handler.IssueToken(cfg.Auth.JWTSecret, args[0], ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, token)
	return nil
}
