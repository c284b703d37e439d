package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/activitywatch/internal/infra/storage/postgres"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List the persisted watch list",
	RunE:  runAccounts,
}

func init() {
	rootCmd.AddCommand(accountsCmd)
}

func runAccounts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Database.Enabled() {
		return fmt.Errorf("database.url is required to list persisted accounts")
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	accounts, err := postgres.NewAccountRepo(db).List(ctx, cfg.Network)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ADDRESS\tLABEL\tSINCE")
	for _, acc := range accounts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", acc.Address, acc.Label, acc.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}
