package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/activitywatch/internal/control"
)

var checkTimeout time.Duration

var checkCmd = &cobra.Command{
	Use:   "check <address>",
	Short: "Run one detection pass for an address and print the event",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 30*time.Second, "overall timeout")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	app, err := control.NewWatcher(cfg, control.DetectOnly())
	if err != nil {
		return fmt.Errorf("init watcher: %w", err)
	}
	defer func() { _ = app.Stop(context.Background()) }()

	ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
	defer cancel()

	event, err := app.Check(ctx, args[0])
	if err != nil {
		return err
	}
	if event == nil {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "no activity found")
		return nil
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(event)
}
