package cmd

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-webhook-relay/internal/app"
	"github.com/imrishuroy/go-webhook-relay/internal/audit"
	"github.com/imrishuroy/go-webhook-relay/internal/config"
	"github.com/imrishuroy/go-webhook-relay/internal/logging"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "Webhook relay admin CLI",
	Long: `relayctl operates the webhook relay canonical store.

Apply schema migrations, inspect and requeue dead letters, manage retention
policies, run purges and push audit entries to the search cluster.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./relay.yaml)")
}

func initConfig() error {
	if cfg != nil {
		return nil
	}
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded
	logger = logging.New(cfg.Log.Level, cfg.Log.Format)
	return nil
}

// openStore connects to the canonical store only; most commands need nothing else.
func openStore(ctx context.Context) (*audit.Store, *sql.DB, error) {
	if cfg.Audit.DSN == "" {
		return nil, nil, fmt.Errorf("audit.dsn is required")
	}
	db, err := app.OpenDB(ctx, cfg.Audit.DSN)
	if err != nil {
		return nil, nil, err
	}
	return audit.NewStore(db, cfg.Audit.Schema, audit.WithLogger(logger)), db, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
