package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fundamentals-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "fundamentals-cli",
	Short: "Financial statement normalization pipeline",
	Long: "Resolves EDGAR XBRL and vendor statement line items to canonical names, reconciles " +
		"fiscal periods into discrete quarters, derives subtotals and ratios, converts amounts " +
		"to the base currency and stores one ordered fact series per company.\n\n" +
		"Settings come from config.yaml and FUNDAMENTALS_* environment variables; the " +
		"persistent flags below override them for a single invocation.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		applyOverrides(cmd, c)
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	registerOverrideFlags(rootCmd)
}

// registerOverrideFlags adds the persistent flags read by applyOverrides.
func registerOverrideFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.String("base-currency", "", "currency normalized values are expressed in (default from config, USD)")
	pf.Int("threshold", 0, "Q1-Q3 filing facts needed before vendor data is skipped for us-gaap filers (0 always merges)")
	pf.Int32("monetary-places", 0, "rounding precision of converted amounts (-1 rounds to tens)")
	pf.String("store", "", "storage backend: postgres or sqlite")
	pf.String("log-level", "", "log level: debug, info, warn, error")
}

// applyOverrides copies explicitly set persistent flags onto c.
func applyOverrides(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("base-currency") {
		v, _ := flags.GetString("base-currency")
		c.Normalize.BaseCurrency = strings.ToUpper(strings.TrimSpace(v))
	}
	if flags.Changed("threshold") {
		v, _ := flags.GetInt("threshold")
		c.Normalize.QuarterlyThreshold = v
	}
	if flags.Changed("monetary-places") {
		v, _ := flags.GetInt32("monetary-places")
		c.Normalize.MonetaryPlaces = v
	}
	if flags.Changed("store") {
		v, _ := flags.GetString("store")
		c.Store.Driver = strings.ToLower(strings.TrimSpace(v))
	}
	if flags.Changed("log-level") {
		v, _ := flags.GetString("log-level")
		c.Log.Level = v
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
