package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fundamentals-cli/internal/fx"
	"github.com/sells-group/fundamentals-cli/internal/model"
)

var fxCmd = &cobra.Command{
	Use:   "fx",
	Short: "Manage monthly FX rates",
}

var fxImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import FRED exchange-rate observations as monthly rates",
	Long: "Reads a FRED series/observations JSON download for one currency, averages it " +
		"into monthly rates to USD and upserts them into the store.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		currency, _ := cmd.Flags().GetString("currency")
		file, _ := cmd.Flags().GetString("file")
		freqFlag, _ := cmd.Flags().GetString("frequency")
		seriesID, _ := cmd.Flags().GetString("series")
		invert, _ := cmd.Flags().GetBool("invert")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		rates, err := importRates(currency, file, freqFlag, seriesID, invert)
		if err != nil {
			return err
		}

		if dryRun {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rates)
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.SaveFXRates(ctx, rates)
		if err != nil {
			return eris.Wrap(err, "fx import: save rates")
		}

		zap.L().Info("fx import complete",
			zap.String("currency", strings.ToUpper(currency)),
			zap.Int("months", len(rates)),
			zap.Int64("rows", n),
		)
		return nil
	},
}

func init() {
	fxImportCmd.Flags().String("currency", "", "ISO currency code (required)")
	fxImportCmd.Flags().String("file", "", "path to FRED observations JSON (required)")
	fxImportCmd.Flags().String("frequency", "d", "observation frequency (d, m, q)")
	fxImportCmd.Flags().String("series", "", "FRED series ID for currencies without a built-in mapping")
	fxImportCmd.Flags().Bool("invert", false, "series is quoted as foreign units per USD (with --series)")
	fxImportCmd.Flags().Bool("dry-run", false, "print rates instead of saving them")
	_ = fxImportCmd.MarkFlagRequired("currency")
	_ = fxImportCmd.MarkFlagRequired("file")

	fxCmd.AddCommand(fxImportCmd)
	rootCmd.AddCommand(fxCmd)
}

// importRates reads a FRED download and aggregates it to monthly rates.
func importRates(currency, file, freqFlag, seriesID string, invert bool) ([]model.FXRate, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))

	series, ok := fx.FREDSeries[currency]
	if seriesID != "" {
		series = fx.Series{ID: seriesID, Invert: invert}
	} else if !ok {
		return nil, eris.Errorf("fx import: no FRED series for %s (use --series)", currency)
	}

	freq, err := fx.ParseFrequency(freqFlag)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, eris.Wrapf(err, "fx import: read %s", file)
	}
	obs, err := fx.ParseObservations(data)
	if err != nil {
		return nil, err
	}

	rates := fx.MonthlyRates(currency, series, freq, obs)
	if len(rates) == 0 {
		return nil, eris.Errorf("fx import: no usable observations in %s", file)
	}
	return rates, nil
}
