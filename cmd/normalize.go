package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fundamentals-cli/internal/concept"
	"github.com/sells-group/fundamentals-cli/internal/model"
	"github.com/sells-group/fundamentals-cli/internal/pipeline"
	"github.com/sells-group/fundamentals-cli/internal/store"
	"github.com/sells-group/fundamentals-cli/internal/vendor"
	"github.com/sells-group/fundamentals-cli/internal/xbrl"
)

const vendorSuffix = ".vendor.json"

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Normalize one company or a directory of companies",
	Long: "Reads EDGAR company facts (and optional vendor statements), reconciles periods, " +
		"derives metrics, converts currencies and saves the ordered facts.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		symbol, _ := cmd.Flags().GetString("symbol")
		factsPath, _ := cmd.Flags().GetString("facts")
		vendorPath, _ := cmd.Flags().GetString("vendor")
		currency, _ := cmd.Flags().GetString("currency")
		dir, _ := cmd.Flags().GetString("dir")
		ratesPath, _ := cmd.Flags().GetString("rates")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		format, _ := cmd.Flags().GetString("format")
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		if format != "json" && format != "csv" {
			return eris.Errorf("unsupported format %q (json or csv)", format)
		}
		if dir == "" && (symbol == "" || factsPath == "") {
			return eris.New("either --dir or both --symbol and --facts are required")
		}
		if err := cfg.Validate("offline"); err != nil {
			return err
		}

		table, err := conceptTable()
		if err != nil {
			return err
		}

		var inputs []pipeline.Input
		if dir != "" {
			inputs, err = loadInputDir(dir, currency, table)
		} else {
			var in pipeline.Input
			in, err = loadInput(symbol, factsPath, vendorPath, currency, table)
			inputs = []pipeline.Input{in}
		}
		if err != nil {
			return err
		}

		rates, err := readRatesFile(ratesPath)
		if err != nil {
			return err
		}

		var st store.Store
		if !dryRun {
			if st, err = openStore(ctx); err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
		}

		p, err := newPipeline(ctx, st, rates)
		if err != nil {
			return err
		}

		if concurrency <= 0 {
			concurrency = cfg.Batch.MaxConcurrentCompanies
		}
		summary, err := p.RunBatch(ctx, inputs, concurrency)
		if err != nil {
			return err
		}

		if dryRun {
			var all []model.Fact
			for _, r := range summary.Results {
				all = append(all, r.Facts...)
			}
			if err := writeFacts(os.Stdout, all, format); err != nil {
				return err
			}
		}

		for _, f := range summary.Failures() {
			fmt.Fprintf(os.Stderr, "FAILED %s: %v\n", f.Symbol, f.Err)
		}
		zap.L().Info("normalize complete",
			zap.Int("companies", len(inputs)),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed),
			zap.Bool("dry_run", dryRun),
		)
		if summary.Failed > 0 {
			return eris.Errorf("%d of %d companies failed", summary.Failed, len(inputs))
		}
		return nil
	},
}

func init() {
	normalizeCmd.Flags().String("symbol", "", "ticker symbol of the company")
	normalizeCmd.Flags().String("facts", "", "path to EDGAR company facts JSON")
	normalizeCmd.Flags().String("vendor", "", "path to vendor statements JSON (optional)")
	normalizeCmd.Flags().String("currency", "", "reporting currency for facts without a unit currency")
	normalizeCmd.Flags().String("dir", "", "directory of <SYMBOL>.json and optional <SYMBOL>.vendor.json files")
	normalizeCmd.Flags().String("rates", "", "JSON file of extra monthly FX rates")
	normalizeCmd.Flags().Bool("dry-run", false, "print facts instead of saving them")
	normalizeCmd.Flags().String("format", "json", "dry-run output format (json, csv)")
	normalizeCmd.Flags().Int("concurrency", 0, "companies processed at once (default from config)")
	rootCmd.AddCommand(normalizeCmd)
}

// loadInput reads one company's filing facts and, when vendorPath is set,
// its vendor statements.
func loadInput(symbol, factsPath, vendorPath, currency string, table *concept.Table) (pipeline.Input, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	in := pipeline.Input{Company: model.Company{
		Symbol:            symbol,
		ReportingCurrency: strings.ToUpper(currency),
	}}

	f, err := os.Open(factsPath)
	if err != nil {
		return in, eris.Wrapf(err, "open facts %s", factsPath)
	}
	defer f.Close() //nolint:errcheck

	cf, err := xbrl.ParseCompanyFacts(f)
	if err != nil {
		return in, eris.Wrapf(err, "facts %s", factsPath)
	}
	in.Company.Name = cf.EntityName
	if cf.CIK > 0 {
		in.Company.CIK = fmt.Sprintf("%010d", cf.CIK)
	}
	in.Taxonomy = xbrl.PrimaryTaxonomy(cf, table)
	in.Filing = xbrl.ToRawFacts(cf, symbol, table)

	if vendorPath == "" {
		return in, nil
	}
	vf, err := os.Open(vendorPath)
	if err != nil {
		return in, eris.Wrapf(err, "open vendor %s", vendorPath)
	}
	defer vf.Close() //nolint:errcheck

	doc, err := vendor.ParseDocument(vf)
	if err != nil {
		return in, eris.Wrapf(err, "vendor %s", vendorPath)
	}
	in.Vendor = vendor.ToRawFacts(doc, symbol)
	return in, nil
}

// inputFiles is one company's files discovered in a batch directory.
type inputFiles struct {
	symbol string
	facts  string
	vendor string
}

// scanInputDir pairs <SYMBOL>.json with an optional <SYMBOL>.vendor.json,
// sorted by symbol.
func scanInputDir(dir string) ([]inputFiles, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "read input dir %s", dir)
	}

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names[e.Name()] = true
		}
	}

	var out []inputFiles
	for name := range names {
		if !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, vendorSuffix) {
			continue
		}
		base := strings.TrimSuffix(name, ".json")
		files := inputFiles{
			symbol: strings.ToUpper(base),
			facts:  filepath.Join(dir, name),
		}
		if names[base+vendorSuffix] {
			files.vendor = filepath.Join(dir, base+vendorSuffix)
		}
		out = append(out, files)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].symbol < out[j].symbol })
	return out, nil
}

func loadInputDir(dir, currency string, table *concept.Table) ([]pipeline.Input, error) {
	files, err := scanInputDir(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, eris.Errorf("no company facts files in %s", dir)
	}

	inputs := make([]pipeline.Input, 0, len(files))
	for _, f := range files {
		in, err := loadInput(f.symbol, f.facts, f.vendor, currency, table)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func readRatesFile(path string) ([]model.FXRate, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read rates %s", path)
	}
	var rates []model.FXRate
	if err := json.Unmarshal(data, &rates); err != nil {
		return nil, eris.Wrapf(err, "parse rates %s", path)
	}
	return rates, nil
}

// outputFact adds the statement name, which model.Fact omits from JSON.
type outputFact struct {
	model.Fact
	StatementType string `json:"statement_type"`
}

var csvHeader = []string{
	"symbol", "statement_type", "item", "period_header", "fiscal_year", "fiscal_period",
	"period_date", "original_value", "original_currency", "fx_rate", "value",
	"source_kind", "filing_type", "sort_key", "extracted_order",
}

func writeFacts(w io.Writer, facts []model.Fact, format string) error {
	switch format {
	case "csv":
		return writeFactsCSV(w, facts)
	default:
		out := make([]outputFact, len(facts))
		for i, f := range facts {
			out[i] = outputFact{Fact: f, StatementType: f.StatementType.String()}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(out), "encode facts")
	}
}

func writeFactsCSV(w io.Writer, facts []model.Fact) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(csvHeader); err != nil {
		return eris.Wrap(err, "normalize: write CSV header")
	}

	for _, f := range facts {
		periodDate := ""
		if !f.PeriodDate.IsZero() {
			periodDate = f.PeriodDate.Format(time.DateOnly)
		}
		row := []string{
			f.Symbol,
			f.StatementType.String(),
			f.Item,
			f.PeriodHeader,
			strconv.Itoa(f.FiscalYear),
			string(f.FiscalPeriod),
			periodDate,
			f.Value.String(),
			f.Currency,
			f.FXRate.String(),
			f.USDValue.String(),
			string(f.Source),
			f.Form,
			strconv.Itoa(f.SortKey),
			strconv.Itoa(f.ExtractedOrder),
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "normalize: write CSV row")
		}
	}
	return nil
}
