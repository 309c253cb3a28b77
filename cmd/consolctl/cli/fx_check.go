package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/consolbatch/internal/fx"
	"github.com/odyssey-erp/consolbatch/internal/hierarchy"
	"github.com/odyssey-erp/consolbatch/internal/shared"
)

// exitFXGaps signals that required rates are missing.
const exitFXGaps = 10

type fxCheckOptions struct {
	scope      string
	periods    string
	jsonOutput bool
}

// FXCheckSummary describes the JSON output of fx-check.
type FXCheckSummary struct {
	OK                bool             `json:"ok"`
	ReportingCurrency string           `json:"reporting_currency"`
	Gaps              []FXGap          `json:"gaps"`
	AvailableQuotes   []FXAvailability `json:"available_quotes"`
}

// FXGap captures a missing conversion method for a pair in a period.
type FXGap struct {
	Pair   string `json:"pair"`
	Period string `json:"period"`
	Method string `json:"method"`
}

// FXAvailability reports a configured quote.
type FXAvailability struct {
	Pair   string `json:"pair"`
	Period string `json:"period"`
	Method string `json:"method"`
}

func newFXCheckCommand(g *globalOptions) *cobra.Command {
	opts := &fxCheckOptions{}
	cmd := &cobra.Command{
		Use:   "fx-check",
		Short: "Report FX rates missing for the units in scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFXCheck(cmd, g, opts)
		},
	}
	cmd.Flags().StringVar(&opts.scope, "scope", "All", `unit to check with its descendants, or "All"`)
	cmd.Flags().StringVar(&opts.periods, "periods", "", "period code, inclusive range or comma list")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "emit a JSON summary")
	return cmd
}

func runFXCheck(cmd *cobra.Command, g *globalOptions, opts *fxCheckOptions) error {
	if err := requireFlag("periods", opts.periods); err != nil {
		return err
	}
	periods, err := shared.ParsePeriods(opts.periods)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	cfg, err := g.config(cmd)
	if err != nil {
		return err
	}
	src, err := openSource(ctx, cfg, g.snapshotPath)
	if err != nil {
		return err
	}
	defer src.close()

	tree, err := src.tree.LoadTree(ctx)
	if err != nil {
		return fmt.Errorf("load hierarchy: %w", err)
	}
	units, err := hierarchy.NewResolver(tree).Resolve(ctx, opts.scope)
	if err != nil {
		return err
	}
	policy := fx.DefaultPolicy(src.reportingCurrency)
	reqs := fx.RequirementsFor(policy, hierarchy.Currencies(units))

	summary := FXCheckSummary{ReportingCurrency: policy.ReportingCurrency, Gaps: []FXGap{}, AvailableQuotes: []FXAvailability{}}
	for _, period := range periods {
		asOf, err := shared.PeriodStart(period)
		if err != nil {
			return err
		}
		result, err := fx.Validate(ctx, src.quotes, asOf, reqs)
		if err != nil {
			return fmt.Errorf("validate %s: %w", period, err)
		}
		appendResult(&summary, period, result)
	}
	summary.OK = len(summary.Gaps) == 0

	if opts.jsonOutput {
		if err := json.NewEncoder(g.stdout).Encode(summary); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
	} else {
		renderFXHuman(g.stdout, summary, len(reqs))
	}
	if !summary.OK {
		return &ExitError{Code: exitFXGaps, Err: fmt.Errorf("fx-check: %d gap(s) detected", len(summary.Gaps))}
	}
	return nil
}

func appendResult(summary *FXCheckSummary, period string, result fx.Result) {
	for _, gap := range result.Gaps {
		for _, method := range gap.Methods {
			summary.Gaps = append(summary.Gaps, FXGap{Pair: gap.Pair, Period: period, Method: string(method)})
		}
	}
	pairs := make([]string, 0, len(result.Available))
	for pair := range result.Available {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)
	for _, pair := range pairs {
		quote := result.Available[pair]
		if quote.Average > 0 {
			summary.AvailableQuotes = append(summary.AvailableQuotes, FXAvailability{Pair: pair, Period: period, Method: string(fx.MethodAverage)})
		}
		if quote.Closing > 0 {
			summary.AvailableQuotes = append(summary.AvailableQuotes, FXAvailability{Pair: pair, Period: period, Method: string(fx.MethodClosing)})
		}
	}
}

func renderFXHuman(out io.Writer, summary FXCheckSummary, pairs int) {
	_, _ = fmt.Fprintf(out, "FX check against %s (%d pair(s) required)\n", summary.ReportingCurrency, pairs)
	if summary.OK {
		_, _ = fmt.Fprintln(out, "All required FX rates are present.")
		return
	}
	_, _ = fmt.Fprintf(out, "%d gap(s) detected:\n", len(summary.Gaps))
	byKey := map[string][]string{}
	var keys []string
	for _, gap := range summary.Gaps {
		key := gap.Period + " " + gap.Pair
		if _, ok := byKey[key]; !ok {
			keys = append(keys, key)
		}
		byKey[key] = append(byKey[key], gap.Method)
	}
	for _, key := range keys {
		_, _ = fmt.Fprintf(out, " - %s missing %s\n", key, strings.Join(byKey[key], ", "))
	}
}
