// Package snapshot loads a self-contained consolidation data set (hierarchy,
// local balances and FX quotes) from a YAML file for local runs.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/consolbatch/internal/fx"
	"github.com/odyssey-erp/consolbatch/internal/hierarchy"
	"github.com/odyssey-erp/consolbatch/internal/ledger"
	"github.com/odyssey-erp/consolbatch/internal/shared"
)

// Amount decodes plain YAML numbers or strings into a decimal without
// passing through float64.
type Amount struct {
	decimal.Decimal
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Amount) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: amount must be a scalar", value.Line)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("line %d: invalid amount %q", value.Line, value.Value)
	}
	a.Decimal = d
	return nil
}

type unitDoc struct {
	Name      string  `yaml:"name"`
	Parent    string  `yaml:"parent"`
	Currency  string  `yaml:"currency"`
	Method    string  `yaml:"method"`
	Ownership *Amount `yaml:"ownership"`
}

type lineDoc struct {
	Account      string `yaml:"account"`
	Type         string `yaml:"type"`
	Counterparty string `yaml:"counterparty"`
	Amount       Amount `yaml:"amount"`
}

type quoteDoc struct {
	Average float64 `yaml:"average"`
	Closing float64 `yaml:"closing"`
}

type document struct {
	ReportingCurrency string                          `yaml:"reporting_currency"`
	Units             []unitDoc                       `yaml:"units"`
	Balances          map[string]map[string][]lineDoc `yaml:"balances"`
	Rates             map[string]map[string]quoteDoc  `yaml:"rates"`
}

// Snapshot is an immutable in-memory data set.
type Snapshot struct {
	ReportingCurrency string
	Tree              *hierarchy.Tree
	balances          map[string]map[string][]ledger.Line
	rates             map[string]map[string]fx.Quote
}

var (
	_ ledger.Source    = (*Snapshot)(nil)
	_ fx.QuoteProvider = (*Snapshot)(nil)
)

// Parse decodes a snapshot from YAML bytes.
func Parse(data []byte) (*Snapshot, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("snapshot: payload is empty")
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}

	units := make([]hierarchy.Unit, 0, len(doc.Units))
	for _, u := range doc.Units {
		method, err := hierarchy.ParseMethod(u.Method)
		if err != nil {
			return nil, fmt.Errorf("snapshot: unit %s: %w", u.Name, err)
		}
		unit := hierarchy.Unit{Name: u.Name, Parent: u.Parent, Currency: u.Currency, Method: method, Ownership: hierarchy.FullOwnership}
		if u.Ownership != nil {
			unit.Ownership = u.Ownership.Decimal
		}
		units = append(units, unit)
	}
	tree, err := hierarchy.NewTree(units)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	snap := &Snapshot{
		ReportingCurrency: strings.ToUpper(strings.TrimSpace(doc.ReportingCurrency)),
		Tree:              tree,
		balances:          make(map[string]map[string][]ledger.Line, len(doc.Balances)),
		rates:             make(map[string]map[string]fx.Quote, len(doc.Rates)),
	}
	for period, byUnit := range doc.Balances {
		snap.balances[period] = make(map[string][]ledger.Line, len(byUnit))
		for unit, lines := range byUnit {
			converted := make([]ledger.Line, 0, len(lines))
			for _, l := range lines {
				typ, err := ledger.ParseAccountType(l.Type)
				if err != nil {
					return nil, fmt.Errorf("snapshot: balances %s/%s: %w", period, unit, err)
				}
				converted = append(converted, ledger.Line{
					Account:      l.Account,
					Type:         typ,
					Counterparty: l.Counterparty,
					Amount:       l.Amount.Decimal,
				})
			}
			snap.balances[period][unit] = converted
		}
	}
	for period, byPair := range doc.Rates {
		if _, err := shared.PeriodStart(period); err != nil {
			return nil, fmt.Errorf("snapshot: rates: %w", err)
		}
		snap.rates[period] = make(map[string]fx.Quote, len(byPair))
		for pair, q := range byPair {
			snap.rates[period][strings.ToUpper(pair)] = fx.Quote{Average: q.Average, Closing: q.Closing}
		}
	}
	return snap, nil
}

// Load reads a snapshot file.
func Load(path string) (*Snapshot, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", path, err)
	}
	snap, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}

// Balances returns the local balances of unit for period.
func (s *Snapshot) Balances(ctx context.Context, unit, period string) ([]ledger.Line, error) {
	lines := s.balances[period][unit]
	return append([]ledger.Line(nil), lines...), nil
}

// QuoteForPeriod returns the quote of pair for the month containing asOf.
func (s *Snapshot) QuoteForPeriod(ctx context.Context, asOf time.Time, pair string) (fx.Quote, bool, error) {
	q, ok := s.rates[asOf.Format(shared.PeriodLayout)][strings.ToUpper(pair)]
	return q, ok, nil
}

// LoadTree returns the snapshot hierarchy.
func (s *Snapshot) LoadTree(ctx context.Context) (*hierarchy.Tree, error) {
	if s == nil || s.Tree == nil {
		return nil, fmt.Errorf("snapshot: hierarchy not loaded")
	}
	return s.Tree, nil
}

// EachBalance calls fn for every unit balance set, ordered by period then unit.
func (s *Snapshot) EachBalance(fn func(period, unit string, lines []ledger.Line) error) error {
	for _, period := range sortedKeys(s.balances) {
		byUnit := s.balances[period]
		for _, unit := range sortedKeys(byUnit) {
			if err := fn(period, unit, byUnit[unit]); err != nil {
				return err
			}
		}
	}
	return nil
}

// EachRate calls fn for every quote, ordered by period then pair.
func (s *Snapshot) EachRate(fn func(period, pair string, quote fx.Quote) error) error {
	for _, period := range sortedKeys(s.rates) {
		byPair := s.rates[period]
		for _, pair := range sortedKeys(byPair) {
			if err := fn(period, pair, byPair[pair]); err != nil {
				return err
			}
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
