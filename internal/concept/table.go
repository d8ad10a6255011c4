// Package concept maps raw financial-statement line items from any taxonomy
// or vendor onto canonical items with statement classification and ordering.
package concept

import (
	_ "embed"
	"os"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/fundamentals-cli/internal/model"
)

//go:embed mappings.yaml
var defaultMappings []byte

// Concept maps one raw taxonomy concept to a canonical item.
type Concept struct {
	Taxonomy  string
	Name      string
	Statement model.StatementType
	Item      string
	Order     int
}

// Alias maps a loosely-worded vendor label to a canonical item.
type Alias struct {
	Alias string
	Item  string
}

// Metric defines a derived sub-total or ratio. Parent is the canonical item
// (or another metric) whose statement and item order the metric inherits.
type Metric struct {
	Key    string
	Parent string
	Order  int
	Name   string
}

// Table is the immutable concept-mapping dataset. It is safe for concurrent
// use once loaded.
type Table struct {
	Version string

	statementOrder map[model.StatementType]int
	concepts       []Concept
	byConcept      map[string]Concept
	aliases        []Alias
	metrics        []Metric
	metricsByKey   map[string]Metric
	percentage     map[string]bool
	shareCounts    map[string]bool
}

type tableFile struct {
	Version    string `yaml:"version"`
	Statements []struct {
		Name  string `yaml:"name"`
		Order int    `yaml:"order"`
	} `yaml:"statements"`
	Taxonomies []struct {
		Name     string `yaml:"name"`
		Concepts []struct {
			Concept   string `yaml:"concept"`
			Statement string `yaml:"statement"`
			Item      string `yaml:"item"`
			Order     int    `yaml:"order"`
		} `yaml:"concepts"`
	} `yaml:"taxonomies"`
	VendorAliases []struct {
		Alias string `yaml:"alias"`
		Item  string `yaml:"item"`
	} `yaml:"vendor_aliases"`
	Metrics []struct {
		Key    string `yaml:"key"`
		Parent string `yaml:"parent"`
		Order  int    `yaml:"order"`
		Name   string `yaml:"name"`
	} `yaml:"metrics"`
	PercentageMetrics []string `yaml:"percentage_metrics"`
	ShareCountItems   []string `yaml:"share_count_items"`
}

// Load parses a mapping dataset.
func Load(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "concept: parse mappings")
	}
	if f.Version == "" {
		return nil, eris.New("concept: mappings missing version")
	}

	t := &Table{
		Version:        f.Version,
		statementOrder: make(map[model.StatementType]int, len(f.Statements)),
		byConcept:      make(map[string]Concept),
		metricsByKey:   make(map[string]Metric, len(f.Metrics)),
		percentage:     make(map[string]bool, len(f.PercentageMetrics)),
		shareCounts:    make(map[string]bool, len(f.ShareCountItems)),
	}

	for _, s := range f.Statements {
		st := model.ParseStatementType(s.Name)
		if st == model.StatementUnknown {
			return nil, eris.Errorf("concept: unknown statement %q", s.Name)
		}
		t.statementOrder[st] = s.Order
	}

	for _, tax := range f.Taxonomies {
		for _, c := range tax.Concepts {
			st := model.ParseStatementType(c.Statement)
			if st == model.StatementUnknown {
				return nil, eris.Errorf("concept: %s:%s has unknown statement %q", tax.Name, c.Concept, c.Statement)
			}
			if c.Item == "" {
				return nil, eris.Errorf("concept: %s:%s has no item", tax.Name, c.Concept)
			}
			entry := Concept{
				Taxonomy:  tax.Name,
				Name:      c.Concept,
				Statement: st,
				Item:      c.Item,
				Order:     c.Order,
			}
			t.concepts = append(t.concepts, entry)
			if _, ok := t.byConcept[conceptKey(tax.Name, c.Concept)]; !ok {
				t.byConcept[conceptKey(tax.Name, c.Concept)] = entry
			}
		}
	}

	for _, a := range f.VendorAliases {
		if a.Alias == "" || a.Item == "" {
			return nil, eris.Errorf("concept: incomplete vendor alias %q -> %q", a.Alias, a.Item)
		}
		t.aliases = append(t.aliases, Alias{Alias: a.Alias, Item: a.Item})
	}

	for _, m := range f.Metrics {
		if m.Key == "" || m.Name == "" || m.Parent == "" {
			return nil, eris.Errorf("concept: incomplete metric %q", m.Key)
		}
		if _, dup := t.metricsByKey[m.Key]; dup {
			return nil, eris.Errorf("concept: duplicate metric %q", m.Key)
		}
		metric := Metric{Key: m.Key, Parent: m.Parent, Order: m.Order, Name: m.Name}
		t.metrics = append(t.metrics, metric)
		t.metricsByKey[m.Key] = metric
	}

	if err := t.checkAliases(); err != nil {
		return nil, err
	}

	for _, name := range f.PercentageMetrics {
		t.percentage[NormalizeItemName(name)] = true
	}
	for _, name := range f.ShareCountItems {
		t.shareCounts[NormalizeItemName(name)] = true
	}

	return t, nil
}

// checkAliases rejects vendor aliases whose target is neither a concept
// item, a concept name nor a metric.
func (t *Table) checkAliases() error {
	known := make(map[string]bool, len(t.concepts)*2+len(t.metrics)*2)
	for _, c := range t.concepts {
		known[NormalizeItemName(c.Item)] = true
		known[NormalizeItemName(c.Name)] = true
	}
	for _, m := range t.metrics {
		known[NormalizeItemName(m.Name)] = true
		known[NormalizeItemName(m.Key)] = true
	}
	for _, a := range t.aliases {
		if !known[NormalizeItemName(a.Item)] {
			return eris.Errorf("concept: vendor alias %q targets unknown item %q", a.Alias, a.Item)
		}
	}
	return nil
}

// LoadFile reads a mapping dataset from disk, replacing the embedded one.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "concept: read mappings %s", path)
	}
	return Load(data)
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
)

// Default returns the embedded mapping dataset.
func Default() *Table {
	defaultOnce.Do(func() {
		t, err := Load(defaultMappings)
		if err != nil {
			panic(err)
		}
		defaultTable = t
	})
	return defaultTable
}

// StatementOrder returns the display order of a statement, or
// UnknownStatementOrder.
func (t *Table) StatementOrder(st model.StatementType) int {
	if o, ok := t.statementOrder[st]; ok {
		return o
	}
	return UnknownStatementOrder
}

// Concepts returns the taxonomy entries in table order.
func (t *Table) Concepts() []Concept {
	return append([]Concept(nil), t.concepts...)
}

// Concept looks up a raw concept within one taxonomy, e.g.
// ("us-gaap", "Revenues").
func (t *Table) Concept(taxonomy, name string) (Concept, bool) {
	c, ok := t.byConcept[conceptKey(taxonomy, name)]
	return c, ok
}

func conceptKey(taxonomy, name string) string {
	return taxonomy + ":" + name
}

// Metrics returns the derived-metric definitions in table order.
func (t *Table) Metrics() []Metric {
	return append([]Metric(nil), t.metrics...)
}

// Metric looks up a derived-metric definition by key (e.g. "ebitda").
func (t *Table) Metric(key string) (Metric, bool) {
	m, ok := t.metricsByKey[key]
	return m, ok
}

// IsPercentage reports whether item is a percentage, ratio or growth metric.
func (t *Table) IsPercentage(item string) bool {
	return t.percentage[NormalizeItemName(item)]
}

// IsShareCount reports whether item is a share or entity count.
func (t *Table) IsShareCount(item string) bool {
	return t.shareCounts[NormalizeItemName(item)]
}

// IsPerShare reports whether item is a per-share amount such as EPS.
func (t *Table) IsPerShare(item string) bool {
	return strings.Contains(NormalizeItemName(item), "per share")
}
