package concept

import (
	"strings"

	"github.com/sells-group/fundamentals-cli/internal/model"
)

// Sentinel orders for items that match nothing in the table. They sort last
// within their group.
const (
	UnknownItemOrder      = 9999
	UnknownStatementOrder = 99
)

// maxMetricDepth bounds parent recursion for derived metrics.
const maxMetricDepth = 8

// Resolution is the canonical classification of a raw item name.
type Resolution struct {
	StatementType      model.StatementType
	Item               string
	ItemSortOrder      int
	MetricSortOrder    int
	StatementSortOrder int
	Matched            bool
}

type canonical struct {
	item      string
	statement model.StatementType
	order     int
}

// Resolver maps raw item names to canonical items. All indexes are built
// once by NewResolver and never mutated, so a Resolver may be shared across
// goroutines.
type Resolver struct {
	table     *Table
	aliases   map[string]string
	exact     map[string]canonical
	byItem    map[string]canonical
	byConcept map[string]canonical
	metrics   map[string]Metric
}

// NewResolver indexes t. For every index the first entry in table order wins
// when two entries normalize to the same key.
func NewResolver(t *Table) *Resolver {
	r := &Resolver{
		table:     t,
		aliases:   make(map[string]string, len(t.aliases)),
		exact:     make(map[string]canonical),
		byItem:    make(map[string]canonical),
		byConcept: make(map[string]canonical, len(t.concepts)),
		metrics:   make(map[string]Metric, len(t.metrics)*2),
	}

	for _, a := range t.aliases {
		key := NormalizeItemName(a.Alias)
		if _, ok := r.aliases[key]; !ok {
			r.aliases[key] = a.Item
		}
	}

	for _, c := range t.concepts {
		entry := canonical{item: c.Item, statement: c.Statement, order: c.Order}
		if key := exactKey(c.Item); key != "" {
			if _, ok := r.exact[key]; !ok {
				r.exact[key] = entry
			}
		}
		if key := NormalizeItemName(c.Item); key != "" {
			if _, ok := r.byItem[key]; !ok {
				r.byItem[key] = entry
			}
		}
		if key := NormalizeItemName(c.Name); key != "" {
			if _, ok := r.byConcept[key]; !ok {
				r.byConcept[key] = entry
			}
		}
	}

	for _, m := range t.metrics {
		for _, key := range []string{NormalizeItemName(m.Name), NormalizeItemName(m.Key)} {
			if _, ok := r.metrics[key]; !ok {
				r.metrics[key] = m
			}
		}
	}

	return r
}

// Table returns the dataset the resolver was built from.
func (r *Resolver) Table() *Table {
	return r.table
}

// Resolve classifies raw. Lookup order is vendor alias, exact canonical item
// name, normalized canonical item name, raw taxonomy concept name, then
// derived-metric display name. Anything else resolves to the Unknown sentinel
// with the name kept as given.
func (r *Resolver) Resolve(raw string) Resolution {
	key := NormalizeItemName(raw)
	if _, aliased := r.aliases[key]; !aliased {
		if c, ok := r.exact[exactKey(raw)]; ok {
			return r.fromCanonical(c)
		}
	}
	if res, ok := r.resolve(key, 0); ok {
		return res
	}
	return Resolution{
		StatementType:      model.StatementUnknown,
		Item:               raw,
		ItemSortOrder:      UnknownItemOrder,
		StatementSortOrder: UnknownStatementOrder,
	}
}

// exactKey distinguishes canonical names that differ only in a
// parenthetical, such as "Share-based compensation (CF)".
func exactKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Resolver) resolve(key string, depth int) (Resolution, bool) {
	if key == "" || depth > maxMetricDepth {
		return Resolution{}, false
	}

	if target, ok := r.aliases[key]; ok {
		if c, ok := r.exact[exactKey(target)]; ok {
			return r.fromCanonical(c), true
		}
		key = NormalizeItemName(target)
	}

	if c, ok := r.byItem[key]; ok {
		return r.fromCanonical(c), true
	}
	if c, ok := r.byConcept[key]; ok {
		return r.fromCanonical(c), true
	}

	m, ok := r.metrics[key]
	if !ok {
		return Resolution{}, false
	}
	return r.fromMetric(m, depth)
}

func (r *Resolver) fromMetric(m Metric, depth int) (Resolution, bool) {
	parent, ok := r.resolve(NormalizeItemName(m.Parent), depth+1)
	if !ok {
		return Resolution{}, false
	}
	return Resolution{
		StatementType:      parent.StatementType,
		Item:               m.Name,
		ItemSortOrder:      parent.ItemSortOrder,
		MetricSortOrder:    m.Order,
		StatementSortOrder: parent.StatementSortOrder,
		Matched:            true,
	}, true
}

func (r *Resolver) fromCanonical(c canonical) Resolution {
	return Resolution{
		StatementType:      c.statement,
		Item:               c.item,
		ItemSortOrder:      c.order,
		StatementSortOrder: r.table.StatementOrder(c.statement),
		Matched:            true,
	}
}

// Metric resolves a derived-metric definition by key, inheriting statement
// and item order from its parent chain.
func (r *Resolver) Metric(key string) (Resolution, bool) {
	m, ok := r.table.Metric(key)
	if !ok {
		return Resolution{}, false
	}
	return r.fromMetric(m, 0)
}
