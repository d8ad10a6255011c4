package concept

// Operand names a well-known line item the derivation engine looks up
// regardless of which taxonomy or vendor supplied it.
type Operand int

const (
	Revenue Operand = iota
	CostOfRevenue
	GrossProfit
	OperatingIncome
	InterestExpense
	DepreciationAmortization
	NetIncome
	TotalAssets
	TotalEquity
	AccountsReceivable
	CurrentAssets
	CurrentLiabilities
	Inventory
	Cash
	TotalDebt
	OperatingCashFlow
	Capex
	ShareCounts
)

// operandItems lists the canonical items of each operand in priority order.
var operandItems = map[Operand][]string{
	Revenue:                  {"Revenue", "Sales Revenue, Products", "Sales Revenue, Services"},
	CostOfRevenue:            {"Cost of revenue", "Cost of goods sold"},
	GrossProfit:              {"Gross Profit"},
	OperatingIncome:          {"Income (loss) from operations", "Income from operations"},
	InterestExpense:          {"Interest expense", "Interest expense on lease liabilities"},
	DepreciationAmortization: {"Depreciation and amortization", "Depreciation", "DepreciationDepletionAndAmortization"},
	NetIncome:                {"Net income (loss)"},
	TotalAssets:              {"Total assets"},
	TotalEquity:              {"Total stockholders' equity"},
	AccountsReceivable:       {"Accounts receivable, net"},
	CurrentAssets:            {"Total current assets"},
	CurrentLiabilities:       {"Total current liabilities"},
	Inventory:                {"Inventories, net", "Inventory, net"},
	Cash:                     {"Cash and cash equivalents"},
	TotalDebt:                {"Total borrowings", "Long-term debt, non-current", "Short-term borrowings"},
	OperatingCashFlow:        {"Net cash from operating activities"},
	Capex:                    {"Purchases of property and equipment", "Capital Expenditures", "Purchases of productive assets"},
	ShareCounts:              {"Weighted-average shares: Basic", "Weighted-average shares: Diluted", "Entity common stock shares outstanding"},
}

// SynonymSet holds every normalized name that denotes one operand: the
// canonical items themselves, the raw taxonomy concepts mapped to them and
// the vendor aliases pointing at them.
type SynonymSet struct {
	rank map[string]int
}

// Rank returns the priority of a normalized name within the set (0 is the
// preferred canonical item) and whether it is a member.
func (s SynonymSet) Rank(key string) (int, bool) {
	r, ok := s.rank[key]
	return r, ok
}

// Contains reports whether the raw item name is a member.
func (s SynonymSet) Contains(item string) bool {
	_, ok := s.rank[NormalizeItemName(item)]
	return ok
}

// Len returns the number of member names.
func (s SynonymSet) Len() int {
	return len(s.rank)
}

// SynonymIndex holds the synonym set of every operand. It is immutable once
// built.
type SynonymIndex struct {
	sets map[Operand]SynonymSet
}

// NewSynonymIndex builds the synonym sets for all operands from t.
func NewSynonymIndex(t *Table) *SynonymIndex {
	idx := &SynonymIndex{sets: make(map[Operand]SynonymSet, len(operandItems))}
	for op, items := range operandItems {
		idx.sets[op] = buildSynonymSet(t, items)
	}
	return idx
}

// Set returns the synonym set for op.
func (x *SynonymIndex) Set(op Operand) SynonymSet {
	return x.sets[op]
}

func buildSynonymSet(t *Table, items []string) SynonymSet {
	rankOf := make(map[string]int, len(items))
	for i, item := range items {
		key := NormalizeItemName(item)
		if _, ok := rankOf[key]; !ok {
			rankOf[key] = i
		}
	}

	set := SynonymSet{rank: make(map[string]int)}
	add := func(name string, r int) {
		key := NormalizeItemName(name)
		if key == "" {
			return
		}
		if cur, ok := set.rank[key]; !ok || r < cur {
			set.rank[key] = r
		}
	}

	for i, item := range items {
		add(item, i)
	}
	for _, c := range t.concepts {
		if r, ok := rankOf[NormalizeItemName(c.Item)]; ok {
			add(c.Item, r)
			add(c.Name, r)
		}
	}
	for _, a := range t.aliases {
		if r, ok := rankOf[NormalizeItemName(a.Item)]; ok {
			add(a.Alias, r)
		}
	}
	return set
}
