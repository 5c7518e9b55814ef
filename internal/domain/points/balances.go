package points

import "math"

// Balances holds one non-negative balance per category, indexed by
// Category.Index().
type Balances [NumCategories]int

// NewBalances builds Balances from values in canonical order.
func NewBalances(discipline, hygiene, academic, other int) Balances {
	return Balances{discipline, hygiene, academic, other}
}

// Get returns the balance of c. Unknown categories read as zero.
func (b Balances) Get(c Category) int {
	i := c.Index()
	if i < 0 {
		return 0
	}
	return b[i]
}

// Set returns a copy of b with the balance of c replaced.
func (b Balances) Set(c Category, v int) Balances {
	if i := c.Index(); i >= 0 {
		b[i] = v
	}
	return b
}

// Total sums all four categories.
func (b Balances) Total() int {
	total := 0
	for _, v := range b {
		total += v
	}
	return total
}

// CanAdd reports whether amount can be added to the non-negative v
// without leaving the int range.
func CanAdd(v, amount int) bool {
	return amount <= math.MaxInt-v
}

// Overflows reports whether Total of non-negative balances would wrap.
func (b Balances) Overflows() bool {
	total := 0
	for _, v := range b {
		if !CanAdd(total, v) {
			return true
		}
		total += v
	}
	return false
}

// IsZero reports whether every category is zero.
func (b Balances) IsZero() bool {
	return b == Balances{}
}

// HasNegative reports whether any category is below zero.
func (b Balances) HasNegative() bool {
	for _, v := range b {
		if v < 0 {
			return true
		}
	}
	return false
}

// Add returns the element-wise sum of b and o.
func (b Balances) Add(o Balances) Balances {
	for i := range b {
		b[i] += o[i]
	}
	return b
}

// Map returns the balances keyed by category name.
func (b Balances) Map() map[Category]int {
	out := make(map[Category]int, NumCategories)
	for i, c := range Categories() {
		out[c] = b[i]
	}
	return out
}

// Redistribute splits an aggregate total across the four categories.
// Each category gets floor(total/4); the first total%4 categories in
// canonical order get one extra point. Non-positive totals yield zero.
func Redistribute(total int) Balances {
	var b Balances
	if total <= 0 {
		return b
	}
	base, rem := total/NumCategories, total%NumCategories
	for i := range b {
		b[i] = base
		if i < rem {
			b[i]++
		}
	}
	return b
}
