package expectation

// ValueCount is one distinct unexpected value with its occurrence count.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Result is the normalized outcome of evaluating one expectation.
//
// ElementCount counts the rows in scope after the row-condition filter.
// UnexpectedPercent is computed over the non-null denominator
// (ElementCount - MissingCount) for value checks; for ColumnNotNull it
// equals MissingPercent.
type Result struct {
	Column            string       `json:"column"`
	ExpectationType   string       `json:"expectation_type"`
	Success           bool         `json:"success"`
	ElementCount      int          `json:"element_count"`
	UnexpectedCount   int          `json:"unexpected_count"`
	UnexpectedPercent float64      `json:"unexpected_percent"`
	MissingCount      int          `json:"missing_count"`
	MissingPercent    float64      `json:"missing_percent"`
	PartialUnexpected []ValueCount `json:"partial_unexpected"`
	UnexpectedRows    []int        `json:"unexpected_rows,omitempty"`
}

// topK is the maximum number of distinct unexpected values reported.
const topK = 20

// counter accumulates unexpected values preserving first-seen order so
// the top-K cut breaks count ties deterministically.
type counter struct {
	order  []string
	counts map[string]int
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(value string) {
	if _, seen := c.counts[value]; !seen {
		c.order = append(c.order, value)
	}
	c.counts[value]++
}

func (c *counter) total() int {
	n := 0
	for _, v := range c.counts {
		n += v
	}
	return n
}

// top returns the K most frequent values, count descending, first-seen
// order on ties. Insertion sort keeps it stable.
func (c *counter) top() []ValueCount {
	out := make([]ValueCount, 0, len(c.order))
	for _, v := range c.order {
		out = append(out, ValueCount{Value: v, Count: c.counts[v]})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Count > out[j-1].Count; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}
