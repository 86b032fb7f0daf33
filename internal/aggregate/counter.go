package aggregate

import "sort"

// counter counts keys and remembers first-seen order so that ties rank by
// first appearance.
type counter struct {
	order  []string
	counts map[string]int
}

type keyCount struct {
	key   string
	count int
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(key string) {
	if _, ok := c.counts[key]; !ok {
		c.order = append(c.order, key)
	}
	c.counts[key]++
}

func (c *counter) len() int {
	return len(c.order)
}

func (c *counter) asMap() map[string]int {
	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// mostCommon returns up to n keys by descending count.
func (c *counter) mostCommon(n int) []keyCount {
	ranked := make([]keyCount, 0, len(c.order))
	for _, k := range c.order {
		ranked = append(ranked, keyCount{key: k, count: c.counts[k]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].count > ranked[j].count
	})
	if n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}
