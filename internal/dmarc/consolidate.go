package dmarc

// Consolidator merges evaluated records sharing the same Key. The first
// record of a key keeps its display fields and note, later ones only add
// their count. Records come out in first seen order.
//
// A Consolidator is not safe for concurrent use.
type Consolidator struct {
	index   map[Key]int
	records []EvaluatedRecord
}

func NewConsolidator() *Consolidator {
	return &Consolidator{
		index: make(map[Key]int),
	}
}

// Add merges r into the consolidated set.
func (c *Consolidator) Add(r EvaluatedRecord) {
	key := r.Key()
	if i, ok := c.index[key]; ok {
		c.records[i].Count += r.Count
		return
	}
	c.index[key] = len(c.records)
	c.records = append(c.records, r)
}

// Merge adds all records of other in their order. Merging partial results
// in a stable order gives the same output as adding every record to one
// Consolidator.
func (c *Consolidator) Merge(other *Consolidator) {
	for _, r := range other.records {
		c.Add(r)
	}
}

// Len returns the number of distinct keys.
func (c *Consolidator) Len() int {
	return len(c.records)
}

// Records returns a copy of the consolidated records.
func (c *Consolidator) Records() []EvaluatedRecord {
	ret := make([]EvaluatedRecord, len(c.records))
	copy(ret, c.records)
	return ret
}

// Consolidate merges records with equal keys summing their counts.
func Consolidate(records []EvaluatedRecord) []EvaluatedRecord {
	c := NewConsolidator()
	for _, r := range records {
		c.Add(r)
	}
	return c.Records()
}

// TotalCount sums the message counts of records.
func TotalCount(records []EvaluatedRecord) int {
	total := 0
	for _, r := range records {
		total += r.Count
	}
	return total
}
