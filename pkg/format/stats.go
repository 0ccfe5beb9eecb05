package format

import (
	"tablestream/pkg/types"
)

// KeyStats holds per key field statistics of a data file. Min and Max are
// encoded rows with one value per key field; a field that is NULL in every
// record has NULL bounds.
type KeyStats struct {
	Min        []byte  `json:"min"`
	Max        []byte  `json:"max"`
	NullCounts []int64 `json:"nullCounts"`
}

// Decode returns the bounds as rows.
func (s KeyStats) Decode() (min types.Row, max types.Row, err error) {
	if min, err = types.DecodeRow(s.Min); err != nil {
		return
	}
	max, err = types.DecodeRow(s.Max)
	return
}

type statsCollector struct {
	min, max   []any
	nullCounts []int64
}

func newStatsCollector(arity int) *statsCollector {
	return &statsCollector{
		min:        make([]any, arity),
		max:        make([]any, arity),
		nullCounts: make([]int64, arity),
	}
}

func (c *statsCollector) collect(key types.Row) {
	for i, v := range key.Values {
		if v == nil {
			c.nullCounts[i]++
			continue
		}
		if c.min[i] == nil || types.CompareValues(v, c.min[i]) < 0 {
			c.min[i] = v
		}
		if c.max[i] == nil || types.CompareValues(v, c.max[i]) > 0 {
			c.max[i] = v
		}
	}
}

func (c *statsCollector) result() KeyStats {
	return KeyStats{
		Min:        types.EncodeRow(types.InsertRow(c.min...)),
		Max:        types.EncodeRow(types.InsertRow(c.max...)),
		NullCounts: c.nullCounts,
	}
}
