package main

import (
	"sort"
)

// Batch is the normalized output of one source document.
type Batch struct {
	Source  string
	Records []Record
}

// Merged is the union of all batches in time order. Columns lists, in
// declared order, every column that carries a value in at least one batch.
type Merged struct {
	Columns []string
	Records []Record
}

// populatedColumns returns the columns that are non-nil in at least one
// record of the batch. Columns that are null throughout a batch do not
// contribute to the merged column set.
func (b Batch) populatedColumns() map[string]bool {
	cols := make(map[string]bool)
	for _, c := range columns {
		for i := range b.Records {
			if c.value(&b.Records[i]) != nil {
				cols[c.name] = true
				break
			}
		}
	}
	return cols
}

// Merge concatenates the non-empty batches in the order given and sorts the
// result by point_time, else start_time, else end_time. Untimed records sort
// after all timed ones; ties keep arrival order. If no record is timed the
// concatenation is returned as is.
func Merge(batches []Batch) Merged {
	var m Merged
	present := make(map[string]bool)

	for _, b := range batches {
		if len(b.Records) == 0 {
			continue
		}
		for name := range b.populatedColumns() {
			present[name] = true
		}
		m.Records = append(m.Records, b.Records...)
	}

	for _, c := range columns {
		if present[c.name] {
			m.Columns = append(m.Columns, c.name)
		}
	}

	anyTimed := false
	for i := range m.Records {
		if _, ok := m.Records[i].SortTime(); ok {
			anyTimed = true
			break
		}
	}
	if !anyTimed {
		return m
	}

	sort.SliceStable(m.Records, func(i, j int) bool {
		ti, oki := m.Records[i].SortTime()
		tj, okj := m.Records[j].SortTime()
		switch {
		case oki && okj:
			return ti.Before(tj)
		case oki:
			return true
		default:
			return false
		}
	})
	return m
}
