package storage

import "sort"

// sortRecords orders records by creation time, then value, so backends
// without a natural row order still rotate deterministically.
func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].Value < recs[j].Value
	})
}
