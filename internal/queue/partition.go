package queue

import (
	"sort"
	"time"
)

// Partition sorts and de-duplicates keys, then splits them into contiguous
// batches of size, numbered from 1. Every returned entry is pending.
func Partition(keys []string, runDate time.Time, size int) []Entry {
	if size <= 0 || len(keys) == 0 {
		return nil
	}

	sorted := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	day := Day(runDate)
	entries := make([]Entry, len(sorted))
	for i, k := range sorted {
		entries[i] = Entry{
			EntityKey:   k,
			RunDate:     day,
			BatchNumber: i/size + 1,
			Status:      StatusPending,
		}
	}
	return entries
}

// BatchCount is ceil(n/size).
func BatchCount(n, size int) int {
	if n <= 0 || size <= 0 {
		return 0
	}
	return (n + size - 1) / size
}
