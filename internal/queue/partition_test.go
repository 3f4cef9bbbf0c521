package queue

import (
	"fmt"
	"testing"
	"time"
)

var runDate = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

func TestPartition_Example(t *testing.T) {
	entries := Partition([]string{"CCC", "AAA", "BBB"}, runDate, 2)

	want := []struct {
		key   string
		batch int
	}{{"AAA", 1}, {"BBB", 1}, {"CCC", 2}}

	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, w := range want {
		e := entries[i]
		if e.EntityKey != w.key || e.BatchNumber != w.batch {
			t.Errorf("entry %d: expected %s/%d, got %s/%d", i, w.key, w.batch, e.EntityKey, e.BatchNumber)
		}
		if e.Status != StatusPending {
			t.Errorf("entry %d: expected pending, got %s", i, e.Status)
		}
		if !e.RunDate.Equal(runDate) {
			t.Errorf("entry %d: unexpected run date %s", i, e.RunDate)
		}
	}
}

func TestPartition_Completeness(t *testing.T) {
	for _, tc := range []struct{ n, size int }{
		{1, 50}, {49, 50}, {50, 50}, {51, 50}, {237, 50}, {10, 3}, {7, 1},
	} {
		t.Run(fmt.Sprintf("n=%d/size=%d", tc.n, tc.size), func(t *testing.T) {
			keys := make([]string, tc.n)
			for i := range keys {
				keys[i] = fmt.Sprintf("S%04d", tc.n-i) // reverse order on purpose
			}

			entries := Partition(keys, runDate, tc.size)
			if len(entries) != tc.n {
				t.Fatalf("expected %d entries, got %d", tc.n, len(entries))
			}

			seen := make(map[string]bool, tc.n)
			perBatch := make(map[int]int)
			prev := ""
			for _, e := range entries {
				if seen[e.EntityKey] {
					t.Fatalf("duplicate key %s", e.EntityKey)
				}
				seen[e.EntityKey] = true
				if e.EntityKey <= prev {
					t.Fatalf("keys not sorted: %s after %s", e.EntityKey, prev)
				}
				prev = e.EntityKey
				perBatch[e.BatchNumber]++
			}

			batches := BatchCount(tc.n, tc.size)
			if len(perBatch) != batches {
				t.Fatalf("expected %d batches, got %d", batches, len(perBatch))
			}
			for b := 1; b <= batches; b++ {
				count, ok := perBatch[b]
				if !ok {
					t.Fatalf("batch %d missing, numbering not contiguous", b)
				}
				if b < batches && count != tc.size {
					t.Errorf("batch %d: expected %d entries, got %d", b, tc.size, count)
				}
			}
		})
	}
}

func TestPartition_DropsDuplicatesAndBlanks(t *testing.T) {
	entries := Partition([]string{"MSFT", "", "AAPL", "MSFT"}, runDate, 50)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].EntityKey != "AAPL" || entries[1].EntityKey != "MSFT" {
		t.Errorf("unexpected order: %s, %s", entries[0].EntityKey, entries[1].EntityKey)
	}
}

func TestPartition_Empty(t *testing.T) {
	if got := Partition(nil, runDate, 50); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
	if got := Partition([]string{"AAPL"}, runDate, 0); got != nil {
		t.Errorf("expected nil for zero size, got %v", got)
	}
}

func TestBatchCount(t *testing.T) {
	tests := []struct{ n, size, want int }{
		{0, 50, 0}, {1, 50, 1}, {50, 50, 1}, {51, 50, 2}, {3, 2, 2}, {5, 0, 0},
	}
	for _, tt := range tests {
		if got := BatchCount(tt.n, tt.size); got != tt.want {
			t.Errorf("BatchCount(%d, %d): expected %d, got %d", tt.n, tt.size, tt.want, got)
		}
	}
}

func TestStats_SuccessRate(t *testing.T) {
	var s Stats
	if s.SuccessRate() != 0 {
		t.Errorf("expected 0 for empty stats")
	}
	s.Add(StatusCompleted, 3)
	s.Add(StatusFailed, 1)
	s.Add(StatusPending, 6)
	if s.Total != 10 {
		t.Errorf("expected total 10, got %d", s.Total)
	}
	if s.SuccessRate() != 75 {
		t.Errorf("expected 75%%, got %f", s.SuccessRate())
	}
}
