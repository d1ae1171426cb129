package dispatch

import (
	"context"
	"testing"

	"github.com/quietloop/riftpull/internal/rangeset"
)

func TestPlanSplitsLongTail(t *testing.T) {
	remaining := []rangeset.Range{{Start: 0, End: 1000}}
	chunks := Plan(remaining, 4, 10)

	var total uint64
	for _, c := range chunks {
		total += c.Len()
	}
	if total != 1000 {
		t.Fatalf("total = %d, want 1000", total)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected the long range to be split, got %v", chunks)
	}
}

func TestPlanNeverBelowMinChunkSize(t *testing.T) {
	remaining := []rangeset.Range{{Start: 0, End: 25}}
	chunks := Plan(remaining, 8, 10)

	for _, c := range chunks {
		if c.Len() < 10 {
			t.Fatalf("chunk %v shorter than min_chunk_size", c)
		}
	}
}

func TestPlanShortRangeUnsplit(t *testing.T) {
	remaining := []rangeset.Range{{Start: 100, End: 105}}
	chunks := Plan(remaining, 4, 10)
	if len(chunks) != 1 || chunks[0] != remaining[0] {
		t.Fatalf("got %v, want unsplit single range", chunks)
	}
}

func TestQueueDeliversAllChunks(t *testing.T) {
	chunks := []rangeset.Range{{Start: 0, End: 10}, {Start: 10, End: 20}}
	out := Queue(context.Background(), chunks, 2, 4)

	var got []Chunk
	for c := range out {
		got = append(got, c)
	}
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
}
