package bag

import "testing"

func TestConnectionIndexSortedByTimeStableOnTies(t *testing.T) {
	idx := &connectionIndex{}
	idx.add(IndexEntry{Time: Time{Sec: 5}, Offset: 1})
	idx.add(IndexEntry{Time: Time{Sec: 1}, Offset: 2})
	idx.add(IndexEntry{Time: Time{Sec: 5}, Offset: 3}) // tie with the first entry, inserted later
	idx.add(IndexEntry{Time: Time{Sec: 3}, Offset: 4})

	got := idx.sorted()
	wantOffsets := []uint32{2, 4, 1, 3}
	if len(got) != len(wantOffsets) {
		t.Fatalf("sorted() returned %d entries, want %d", len(got), len(wantOffsets))
	}
	for i, e := range got {
		if e.Offset != wantOffsets[i] {
			t.Fatalf("entry %d offset = %d, want %d (order: %v)", i, e.Offset, wantOffsets[i], got)
		}
	}
}

func TestConnectionIndexLenNilSafe(t *testing.T) {
	var idx *connectionIndex
	if idx.len() != 0 {
		t.Fatalf("nil connectionIndex.len() = %d, want 0", idx.len())
	}
	if idx.sorted() != nil {
		t.Fatal("nil connectionIndex.sorted() should be nil")
	}
}

func TestConnectionIndexSortedDoesNotMutateOriginal(t *testing.T) {
	idx := &connectionIndex{}
	idx.add(IndexEntry{Time: Time{Sec: 2}})
	idx.add(IndexEntry{Time: Time{Sec: 1}})

	_ = idx.sorted()
	if idx.entries[0].Time.Sec != 2 {
		t.Fatal("sorted() mutated the insertion-ordered backing slice")
	}
}
