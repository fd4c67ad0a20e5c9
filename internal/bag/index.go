package bag

import "sort"

// IndexEntry locates one message: its timestamp, the absolute byte offset
// of the chunk record that holds it, and the byte offset of the message
// record within that chunk's uncompressed body.
type IndexEntry struct {
	Time     Time
	ChunkPos uint64
	Offset   uint32
}

// connectionIndex accumulates IndexEntry values in insertion order. A
// stable sort by Time over an insertion-ordered slice reproduces an
// ordered set with insertion-order tie-break, so the index never needs a
// dedicated ordered-set data structure: it appends in write order and is
// sorted only when something needs to read it back in time order.
type connectionIndex struct {
	entries []IndexEntry
}

func (c *connectionIndex) add(e IndexEntry) {
	c.entries = append(c.entries, e)
}

func (c *connectionIndex) len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// sorted returns a time-ordered copy of the accumulated entries, with
// ties broken by original insertion order.
func (c *connectionIndex) sorted() []IndexEntry {
	if c == nil {
		return nil
	}
	out := make([]IndexEntry, len(c.entries))
	copy(out, c.entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out
}
