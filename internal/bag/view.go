package bag

import (
	"container/heap"
	"context"

	"github.com/buaaliyuan/readros/internal/errors"

	"golang.org/x/sync/errgroup"
)

// Query selects which connections and time window a View draws messages
// from. The zero value matches every connection over all time.
type Query struct {
	Predicate func(*ConnectionInfo) bool
	HasStart  bool
	StartTime Time
	HasEnd    bool
	EndTime   Time
}

// NewQuery returns a Query restricted to connections predicate accepts.
// A nil predicate matches every connection.
func NewQuery(predicate func(*ConnectionInfo) bool) Query {
	return Query{Predicate: predicate}
}

// WithStartTime restricts the query to entries at or after t.
func (q Query) WithStartTime(t Time) Query {
	q.HasStart = true
	q.StartTime = t
	return q
}

// WithEndTime restricts the query to entries at or before t.
func (q Query) WithEndTime(t Time) Query {
	q.HasEnd = true
	q.EndTime = t
	return q
}

func (q Query) accepts(conn *ConnectionInfo) bool {
	return q.Predicate == nil || q.Predicate(conn)
}

func (q Query) filter(entries []IndexEntry) []IndexEntry {
	if !q.HasStart && !q.HasEnd {
		return entries
	}
	out := make([]IndexEntry, 0, len(entries))
	for _, e := range entries {
		if q.HasStart && e.Time.Before(q.StartTime) {
			continue
		}
		if q.HasEnd && e.Time.After(q.EndTime) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// MessageInstance is one message dereferenced from a View: its
// originating connection, its recorded time, and its raw serialized
// bytes. Use Instantiate to turn Data into a typed value.
type MessageInstance struct {
	Connection *ConnectionInfo
	Time       Time
	Data       []byte
}

// Instantiate decodes a MessageInstance into a *T, rejecting the decode
// if the connection's declared md5sum doesn't match what T reports for
// itself (no check is made when either md5sum is empty). T must be a struct type whose pointer implements Decodable;
// this is expressed as a second type parameter rather than a method
// constraint on T itself because Go generics have no way to name
// "pointer to T implements an interface" any other way.
func Instantiate[T any, PT interface {
	*T
	Decodable
}](mi MessageInstance) (*T, error) {
	var out T
	p := PT(&out)

	if mi.Connection != nil && mi.Connection.MD5Sum != "" && p.MD5Sum() != "" && mi.Connection.MD5Sum != p.MD5Sum() {
		return nil, newBagException(errors.Errorf(
			"message on topic %q has md5sum %q, target type wants %q",
			mi.Connection.Topic, mi.Connection.MD5Sum, p.MD5Sum()))
	}

	if err := p.UnmarshalBag(mi.Data); err != nil {
		return nil, errors.Wrap(err, "unmarshal message")
	}
	return &out, nil
}

// cursor walks one connection's time-ordered entries within one bag.
type cursor struct {
	bagIndex int
	bag      *Bag
	conn     *ConnectionInfo
	entries  []IndexEntry
	pos      int
}

func (c *cursor) peek() (IndexEntry, bool) {
	if c.pos >= len(c.entries) {
		return IndexEntry{}, false
	}
	return c.entries[c.pos], true
}

// cursorHeap is a min-heap over cursors ordered by their next entry's
// time, then by bag order, then by connection id, then by position —
// the last two only ever matter for a genuine timestamp tie, and
// position breaks it in favor of whichever entry was recorded first.
type cursorHeap []*cursor

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	ei, _ := h[i].peek()
	ej, _ := h[j].peek()
	if c := ei.Time.Compare(ej.Time); c != 0 {
		return c < 0
	}
	if h[i].bagIndex != h[j].bagIndex {
		return h[i].bagIndex < h[j].bagIndex
	}
	if h[i].conn.ID != h[j].conn.ID {
		return h[i].conn.ID < h[j].conn.ID
	}
	return h[i].pos < h[j].pos
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x any) { *h = append(*h, x.(*cursor)) }

func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// View merges one or more (Bag, Query) sources into a single
// time-ordered message stream. Adding the same Bag twice, or bags whose
// time ranges overlap, works the same way the merge at query time
// always has: entries interleave by time regardless of which bag they
// came from.
type View struct {
	bags    []*Bag
	queries []Query
}

// NewView returns an empty View. Add sources to it with Add before
// calling Iterator.
func NewView() *View {
	return &View{}
}

// Add includes b's messages matching q in the view. b must already be
// open for reading (or appending); View never closes bags it did not
// open itself.
func (v *View) Add(b *Bag, q Query) {
	v.bags = append(v.bags, b)
	v.queries = append(v.queries, q)
}

// Iterator builds a fresh merge cursor over every source added so far.
// Sources added after Iterator returns are not reflected in it.
func (v *View) Iterator() *Iterator {
	it := &Iterator{}
	for bagIndex, b := range v.bags {
		q := v.queries[bagIndex]
		for _, conn := range b.connections {
			if conn == nil || !q.accepts(conn) {
				continue
			}
			entries := q.filter(b.connIndex[conn.ID].sorted())
			if len(entries) == 0 {
				continue
			}
			it.h = append(it.h, &cursor{bagIndex: bagIndex, bag: b, conn: conn, entries: entries})
		}
	}
	heap.Init(&it.h)
	return it
}

// Iterator walks a View's merged message stream in ascending time order.
// It is not safe for concurrent use.
type Iterator struct {
	h cursorHeap
}

// Next returns the next message in time order, or ok=false once the
// view is exhausted.
func (it *Iterator) Next() (mi MessageInstance, ok bool, err error) {
	if it.h.Len() == 0 {
		return MessageInstance{}, false, nil
	}

	top := it.h[0]
	entry, has := top.peek()
	if !has {
		heap.Pop(&it.h)
		return it.Next()
	}

	payload, conn, err := top.bag.materialize(entry)
	if err != nil {
		return MessageInstance{}, false, err
	}

	top.pos++
	if _, more := top.peek(); more {
		heap.Fix(&it.h, 0)
	} else {
		heap.Pop(&it.h)
	}

	return MessageInstance{Connection: conn, Time: entry.Time, Data: payload}, true, nil
}

// OpenMultiView opens every path concurrently and returns a View over
// all of them plus the opened Bags, which the caller owns and must
// Close. On any open failure, every bag opened so far is closed and the
// error is returned.
func OpenMultiView(ctx context.Context, paths []string, q Query) (*View, []*Bag, error) {
	bags := make([]*Bag, len(paths))

	g, _ := errgroup.WithContext(ctx)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			b, err := Open(p, nil)
			if err != nil {
				return errors.Wrapf(err, "open %v", p)
			}
			bags[i] = b
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, b := range bags {
			if b != nil {
				b.Close()
			}
		}
		return nil, nil, err
	}

	v := NewView()
	for _, b := range bags {
		v.Add(b, q)
	}
	return v, bags, nil
}
