package bag

// ChunkInfo summarizes one physical chunk. Pos is the absolute byte
// offset of the chunk record (its header, not its data), which is also
// the value every IndexEntry.ChunkPos belonging to this chunk carries.
type ChunkInfo struct {
	StartTime        Time
	EndTime          Time
	Pos              uint64
	ConnectionCounts map[uint32]uint32

	hasEntry bool
}

func newChunkInfo(pos uint64) *ChunkInfo {
	return &ChunkInfo{
		Pos:              pos,
		ConnectionCounts: make(map[uint32]uint32),
	}
}

// observe records one message's arrival in this chunk, bumping its
// connection count and widening [StartTime, EndTime].
func (ci *ChunkInfo) observe(connID uint32, t Time) {
	ci.ConnectionCounts[connID]++

	if !ci.hasEntry {
		ci.StartTime = t
		ci.EndTime = t
		ci.hasEntry = true
		return
	}
	ci.StartTime = minTime(ci.StartTime, t)
	ci.EndTime = maxTime(ci.EndTime, t)
}
