package bag

import (
	"sync"

	"github.com/buaaliyuan/readros/internal/debug"
	"github.com/buaaliyuan/readros/internal/errors"
)

// bagMode tracks the engine's open/close state machine: Idle is never
// observed from outside this package (a Bag is always returned already
// in one of the other states), Writing/writingChunk distinguish whether
// a chunk is currently open for append, and closed makes Write return
// ErrClosed and Close a no-op.
type bagMode int

const (
	modeBagIdle bagMode = iota
	modeBagReading
	modeBagWriting
	modeBagWritingChunk
	modeBagClosed
)

const (
	magicV2    = "#ROSBAG V2.0\n"
	versionMajor = 2
	versionMinor = 0

	// defaultChunkThreshold matches the upstream rosbag writer's default:
	// a chunk is closed once its uncompressed body crosses 768KiB.
	defaultChunkThreshold = 768 * 1024
)

// Options configures a Bag opened for writing or appending. The zero
// value selects no compression, the default chunk threshold, and no
// encryption.
type Options struct {
	Compression    CompressionType
	ChunkThreshold int
	Encryptor      Encryptor
	EncryptorName  string
}

func (o Options) withDefaults() Options {
	if o.Compression == "" {
		o.Compression = CompressionNone
	}
	if o.ChunkThreshold <= 0 {
		o.ChunkThreshold = defaultChunkThreshold
	}
	return o
}

// Bag is the bag storage engine: an open file handle plus every piece of
// in-memory state needed to service writes, reads, and random-access
// queries against it. A Bag is not safe for concurrent use from more
// than one goroutine; callers wanting overlapping access must serialize
// it themselves (see View for read-side fan-out across multiple Bags).
type Bag struct {
	mu sync.Mutex

	path string
	cf   *ChunkedFile
	mode bagMode

	compression    CompressionType
	chunkThreshold int
	streamFactory  *StreamFactory
	encryptor      Encryptor
	encryptorName  string
	// encryptorInit holds whatever InitForWriting returned (e.g. a salt),
	// persisted verbatim to the file header's "encryptor_init" field and
	// handed back to InitForReading on open/append.
	encryptorInit []byte

	fileHeaderPos int64
	indexDataPos  int64

	connections []*ConnectionInfo
	connByKey   map[string]*ConnectionInfo
	connIndex   map[uint32]*connectionIndex

	chunkInfos   []*ChunkInfo
	chunkByPos   map[uint64]*ChunkInfo
	curChunkInfo *ChunkInfo
	curChunkIdx  map[uint32]*connectionIndex

	headerBuf *Buffer
	bodyBuf   *Buffer
	chunkBuf  *Buffer

	cache *decompressCache

	// legacy is set once readLegacy ingests a version-1.2 file. Appending
	// to one is refused: the 1.2 layout has no index_data_pos trailer
	// boundary to truncate at, and this engine never emits 1.2 records.
	legacy bool

	// revision counts every accepted write. Nothing reads it back: a
	// View neither snapshots it nor compares against it, so a write made
	// while an iterator is live does not invalidate that iterator.
	revision uint64
}

func newBag(path string) *Bag {
	return &Bag{
		path:        path,
		connByKey:   make(map[string]*ConnectionInfo),
		connIndex:   make(map[uint32]*connectionIndex),
		chunkByPos:  make(map[uint64]*ChunkInfo),
		curChunkIdx: make(map[uint32]*connectionIndex),
		headerBuf:   NewBuffer(),
		bodyBuf:     NewBuffer(),
		chunkBuf:    NewBuffer(),
		cache:       newDecompressCache(),
	}
}

// Create opens path for writing, truncating any existing file.
func Create(path string, opts Options) (*Bag, error) {
	opts = opts.withDefaults()

	cf, err := OpenWrite(path)
	if err != nil {
		return nil, err
	}

	b := newBag(path)
	b.cf = cf
	b.mode = modeBagWriting
	b.compression = opts.Compression
	b.chunkThreshold = opts.ChunkThreshold
	b.streamFactory = &StreamFactory{}
	b.encryptor = opts.Encryptor
	b.encryptorName = opts.EncryptorName
	if b.encryptor == nil {
		b.encryptor = &NoopEncryptor{}
		b.encryptorName = "none"
	}

	initData, err := b.encryptor.InitForWriting()
	if err != nil {
		return nil, newBagException(errors.Wrap(err, "initialize encryptor"))
	}
	b.encryptorInit = initData

	if _, err := b.cf.Write([]byte(magicV2)); err != nil {
		return nil, err
	}
	b.fileHeaderPos = b.cf.Offset()
	if err := b.writePlaceholderFileHeader(); err != nil {
		return nil, err
	}

	debug.Log("bag: created %v compression=%v threshold=%v", path, b.compression, b.chunkThreshold)
	return b, nil
}

// Open opens an existing bag for read-only access.
func Open(path string, encryptor Encryptor) (*Bag, error) {
	cf, err := OpenRead(path)
	if err != nil {
		return nil, err
	}

	b := newBag(path)
	b.cf = cf
	b.mode = modeBagReading
	b.streamFactory = &StreamFactory{}
	b.encryptor = encryptor

	if err := b.readFile(); err != nil {
		cf.Close()
		return nil, err
	}

	debug.Log("bag: opened %v for read, %d connections, %d chunks", path, len(b.connections), len(b.chunkInfos))
	return b, nil
}

// OpenAppend opens an existing bag, ingests its trailer exactly as Open
// does, then truncates the trailer off the file and re-enters the
// writing state machine so further Write calls extend it.
func OpenAppend(path string, opts Options) (*Bag, error) {
	opts = opts.withDefaults()

	cf, err := OpenReadWrite(path)
	if err != nil {
		return nil, err
	}

	b := newBag(path)
	b.cf = cf
	b.mode = modeBagReading
	b.compression = opts.Compression
	b.chunkThreshold = opts.ChunkThreshold
	b.streamFactory = &StreamFactory{}
	b.encryptor = opts.Encryptor
	b.encryptorName = opts.EncryptorName
	if b.encryptor == nil {
		b.encryptor = &NoopEncryptor{}
		b.encryptorName = "none"
	}

	if err := b.readFile(); err != nil {
		cf.Close()
		return nil, err
	}
	if b.legacy {
		cf.Close()
		return nil, newBagException(errors.New("cannot append to a version-1.2 bag"))
	}

	if _, err := b.cf.Seek(b.indexDataPos, 0); err != nil {
		cf.Close()
		return nil, err
	}
	if err := b.cf.Truncate(b.indexDataPos); err != nil {
		cf.Close()
		return nil, err
	}

	// The chunk-info and connection-index state ingested from the
	// trailer remains valid: new chunks simply get appended to
	// b.chunkInfos and new connections to b.connections, connIndex.
	b.mode = modeBagWriting

	debug.Log("bag: opened %v for append at index_data_pos=%d", path, b.indexDataPos)
	return b, nil
}

// Close flushes any open chunk and the trailer (when writing), then
// closes the underlying file. Close is idempotent.
func (b *Bag) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mode == modeBagClosed {
		return nil
	}

	var closeErr error
	switch b.mode {
	case modeBagWriting, modeBagWritingChunk:
		closeErr = b.closeWriting()
	}

	if err := b.cf.Close(); err != nil && closeErr == nil {
		closeErr = err
	}
	b.mode = modeBagClosed
	return closeErr
}

func (b *Bag) checkNotClosed() error {
	if b.mode == modeBagClosed {
		return ErrClosed
	}
	return nil
}

// ConnectionCount returns the number of distinct connections recorded so
// far.
func (b *Bag) ConnectionCount() int { return len(b.connections) }

// ChunkCount returns the number of closed chunks.
func (b *Bag) ChunkCount() int { return len(b.chunkInfos) }

// Connections returns every known ConnectionInfo, in id order.
func (b *Bag) Connections() []*ConnectionInfo {
	out := make([]*ConnectionInfo, len(b.connections))
	copy(out, b.connections)
	return out
}

func (b *Bag) connectionByID(id uint32) (*ConnectionInfo, error) {
	if int(id) >= len(b.connections) {
		return nil, newBagFormatException(errors.Errorf("unknown connection id %d", id))
	}
	return b.connections[id], nil
}

// ChunkInfos returns a summary of every closed chunk, in file order. It
// is empty for a legacy (version 1.2) bag, which has no chunks.
func (b *Bag) ChunkInfos() []*ChunkInfo {
	out := make([]*ChunkInfo, len(b.chunkInfos))
	copy(out, b.chunkInfos)
	return out
}

// MessageCounts tallies, per connection id, how many messages the
// trailer's chunk-info records claim that connection holds. For a
// legacy bag it instead tallies the in-memory per-connection index
// built from the file's topic-index records.
func (b *Bag) MessageCounts() map[uint32]int {
	counts := make(map[uint32]int, len(b.connections))
	if b.legacy {
		for id, idx := range b.connIndex {
			counts[id] = idx.len()
		}
		return counts
	}
	for _, ci := range b.chunkInfos {
		for connID, n := range ci.ConnectionCounts {
			counts[connID] += int(n)
		}
	}
	return counts
}
