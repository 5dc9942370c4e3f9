package megatexture

import (
	"go.uber.org/zap"
)

// Cache defaults.
const (
	DefaultCacheEntries        = 1024
	DefaultQueueDepth          = 64
	DefaultMaxRequestsPerFrame = 32

	hashMultiplier = 1160939981
	noSlot         = -1
)

// SlotState is the lifecycle stage of a cache slot.
type SlotState uint8

const (
	// SlotEmpty has never been loaded.
	SlotEmpty SlotState = iota
	// SlotLoading has a transfer in flight.
	SlotLoading
	// SlotResident holds valid tile data and may be evicted.
	SlotResident
	// SlotPinned was preloaded and is never evicted.
	SlotPinned
)

func (s SlotState) String() string {
	switch s {
	case SlotEmpty:
		return "empty"
	case SlotLoading:
		return "loading"
	case SlotResident:
		return "resident"
	case SlotPinned:
		return "pinned"
	}
	return "unknown"
}

// TileRef is what a draw command needs to sample a cached tile: the slot
// holding the pixels and the tile coordinates those pixels belong to.
type TileRef struct {
	Slot int
	X, Y int
	Lod  int
}

// BlankTile is returned when nothing can be drawn for a tile this frame.
var BlankTile = TileRef{Slot: noSlot}

// Blank reports whether the ref has no tile data.
func (r TileRef) Blank() bool {
	return r.Slot < 0
}

// CacheConfig sizes a TileCache.
type CacheConfig struct {
	Entries             int
	QueueDepth          int
	MaxRequestsPerFrame int
}

// DefaultCacheConfig returns the default cache sizes.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Entries:             DefaultCacheEntries,
		QueueDepth:          DefaultQueueDepth,
		MaxRequestsPerFrame: DefaultMaxRequestsPerFrame,
	}
}

type cacheSlot struct {
	newer, older int
	nextHash     int
	hashIndex    int

	addr       TileAddr
	state      SlotState
	pinned     bool
	pending    int
	generation uint32
	lastFrame  uint64
	ref        TileRef
}

// TileCache keeps a fixed number of tiles resident. Slots not pinned by
// Preload form an LRU list; slots touched in the current or previous frame
// are never evicted. Misses are loaded through a Bus with a bounded number
// of transfers in flight.
//
// A TileCache is owned by the render goroutine and is not safe for
// concurrent use.
type TileCache struct {
	cfg CacheConfig
	bus Bus
	log *zap.Logger

	slots []cacheSlot
	data  []byte

	hashTable []int
	hashMask  uint32

	oldest, newest int

	// oldestFromFrame[0] is the least recently used slot touched this
	// frame, [1] the one from the previous frame.
	oldestFromFrame [2]int

	done    chan Completion
	pending int

	frame       uint64
	requests    int
	stats       CacheStats
	lruSlots    int
	pinnedSlots int
}

// NewTileCache allocates every slot up front. Zero config values fall back
// to the defaults.
func NewTileCache(cfg CacheConfig, bus Bus, log *zap.Logger) *TileCache {
	defaults := DefaultCacheConfig()
	if cfg.Entries <= 0 {
		cfg.Entries = defaults.Entries
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaults.QueueDepth
	}
	if cfg.MaxRequestsPerFrame <= 0 {
		cfg.MaxRequestsPerFrame = defaults.MaxRequestsPerFrame
	}
	if log == nil {
		log = zap.NewNop()
	}

	hashSize := 1
	for hashSize < cfg.Entries {
		hashSize <<= 1
	}
	hashSize <<= 1

	c := &TileCache{
		cfg:             cfg,
		bus:             bus,
		log:             log,
		slots:           make([]cacheSlot, cfg.Entries),
		data:            make([]byte, cfg.Entries*TileBytes),
		hashTable:       make([]int, hashSize),
		hashMask:        uint32(hashSize - 1),
		oldest:          0,
		newest:          cfg.Entries - 1,
		oldestFromFrame: [2]int{noSlot, noSlot},
		done:            make(chan Completion, cfg.QueueDepth),
		lruSlots:        cfg.Entries,
	}

	for i := range c.hashTable {
		c.hashTable[i] = noSlot
	}

	for i := range c.slots {
		s := &c.slots[i]
		s.newer = i + 1
		if i == cfg.Entries-1 {
			s.newer = noSlot
		}
		s.older = i - 1
		s.nextHash = noSlot
		s.hashIndex = noSlot
		s.ref = TileRef{Slot: i}
	}

	log.Debug("tile cache created",
		zap.Int("entries", cfg.Entries),
		zap.Int("hash_size", hashSize),
		zap.Int("queue_depth", cfg.QueueDepth),
		zap.Int("bytes", len(c.data)))

	return c
}

// Entries returns the number of slots.
func (c *TileCache) Entries() int {
	return len(c.slots)
}

// Config returns the effective configuration.
func (c *TileCache) Config() CacheConfig {
	return c.cfg
}

// TileData returns the pixel bytes of a slot.
func (c *TileCache) TileData(slot int) []byte {
	return c.data[slot*TileBytes : (slot+1)*TileBytes]
}

// Generation returns a counter that changes every time new data lands in
// the slot.
func (c *TileCache) Generation(slot int) uint32 {
	return c.slots[slot].generation
}

// State returns the lifecycle stage of a slot.
func (c *TileCache) State(slot int) SlotState {
	return c.slots[slot].state
}

// Pending returns the number of transfers in flight.
func (c *TileCache) Pending() int {
	return c.pending
}

func (c *TileCache) hash(addr TileAddr) int {
	return int((uint32(addr>>tileAddrShift) * hashMultiplier) & c.hashMask)
}

func (c *TileCache) touch(slot int) {
	s := &c.slots[slot]
	if !s.pinned && s.lastFrame != c.frame {
		s.lastFrame = c.frame
		c.stats.Touched++
	}
}

// search looks the address up and marks a hit as most recently used.
func (c *TileCache) search(addr TileAddr, hashIndex int) int {
	for i := c.hashTable[hashIndex]; i != noSlot; i = c.slots[i].nextHash {
		if c.slots[i].addr == addr && c.slots[i].state != SlotEmpty {
			c.markMostRecent(i)
			return i
		}
	}
	return noSlot
}

func (c *TileCache) markMostRecent(slot int) {
	s := &c.slots[slot]

	if s.pinned {
		return
	}

	if s.newer == noSlot {
		// already the newest
		if c.oldestFromFrame[0] == noSlot {
			c.oldestFromFrame[0] = slot
		}
		return
	}

	// the slot leaves its place, so the next newer one becomes the oldest
	// touched in that frame
	for i := range c.oldestFromFrame {
		if c.oldestFromFrame[i] == slot {
			c.oldestFromFrame[i] = s.newer
		}
	}
	if c.oldestFromFrame[0] == noSlot {
		c.oldestFromFrame[0] = slot
	}

	c.unlink(slot)
	c.pushNewest(slot)
}

func (c *TileCache) unlink(slot int) {
	s := &c.slots[slot]

	if s.older == noSlot {
		c.oldest = s.newer
	} else {
		c.slots[s.older].newer = s.newer
	}

	if s.newer == noSlot {
		c.newest = s.older
	} else {
		c.slots[s.newer].older = s.older
	}

	s.newer = noSlot
	s.older = noSlot
}

func (c *TileCache) pushNewest(slot int) {
	s := &c.slots[slot]

	s.older = c.newest
	s.newer = noSlot

	if c.newest == noSlot {
		c.oldest = slot
	} else {
		c.slots[c.newest].newer = slot
	}
	c.newest = slot
}

func (c *TileCache) hashInsert(slot, hashIndex int) {
	s := &c.slots[slot]
	s.nextHash = c.hashTable[hashIndex]
	s.hashIndex = hashIndex
	c.hashTable[hashIndex] = slot
}

func (c *TileCache) hashRemove(slot int) {
	s := &c.slots[slot]
	if s.hashIndex == noSlot {
		return
	}

	prev := noSlot
	for i := c.hashTable[s.hashIndex]; i != slot; i = c.slots[i].nextHash {
		prev = i
	}

	if prev == noSlot {
		c.hashTable[s.hashIndex] = s.nextHash
	} else {
		c.slots[prev].nextHash = s.nextHash
	}

	s.hashIndex = noSlot
	s.nextHash = noSlot
}

// removeOldest takes the least recently used slot out of the LRU list and
// the hash table. It refuses slots touched in this or the previous frame.
func (c *TileCache) removeOldest() int {
	slot := c.oldest

	if slot == noSlot || slot == c.oldestFromFrame[0] || slot == c.oldestFromFrame[1] {
		return noSlot
	}

	c.hashRemove(slot)
	c.unlink(slot)

	return slot
}

// add makes slot the newest entry and indexes it.
func (c *TileCache) add(slot, hashIndex int) {
	if c.oldestFromFrame[0] == noSlot {
		c.oldestFromFrame[0] = slot
	}
	c.pushNewest(slot)
	c.hashInsert(slot, hashIndex)
}

// load starts a transfer into slot. When the queue is full it first blocks
// on the oldest outstanding completion.
func (c *TileCache) load(slot int, addr TileAddr, x, y, lod int) {
	s := &c.slots[slot]
	s.addr = addr
	s.ref = TileRef{Slot: slot, X: x, Y: y, Lod: lod}

	if c.pending == c.cfg.QueueDepth {
		c.complete(<-c.done)
	}

	s.state = SlotLoading
	s.pending++
	c.pending++
	c.stats.Loads++

	c.bus.Submit(Transfer{Slot: slot, Addr: addr, Dst: c.TileData(slot)}, c.done)
}

func (c *TileCache) complete(done Completion) {
	c.pending--

	s := &c.slots[done.Slot]
	s.pending--

	if done.Err != nil {
		c.stats.BusErrors++
	}

	if s.pending > 0 {
		return
	}

	if s.pinned {
		s.state = SlotPinned
	} else {
		s.state = SlotResident
	}
	s.generation++
}

// RequestTile returns the slot for tile (x, y) of layer lod. On a miss it
// loads the tile if the frame budget allows and a slot can be evicted;
// otherwise it returns the nearest coarser resident tile covering the same
// area, or BlankTile. It never fails and only blocks when the transfer
// queue is full.
func (c *TileCache) RequestTile(surface *Surface, x, y, lod int) TileRef {
	c.stats.Requests++

	image := &surface.Layers[lod].Image
	addr := image.TileAddr(x, y)
	hashIndex := c.hash(addr)

	if slot := c.search(addr, hashIndex); slot != noSlot {
		c.stats.Hits++
		c.touch(slot)
		return c.slots[slot].ref
	}

	c.stats.Misses++

	slot := noSlot
	if c.requests < c.cfg.MaxRequestsPerFrame {
		slot = c.removeOldest()
	}

	if slot == noSlot {
		for lod+1 < len(surface.Layers) {
			lod++
			x >>= 1
			y >>= 1

			addr = surface.Layers[lod].Image.TileAddr(x, y)
			if found := c.search(addr, c.hash(addr)); found != noSlot {
				c.stats.Fallbacks++
				c.touch(found)
				return c.slots[found].ref
			}
		}

		c.stats.Blanks++
		return BlankTile
	}

	c.requests++
	c.add(slot, hashIndex)
	c.touch(slot)
	c.load(slot, addr, x, y, lod)

	return c.slots[slot].ref
}

// PreloadTile loads tile (x, y) of layer lod into a slot that is never
// evicted. It ignores the frame budget. It returns false when no slot is
// left to pin.
func (c *TileCache) PreloadTile(surface *Surface, x, y, lod int) bool {
	addr := surface.Layers[lod].Image.TileAddr(x, y)
	hashIndex := c.hash(addr)

	if c.search(addr, hashIndex) != noSlot {
		return true
	}

	slot := c.removeOldest()
	if slot == noSlot {
		return false
	}

	c.slots[slot].pinned = true
	c.lruSlots--
	c.pinnedSlots++

	c.hashInsert(slot, hashIndex)
	c.load(slot, addr, x, y, lod)

	return true
}

// WaitForTiles blocks until every outstanding transfer has completed.
func (c *TileCache) WaitForTiles() {
	for c.pending > 0 {
		c.complete(<-c.done)
	}
}

// FrameStart begins a new frame: the current frame's protection window
// becomes the previous one and the load budget is reset.
func (c *TileCache) FrameStart() {
	c.frame++
	c.oldestFromFrame[1] = c.oldestFromFrame[0]
	c.oldestFromFrame[0] = noSlot
	c.requests = 0
	c.stats = CacheStats{}
}

// FrameEnd waits for the frame's transfers and returns its statistics.
// After it returns every slot referenced this frame holds valid data.
func (c *TileCache) FrameEnd() CacheStats {
	c.WaitForTiles()

	stats := c.stats
	stats.Budget = c.cfg.MaxRequestsPerFrame
	stats.LRUSlots = c.lruSlots
	stats.Pinned = c.pinnedSlots

	return stats
}
