package megatexture

// CacheStats counts what the tile cache did during one frame.
type CacheStats struct {
	Requests  int `json:"requests"`
	Hits      int `json:"hits"`
	Misses    int `json:"misses"`
	Loads     int `json:"loads"`
	Fallbacks int `json:"fallbacks"` // served by a coarser resident tile
	Blanks    int `json:"blanks"`
	Touched   int `json:"touched"`
	BusErrors int `json:"bus_errors"`

	// Budget is the per-frame load limit. LRUSlots is the number of
	// evictable slots.
	Budget   int `json:"budget"`
	LRUSlots int `json:"lru_slots"`
	Pinned   int `json:"pinned"`
}

// FrameStats summarizes one rendered frame.
type FrameStats struct {
	Frame   uint64     `json:"frame"`
	Success bool       `json:"success"`
	Cache   CacheStats `json:"cache"`

	SurfacesDrawn  int `json:"surfaces_drawn"`
	SurfacesCulled int `json:"surfaces_culled"`
	Bands          int `json:"bands"`
	Rows           int `json:"rows"`
	Commands       int `json:"commands"`

	Bias float32 `json:"bias"`
}
