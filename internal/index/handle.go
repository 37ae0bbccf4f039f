package index

import "sync/atomic"

// Handle is the live index reference for one session. Rebuilds happen off
// to the side and are published with Swap; readers holding an earlier
// snapshot finish against it.
type Handle struct {
	cur atomic.Pointer[Index]
}

// Load returns the current snapshot or ErrNotInitialized.
func (h *Handle) Load() (*Index, error) {
	if idx := h.cur.Load(); idx != nil {
		return idx, nil
	}
	return nil, ErrNotInitialized
}

// Swap publishes idx and returns the previous snapshot, if any.
func (h *Handle) Swap(idx *Index) *Index {
	return h.cur.Swap(idx)
}
