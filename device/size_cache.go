package device

import (
	lru "github.com/hashicorp/golang-lru"
)

// A SizeCache caches device sizes, keyed by device path. Sizes become stale
// whenever a VG modification may have resized a device under us, so entries
// carry the generation at which they were stored and the whole cache is
// invalidated in one step by bumping the generation (see Bump), rather than
// walking entries.
type SizeCache struct {
	gen   uint64
	cache *lru.Cache
}

type sizeEntry struct {
	gen     uint64
	sectors uint64
}

// NewSizeCache returns a SizeCache holding up to |size| entries.
func NewSizeCache(size int) (*SizeCache, error) {
	var c, err = lru.New(size)
	if err != nil {
		return nil, err
	}
	return &SizeCache{cache: c}, nil
}

// Lookup returns the cached size of |dev| in sectors, if current.
func (sc *SizeCache) Lookup(dev *Device) (uint64, bool) {
	if v, ok := sc.cache.Get(dev.Path); ok {
		if e := v.(sizeEntry); e.gen == sc.gen {
			return e.sectors, true
		}
	}
	return 0, false
}

// Store caches the size of |dev| at the current generation.
func (sc *SizeCache) Store(dev *Device, sectors uint64) {
	sc.cache.Add(dev.Path, sizeEntry{gen: sc.gen, sectors: sectors})
}

// Size returns the size of |dev| in sectors, from cache when current and
// otherwise from the device handle (caching the result).
func (sc *SizeCache) Size(dev *Device) uint64 {
	if sectors, ok := sc.Lookup(dev); ok {
		return sectors
	}
	sc.Store(dev, dev.SizeSectors)
	return dev.SizeSectors
}

// Bump invalidates every cached size by advancing the generation.
func (sc *SizeCache) Bump() { sc.gen++ }

// Generation returns the current invalidation generation.
func (sc *SizeCache) Generation() uint64 { return sc.gen }
