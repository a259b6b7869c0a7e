// Copyright 2024-2026 Aiku AI

package mirror

import (
	"strconv"

	"github.com/aiku/channelguard/pkg/config"
)

// MaxLinks caps the link table per source channel. The oldest entry (lowest
// source ID; IDs are monotonically time-ordered) is evicted on overflow.
const MaxLinks = 100

// LinkTable wraps the persisted mirror-link map of one source channel. It is
// a view over MirrorConfig.MirrorLinks; mutations happen inside the store's
// serialized update block.
type LinkTable struct {
	links map[string][]config.DestLink
}

// Links returns a LinkTable view over the config's map, allocating it first
// if needed.
func Links(cfg *config.MirrorConfig) LinkTable {
	if cfg.MirrorLinks == nil {
		cfg.MirrorLinks = make(map[string][]config.DestLink)
	}
	return LinkTable{links: cfg.MirrorLinks}
}

func linkKey(sourceID int64) string {
	return strconv.FormatInt(sourceID, 10)
}

// Put records the destination messages produced by one source message.
func (t LinkTable) Put(sourceID int64, links []config.DestLink) {
	t.links[linkKey(sourceID)] = links
}

// Get returns the destination links for a source message, or nil.
func (t LinkTable) Get(sourceID int64) []config.DestLink {
	return t.links[linkKey(sourceID)]
}

// Contains reports whether the source message is tracked.
func (t LinkTable) Contains(sourceID int64) bool {
	_, ok := t.links[linkKey(sourceID)]
	return ok
}

// Len returns the number of tracked source messages.
func (t LinkTable) Len() int {
	return len(t.links)
}

// EvictIfOver pops lowest-ID entries until at most limit remain.
func (t LinkTable) EvictIfOver(limit int) {
	for len(t.links) > limit {
		lowest := int64(-1)
		var lowestKey string
		for key := range t.links {
			id, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				// corrupt key, evict it first
				lowest = 0
				lowestKey = key
				break
			}
			if lowest < 0 || id < lowest {
				lowest = id
				lowestKey = key
			}
		}
		delete(t.links, lowestKey)
	}
}
