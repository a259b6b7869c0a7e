// Copyright 2024-2026 Aiku AI

package automod

import "sync"

// windowSize is the number of recent messages tracked per (channel, author).
const windowSize = 5

type imageEntry struct {
	MessageID int64
	Count     int
}

// imageLog is the volatile rolling window behind the image-rate policy. It
// is process memory only; a restart simply forgets recent history.
type imageLog struct {
	mu      sync.Mutex
	windows map[[2]int64][]imageEntry
}

func newImageLog() *imageLog {
	return &imageLog{windows: make(map[[2]int64][]imageEntry)}
}

// observe appends the message to the author's window (deduplicating edits of
// a message already tracked) and returns the current window contents.
func (l *imageLog) observe(channelID, authorID, messageID int64, count int) []imageEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := [2]int64{channelID, authorID}
	window := l.windows[key]
	found := false
	for i := range window {
		if window[i].MessageID == messageID {
			window[i].Count = count
			found = true
			break
		}
	}
	if !found {
		window = append(window, imageEntry{MessageID: messageID, Count: count})
		if len(window) > windowSize {
			window = window[len(window)-windowSize:]
		}
	}
	l.windows[key] = window
	out := make([]imageEntry, len(window))
	copy(out, window)
	return out
}

// dropPositive removes every window entry with a positive image count and
// returns their message IDs. Called after an overflow so the already-deleted
// messages stop counting against the limit.
func (l *imageLog) dropPositive(channelID, authorID int64) []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := [2]int64{channelID, authorID}
	var kept []imageEntry
	var dropped []int64
	for _, entry := range l.windows[key] {
		if entry.Count > 0 {
			dropped = append(dropped, entry.MessageID)
		} else {
			kept = append(kept, entry)
		}
	}
	l.windows[key] = kept
	return dropped
}
