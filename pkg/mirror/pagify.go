// Copyright 2024-2026 Aiku AI

package mirror

import (
	"strings"
	"unicode/utf8"
)

// ChunkLimit is the maximum characters per mirrored message chunk.
const ChunkLimit = 1750

// PlaceholderBody replaces surplus destination messages when an edit shrinks
// the source below its previous chunk count.
const PlaceholderBody = "[Placeholder - This message used to be longer!]"

// ContinuedSuffix marks a truncated final chunk when an edit grows the
// source beyond its previous chunk count.
const ContinuedSuffix = "... *(Continued in original)*"

// Pagify splits body into chunks of at most limit characters, preferring to
// split on a double newline, then a single newline, then a hard cut on a
// rune boundary. An empty body yields a single empty chunk.
func Pagify(body string, limit int) []string {
	if len(body) <= limit {
		return []string{body}
	}
	var chunks []string
	rest := body
	for len(rest) > limit {
		cut := splitPoint(rest, limit)
		chunks = append(chunks, strings.TrimRight(rest[:cut], "\n"))
		rest = strings.TrimLeft(rest[cut:], "\n")
	}
	chunks = append(chunks, rest)
	return chunks
}

func splitPoint(s string, limit int) int {
	window := s[:limit]
	if i := strings.LastIndex(window, "\n\n"); i > 0 {
		return i
	}
	if i := strings.LastIndex(window, "\n"); i > 0 {
		return i
	}
	// hard cut, backed off to a rune boundary
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return cut
}

// PagifyExact splits body into exactly n chunks so an edit never changes a
// link's destination message count: surplus text is truncated with
// ContinuedSuffix, missing chunks are padded with PlaceholderBody.
func PagifyExact(body string, n, limit int) []string {
	chunks := Pagify(body, limit)
	if len(chunks) > n {
		chunks = chunks[:n]
		last := chunks[n-1]
		max := limit - len(ContinuedSuffix)
		if len(last) > max {
			cut := max
			for cut > 0 && !utf8.RuneStart(last[cut]) {
				cut--
			}
			last = last[:cut]
		}
		chunks[n-1] = last + ContinuedSuffix
	}
	for len(chunks) < n {
		chunks = append(chunks, PlaceholderBody)
	}
	return chunks
}
