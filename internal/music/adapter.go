// Package music holds the catalogue adapters: search plus URI/metadata
// construction for streaming services and the local library.
package music

import (
	"context"
	"strings"
)

// SearchType selects what kind of result a search should return.
type SearchType string

const (
	TypeAlbum   SearchType = "album"
	TypeSong    SearchType = "song"
	TypeStation SearchType = "station"
	TypeArtist  SearchType = "artist"
)

// ValidSearchType reports whether s is one of the route-addressable types.
func ValidSearchType(s string) bool {
	switch SearchType(s) {
	case TypeAlbum, TypeSong, TypeStation, TypeArtist:
		return true
	}
	return false
}

// SearchResult is one catalogue hit, service-agnostic.
type SearchResult struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
	URI    string `json:"uri,omitempty"`
}

// Adapter is the per-service catalogue contract.
type Adapter interface {
	Search(ctx context.Context, typ SearchType, term, country string) ([]SearchResult, error)
	GenerateURI(typ SearchType, result SearchResult) (string, error)
	GenerateMetadata(typ SearchType, result SearchResult) (string, error)
}

// Query is a search term decomposed by structured prefix. Bare text binds to
// the title field.
type Query struct {
	Artist string
	Album  string
	Track  string
}

// ParseQuery splits "artist:foo album:bar baz" into fields. Prefixes may
// appear in any order; everything after a prefix up to the next prefix
// belongs to it. Comparisons downstream are case-insensitive, so fields are
// lowercased here.
func ParseQuery(term string) Query {
	var q Query
	field := &q.Track
	var current []string

	flush := func() {
		if len(current) > 0 {
			*field = strings.TrimSpace(*field + " " + strings.Join(current, " "))
			current = current[:0]
		}
	}

	for _, word := range strings.Fields(term) {
		switch {
		case strings.HasPrefix(strings.ToLower(word), "artist:"):
			flush()
			field = &q.Artist
			current = append(current, word[len("artist:"):])
		case strings.HasPrefix(strings.ToLower(word), "album:"):
			flush()
			field = &q.Album
			current = append(current, word[len("album:"):])
		case strings.HasPrefix(strings.ToLower(word), "track:"):
			flush()
			field = &q.Track
			current = append(current, word[len("track:"):])
		default:
			current = append(current, word)
		}
	}
	flush()

	q.Artist = strings.ToLower(strings.TrimSpace(q.Artist))
	q.Album = strings.ToLower(strings.TrimSpace(q.Album))
	q.Track = strings.ToLower(strings.TrimSpace(q.Track))
	return q
}

// Empty reports whether no field carries a term.
func (q Query) Empty() bool {
	return q.Artist == "" && q.Album == "" && q.Track == ""
}

// FieldCount returns how many fields carry a term.
func (q Query) FieldCount() int {
	n := 0
	for _, f := range []string{q.Artist, q.Album, q.Track} {
		if f != "" {
			n++
		}
	}
	return n
}

// Joined rebuilds a single bare term from whichever fields are set, used by
// fuzzy fallbacks.
func (q Query) Joined() string {
	var parts []string
	for _, f := range []string{q.Artist, q.Album, q.Track} {
		if f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, " ")
}
