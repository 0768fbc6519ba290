package music

import (
	"context"
	"math/rand"
	"strings"

	"github.com/homeaudio/sonos-gateway/internal/apperrors"
)

// Search resolves a structured query against the index.
//
// Resolution order:
//  1. empty query: randomQueueLimit random tracks
//  2. three fields: strict conjunction on substring
//  3. two fields: conjunction of the two
//  4. one field (album/artist): substring; empty result falls back to a
//     title-fuzzy match on the same term
//  5. nothing found by any structured path: prefix-bidirectional fuzzy match
func (l *Library) Search(query string) ([]CachedTrack, error) {
	index := l.current()
	if index == nil {
		return nil, apperrors.LibraryNotReady()
	}

	q := ParseQuery(query)
	if q.Empty() {
		return index.random(l.randomQueueLimit), nil
	}

	var hits []*CachedTrack
	switch q.FieldCount() {
	case 3:
		hits = index.match(func(t *CachedTrack) bool {
			return matchArtist(t, q.Artist) &&
				strings.Contains(t.AlbumLower, q.Album) &&
				strings.Contains(t.TitleLower, q.Track)
		})
	case 2:
		hits = index.match(func(t *CachedTrack) bool {
			if q.Artist != "" && !matchArtist(t, q.Artist) {
				return false
			}
			if q.Album != "" && !strings.Contains(t.AlbumLower, q.Album) {
				return false
			}
			if q.Track != "" && !strings.Contains(t.TitleLower, q.Track) {
				return false
			}
			return true
		})
	case 1:
		switch {
		case q.Artist != "":
			hits = index.match(func(t *CachedTrack) bool { return matchArtist(t, q.Artist) })
			if len(hits) == 0 {
				hits = index.match(func(t *CachedTrack) bool { return strings.Contains(t.TitleLower, q.Artist) })
			}
		case q.Album != "":
			hits = index.match(func(t *CachedTrack) bool { return strings.Contains(t.AlbumLower, q.Album) })
			if len(hits) == 0 {
				hits = index.match(func(t *CachedTrack) bool { return strings.Contains(t.TitleLower, q.Album) })
			}
		default:
			hits = index.match(func(t *CachedTrack) bool { return strings.Contains(t.TitleLower, q.Track) })
		}
	}

	if len(hits) == 0 {
		hits = index.fuzzy(q.Joined())
	}

	out := make([]CachedTrack, 0, len(hits))
	for _, t := range hits {
		out = append(out, *t)
	}
	return out, nil
}

// SearchContext is Search with the adapter signature; the index is local so
// ctx only gates the not-ready case.
func (l *Library) SearchContext(_ context.Context, typ SearchType, term, _ string) ([]SearchResult, error) {
	prefixed := term
	switch typ {
	case TypeArtist:
		if !strings.Contains(strings.ToLower(term), "artist:") {
			prefixed = "artist:" + term
		}
	case TypeAlbum:
		if !strings.Contains(strings.ToLower(term), "album:") {
			prefixed = "album:" + term
		}
	}

	tracks, err := l.Search(prefixed)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, SearchResult{ID: t.ID, Title: t.Title, Artist: t.Artist, Album: t.Album, URI: t.URI})
	}
	return out, nil
}

// matchArtist applies the artist rules: substring, end-match, and a
// leading-"the" strip on both sides.
func matchArtist(t *CachedTrack, artist string) bool {
	if strings.Contains(t.ArtistLower, artist) {
		return true
	}
	if strings.HasSuffix(t.ArtistLower, artist) {
		return true
	}
	stripped := strings.TrimPrefix(t.ArtistLower, "the ")
	want := strings.TrimPrefix(artist, "the ")
	return stripped == want || strings.Contains(stripped, want)
}

func (ix *libraryIndex) match(pred func(*CachedTrack) bool) []*CachedTrack {
	var out []*CachedTrack
	for _, t := range ix.tracks {
		if pred(t) {
			out = append(out, t)
		}
	}
	return out
}

// fuzzy runs the prefix-bidirectional fallback: a row matches when any of
// its lowercased fields is a prefix of the term or the term is a prefix of
// the field. An album-level match narrows the result to that album's tracks.
func (ix *libraryIndex) fuzzy(term string) []*CachedTrack {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil
	}

	bidi := func(field string) bool {
		if field == "" {
			return false
		}
		return strings.HasPrefix(field, term) || strings.HasPrefix(term, field)
	}

	var byTitle, byArtist []*CachedTrack
	var firstAlbum string
	for _, t := range ix.tracks {
		switch {
		case bidi(t.AlbumLower):
			if firstAlbum == "" {
				firstAlbum = t.AlbumLower
			}
		case bidi(t.ArtistLower):
			byArtist = append(byArtist, t)
		case bidi(t.TitleLower):
			byTitle = append(byTitle, t)
		}
	}

	// Album is the most specific hit: restrict to the first matched album.
	if firstAlbum != "" {
		var out []*CachedTrack
		for _, id := range ix.byAlbum[firstAlbum] {
			out = append(out, ix.tracks[id])
		}
		return out
	}
	if len(byArtist) > 0 {
		return byArtist
	}
	return byTitle
}

// random draws up to limit distinct tracks.
func (ix *libraryIndex) random(limit int) []CachedTrack {
	all := make([]*CachedTrack, 0, len(ix.tracks))
	for _, t := range ix.tracks {
		all = append(all, t)
	}
	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	if limit > len(all) {
		limit = len(all)
	}
	out := make([]CachedTrack, 0, limit)
	for _, t := range all[:limit] {
		out = append(out, *t)
	}
	return out
}
