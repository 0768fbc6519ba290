package events

import (
	"html"
	"strconv"
	"strings"

	"github.com/homeaudio/sonos-gateway/internal/didl"
	"github.com/homeaudio/sonos-gateway/internal/soap"
)

// NOTIFY bodies wrap an XML-escaped LastChange document inside the UPnP
// property set; the inner document carries val attributes per variable.

func extractLastChange(body []byte) (string, error) {
	root, err := soap.ParseNode(body)
	if err != nil {
		return "", err
	}
	if lc := root.Find("LastChange"); lc != nil {
		return lc.Text, nil
	}
	return "", nil
}

// parseAVTransportBody parses an AVTransport NOTIFY body into a delta.
func parseAVTransportBody(body []byte) (*avTransportDelta, error) {
	lastChange, err := extractLastChange(body)
	if err != nil {
		return nil, err
	}
	if lastChange == "" {
		return &avTransportDelta{}, nil
	}

	root, err := soap.ParseNode([]byte(lastChange))
	if err != nil {
		return nil, err
	}
	instance := root.Find("InstanceID")
	if instance == nil {
		return &avTransportDelta{}, nil
	}

	delta := &avTransportDelta{}
	if v, ok := attrValue(instance, "TransportState"); ok {
		delta.TransportState = &v
	}
	if v, ok := attrValue(instance, "CurrentPlayMode"); ok {
		delta.PlayMode = &v
	}
	if v, ok := attrValue(instance, "CurrentCrossfadeMode"); ok {
		crossfade := v == "1"
		delta.Crossfade = &crossfade
	}
	if v, ok := attrValue(instance, "AVTransportURI"); ok {
		delta.AVTransportURI = &v
	}

	trackURI, _ := attrValue(instance, "CurrentTrackURI")
	duration, _ := attrValue(instance, "CurrentTrackDuration")
	if meta, ok := attrValue(instance, "CurrentTrackMetaData"); ok {
		track := parseTrackMetadata(meta, trackURI, duration)
		// Station names live in the enqueued transport metadata, not the
		// track metadata.
		if uriMeta, ok := attrValue(instance, "AVTransportURIMetaData"); ok {
			if items, err := didl.Parse(html.UnescapeString(uriMeta)); err == nil && len(items) > 0 {
				if strings.Contains(items[0].Class, "audioBroadcast") {
					track.StationName = items[0].Title
				}
			}
		}
		delta.CurrentTrack = &track
	}
	if meta, ok := attrValue(instance, "NextTrackMetaData"); ok {
		nextURI, _ := attrValue(instance, "NextTrackURI")
		next := parseTrackMetadata(meta, nextURI, "")
		delta.NextTrack = &next
	}

	return delta, nil
}

// parseRenderingControlBody parses a RenderingControl NOTIFY body.
// Only the Master channel is considered; bonded secondaries report their own
// per-channel values which do not represent the room.
func parseRenderingControlBody(body []byte) (*renderingDelta, error) {
	lastChange, err := extractLastChange(body)
	if err != nil {
		return nil, err
	}
	if lastChange == "" {
		return &renderingDelta{}, nil
	}

	root, err := soap.ParseNode([]byte(lastChange))
	if err != nil {
		return nil, err
	}
	instance := root.Find("InstanceID")
	if instance == nil {
		return &renderingDelta{}, nil
	}

	delta := &renderingDelta{}
	for _, child := range instance.Children {
		channel := child.Attr("channel")
		if channel != "" && channel != "Master" {
			continue
		}
		val := child.Attr("val")
		switch child.Name {
		case "Volume":
			if v, err := strconv.Atoi(val); err == nil {
				delta.Volume = &v
			}
		case "Mute":
			mute := val == "1"
			delta.Mute = &mute
		case "Bass":
			if v, err := strconv.Atoi(val); err == nil {
				delta.Bass = &v
			}
		case "Treble":
			if v, err := strconv.Atoi(val); err == nil {
				delta.Treble = &v
			}
		case "Loudness":
			loudness := val == "1"
			delta.Loudness = &loudness
		}
	}
	return delta, nil
}

// parseTopologyBody extracts the ZoneGroupState XML from a topology NOTIFY.
func parseTopologyBody(body []byte) (string, error) {
	root, err := soap.ParseNode(body)
	if err != nil {
		return "", err
	}
	if zgs := root.Find("ZoneGroupState"); zgs != nil {
		return html.UnescapeString(zgs.Text), nil
	}
	return "", nil
}

// parseContentUpdateBody extracts the ContainerUpdateIDs property from a
// ContentDirectory NOTIFY ("FV:2,123" when favourites change).
func parseContentUpdateBody(body []byte) string {
	root, err := soap.ParseNode(body)
	if err != nil {
		return ""
	}
	if node := root.Find("ContainerUpdateIDs"); node != nil {
		return node.TrimmedText()
	}
	if node := root.Find("FavoritesUpdateID"); node != nil {
		return node.TrimmedText()
	}
	return ""
}

func attrValue(instance *soap.Node, name string) (string, bool) {
	node := instance.First(name)
	if node == nil {
		return "", false
	}
	val, ok := node.Attrs["val"]
	return val, ok
}

// parseTrackMetadata turns escaped DIDL-Lite track metadata into a TrackState.
func parseTrackMetadata(escaped, uri, duration string) TrackState {
	track := TrackState{URI: uri, Duration: parseDuration(duration), Type: trackType(uri)}
	if escaped == "" || escaped == "NOT_IMPLEMENTED" {
		return track
	}
	items, err := didl.Parse(html.UnescapeString(escaped))
	if err != nil || len(items) == 0 {
		return track
	}
	item := items[0]
	track.Title = item.Title
	track.Artist = item.Creator
	track.Album = item.Album
	track.AlbumArtURI = item.AlbumArtURI
	if track.URI == "" {
		track.URI = item.Res
	}
	return track
}

// parseDuration converts H:MM:SS to seconds.
func parseDuration(s string) int {
	if s == "" || s == "NOT_IMPLEMENTED" {
		return 0
	}
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	sec, _ := strconv.Atoi(strings.SplitN(parts[2], ".", 2)[0])
	return h*3600 + m*60 + sec
}

func trackType(uri string) string {
	switch {
	case uri == "":
		return ""
	case strings.HasPrefix(uri, "x-rincon-stream:"):
		return "line_in"
	case strings.HasPrefix(uri, "x-sonosapi-stream:"),
		strings.HasPrefix(uri, "x-sonosapi-radio:"),
		strings.HasPrefix(uri, "x-sonosapi-hls:"),
		strings.HasPrefix(uri, "aac:"), strings.HasPrefix(uri, "hls-radio:"):
		return "radio"
	default:
		return "track"
	}
}
