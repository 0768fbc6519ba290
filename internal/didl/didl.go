// Package didl parses and builds DIDL-Lite XML, the metadata format embedded
// inside SOAP browse results, event bodies and transport URIs.
package didl

import (
	"fmt"
	"strings"

	"github.com/homeaudio/sonos-gateway/internal/soap"
)

// Item is one DIDL-Lite item or container.
type Item struct {
	ID          string
	ParentID    string
	Restricted  string
	Title       string
	Creator     string
	Album       string
	AlbumArtURI string
	Class       string
	Res         string
	ProtocolInfo string
	ResMD       string
	Desc        string
	DescID      string
}

// Parse extracts items and containers from a DIDL-Lite document.
func Parse(data string) ([]Item, error) {
	root, err := soap.ParseNode([]byte(data))
	if err != nil {
		return nil, err
	}

	var items []Item
	for _, child := range root.Children {
		if child.Name != "item" && child.Name != "container" {
			continue
		}
		item := Item{
			ID:         child.Attr("id"),
			ParentID:   child.Attr("parentID"),
			Restricted: child.Attr("restricted"),
			Title:      child.ChildText("title"),
			Creator:    child.ChildText("creator"),
			Album:      child.ChildText("album"),
			Class:      child.ChildText("class"),
		}
		if art := child.First("albumArtURI"); art != nil {
			item.AlbumArtURI = art.TrimmedText()
		}
		if res := child.First("res"); res != nil {
			item.Res = res.TrimmedText()
			item.ProtocolInfo = res.Attr("protocolInfo")
		}
		if resMD := child.First("resMD"); resMD != nil {
			item.ResMD = resMD.TrimmedText()
		}
		if desc := child.First("desc"); desc != nil {
			item.Desc = desc.TrimmedText()
			item.DescID = desc.Attr("id")
		}
		items = append(items, item)
	}
	return items, nil
}

// EscapeTitle escapes &<>"' for embedding in DIDL-Lite, but leaves existing
// entities untouched so favourites written by older clients round-trip
// byte-for-byte.
func EscapeTitle(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '&':
			if startsEntity(s[i:]) {
				b.WriteByte(c)
			} else {
				b.WriteString("&amp;")
			}
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&quot;")
		case '\'':
			b.WriteString("&apos;")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

var knownEntities = []string{"&amp;", "&lt;", "&gt;", "&quot;", "&apos;", "&#"}

func startsEntity(s string) bool {
	for _, e := range knownEntities {
		if strings.HasPrefix(s, e) {
			return true
		}
	}
	return false
}

const header = `<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/" xmlns:r="urn:schemas-rinconnetworks-com:metadata-1-0/" xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/">`

// BuildItem renders a single-item DIDL-Lite document with the service
// descriptor element used by third-party content.
func BuildItem(id, parentID, upnpClass, title, descID, desc string) string {
	var b strings.Builder
	b.WriteString(header)
	fmt.Fprintf(&b, `<item id="%s" parentID="%s" restricted="true">`, EscapeTitle(id), EscapeTitle(parentID))
	fmt.Fprintf(&b, `<dc:title>%s</dc:title>`, EscapeTitle(title))
	fmt.Fprintf(&b, `<upnp:class>%s</upnp:class>`, upnpClass)
	fmt.Fprintf(&b, `<desc id="%s" nameSpace="urn:schemas-rinconnetworks-com:metadata-1-0/">%s</desc>`, descID, EscapeTitle(desc))
	b.WriteString(`</item></DIDL-Lite>`)
	return b.String()
}
