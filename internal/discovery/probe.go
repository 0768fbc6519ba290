package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/homeaudio/sonos-gateway/internal/soap"
)

// Device is the registry's record of one player. The registry exclusively
// owns Device values; everything else holds the UUID and looks it up.
type Device struct {
	UUID         string    `json:"id"`
	RoomName     string    `json:"roomName"`
	ModelName    string    `json:"modelName"`
	ModelNumber  string    `json:"modelNumber"`
	BaseURL      string    `json:"baseURL"`
	Location     string    `json:"location"`
	Portable     bool      `json:"portable"`
	DiscoveredAt time.Time `json:"discoveredAt"`
}

// NormalizeUUID strips the optional uuid: prefix so comparisons are stable
// regardless of which form a caller carries.
func NormalizeUUID(id string) string {
	return strings.TrimPrefix(id, "uuid:")
}

// portableModels are battery speakers that roam between networks; the
// services cache avoids asking them for the household service list.
var portableModels = map[string]bool{
	"Sonos Roam":    true,
	"Sonos Roam SL": true,
	"Sonos Move":    true,
	"Sonos Move 2":  true,
}

// Probe fetches and parses the device description at location.
func Probe(ctx context.Context, client *http.Client, location string) (*Device, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("device description fetch failed: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	device, err := parseDescription(body)
	if err != nil {
		return nil, err
	}

	parsed, err := url.Parse(location)
	if err != nil {
		return nil, err
	}
	device.BaseURL = fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
	device.Location = location
	device.DiscoveredAt = time.Now()
	return device, nil
}

func parseDescription(body []byte) (*Device, error) {
	root, err := soap.ParseNode(body)
	if err != nil {
		return nil, err
	}

	deviceNode := root.Find("device")
	if deviceNode == nil {
		return nil, fmt.Errorf("device description has no device element")
	}

	udn := NormalizeUUID(deviceNode.ChildText("UDN"))
	if udn == "" {
		return nil, fmt.Errorf("device description has no UDN")
	}

	room := deviceNode.ChildText("roomName")
	if room == "" {
		// Older firmware carries the room inside displayName.
		room = deviceNode.ChildText("displayName")
	}

	model := deviceNode.ChildText("modelName")
	return &Device{
		UUID:        udn,
		RoomName:    room,
		ModelName:   model,
		ModelNumber: deviceNode.ChildText("modelNumber"),
		Portable:    portableModels[model],
	}, nil
}
