// Package player wraps one device with typed transport, rendering, queue and
// browse operations. Each method is a thin SOAP call; state flows back
// through the event bus, not through these return values.
package player

import (
	"context"
	"fmt"
	"strconv"

	"github.com/homeaudio/sonos-gateway/internal/apperrors"
	"github.com/homeaudio/sonos-gateway/internal/didl"
	"github.com/homeaudio/sonos-gateway/internal/discovery"
	"github.com/homeaudio/sonos-gateway/internal/soap"
)

// Player is a per-device handle. Values are cheap and constructed on demand
// from the registry; the registry stays the owner of device identity.
type Player struct {
	UUID    string
	Room    string
	BaseURL string

	client *soap.Client
}

func New(device *discovery.Device, client *soap.Client) *Player {
	return &Player{
		UUID:    device.UUID,
		Room:    device.RoomName,
		BaseURL: device.BaseURL,
		client:  client,
	}
}

// BrowseResult is one page of a ContentDirectory browse.
type BrowseResult struct {
	Items        []didl.Item
	TotalMatches int
}

// TransportInfo mirrors GetTransportInfo.
type TransportInfo struct {
	State  string
	Status string
	Speed  string
}

// TransportSettings mirrors GetTransportSettings.
type TransportSettings struct {
	PlayMode   string
	RecQuality string
}

// PositionInfo mirrors GetPositionInfo.
type PositionInfo struct {
	Track         int
	TrackDuration string
	TrackURI      string
	TrackMetaData string
	RelTime       string
}

// Transport

func (p *Player) Play(ctx context.Context) error {
	_, err := p.client.Call(ctx, p.BaseURL, soap.ServiceAVTransport, "Play",
		soap.Args("InstanceID", "0", "Speed", "1"))
	return err
}

func (p *Player) Pause(ctx context.Context) error {
	_, err := p.client.Call(ctx, p.BaseURL, soap.ServiceAVTransport, "Pause",
		soap.Args("InstanceID", "0"))
	return err
}

func (p *Player) Stop(ctx context.Context) error {
	_, err := p.client.Call(ctx, p.BaseURL, soap.ServiceAVTransport, "Stop",
		soap.Args("InstanceID", "0"))
	return err
}

func (p *Player) Next(ctx context.Context) error {
	_, err := p.client.CallOnce(ctx, p.BaseURL, soap.ServiceAVTransport, "Next",
		soap.Args("InstanceID", "0"))
	return err
}

func (p *Player) Previous(ctx context.Context) error {
	_, err := p.client.CallOnce(ctx, p.BaseURL, soap.ServiceAVTransport, "Previous",
		soap.Args("InstanceID", "0"))
	return err
}

func (p *Player) Seek(ctx context.Context, unit, target string) error {
	_, err := p.client.Call(ctx, p.BaseURL, soap.ServiceAVTransport, "Seek",
		soap.Args("InstanceID", "0", "Unit", unit, "Target", target))
	return err
}

func (p *Player) GetTransportInfo(ctx context.Context) (TransportInfo, error) {
	fields, err := p.client.Call(ctx, p.BaseURL, soap.ServiceAVTransport, "GetTransportInfo",
		soap.Args("InstanceID", "0"))
	if err != nil {
		return TransportInfo{}, err
	}
	return TransportInfo{
		State:  fields["CurrentTransportState"],
		Status: fields["CurrentTransportStatus"],
		Speed:  fields["CurrentSpeed"],
	}, nil
}

func (p *Player) GetTransportSettings(ctx context.Context) (TransportSettings, error) {
	fields, err := p.client.Call(ctx, p.BaseURL, soap.ServiceAVTransport, "GetTransportSettings",
		soap.Args("InstanceID", "0"))
	if err != nil {
		return TransportSettings{}, err
	}
	return TransportSettings{
		PlayMode:   fields["PlayMode"],
		RecQuality: fields["RecQualityMode"],
	}, nil
}

func (p *Player) GetPositionInfo(ctx context.Context) (PositionInfo, error) {
	fields, err := p.client.Call(ctx, p.BaseURL, soap.ServiceAVTransport, "GetPositionInfo",
		soap.Args("InstanceID", "0"))
	if err != nil {
		return PositionInfo{}, err
	}
	track, _ := strconv.Atoi(fields["Track"])
	return PositionInfo{
		Track:         track,
		TrackDuration: fields["TrackDuration"],
		TrackURI:      fields["TrackURI"],
		TrackMetaData: fields["TrackMetaData"],
		RelTime:       fields["RelTime"],
	}, nil
}

func (p *Player) SetPlayMode(ctx context.Context, mode string) error {
	_, err := p.client.Call(ctx, p.BaseURL, soap.ServiceAVTransport, "SetPlayMode",
		soap.Args("InstanceID", "0", "NewPlayMode", mode))
	return err
}

func (p *Player) GetCrossfadeMode(ctx context.Context) (bool, error) {
	fields, err := p.client.Call(ctx, p.BaseURL, soap.ServiceAVTransport, "GetCrossfadeMode",
		soap.Args("InstanceID", "0"))
	if err != nil {
		return false, err
	}
	return fields["CrossfadeMode"] == "1", nil
}

func (p *Player) SetCrossfadeMode(ctx context.Context, on bool) error {
	_, err := p.client.Call(ctx, p.BaseURL, soap.ServiceAVTransport, "SetCrossfadeMode",
		soap.Args("InstanceID", "0", "CrossfadeMode", boolArg(on)))
	return err
}

// ConfigureSleepTimer sets a sleep timer; zero seconds cancels any existing
// timer (the wire format for cancel is an empty duration).
func (p *Player) ConfigureSleepTimer(ctx context.Context, seconds int) error {
	duration := ""
	if seconds > 0 {
		duration = fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
	}
	_, err := p.client.Call(ctx, p.BaseURL, soap.ServiceAVTransport, "ConfigureSleepTimer",
		soap.Args("InstanceID", "0", "NewSleepTimerDuration", duration))
	return err
}

// Transport URI & queue

func (p *Player) SetAVTransportURI(ctx context.Context, uri, metadata string) error {
	_, err := p.client.Call(ctx, p.BaseURL, soap.ServiceAVTransport, "SetAVTransportURI",
		soap.Args("InstanceID", "0", "CurrentURI", uri, "CurrentURIMetaData", metadata))
	return err
}

// AddURIToQueue enqueues a URI; returns the queue position assigned.
func (p *Player) AddURIToQueue(ctx context.Context, uri, metadata string, asNext bool, position int) (int, error) {
	fields, err := p.client.CallOnce(ctx, p.BaseURL, soap.ServiceAVTransport, "AddURIToQueue",
		soap.Args(
			"InstanceID", "0",
			"EnqueuedURI", uri,
			"EnqueuedURIMetaData", metadata,
			"DesiredFirstTrackNumberEnqueued", strconv.Itoa(position),
			"EnqueueAsNext", boolArg(asNext),
		))
	if err != nil {
		return 0, err
	}
	enqueued, _ := strconv.Atoi(fields["FirstTrackNumberEnqueued"])
	return enqueued, nil
}

func (p *Player) ClearQueue(ctx context.Context) error {
	_, err := p.client.Call(ctx, p.BaseURL, soap.ServiceAVTransport, "RemoveAllTracksFromQueue",
		soap.Args("InstanceID", "0"))
	return err
}

// GetQueue returns one page of the play queue (container Q:0).
func (p *Player) GetQueue(ctx context.Context, offset, limit int) (BrowseResult, error) {
	return p.Browse(ctx, "Q:0", offset, limit)
}

// Rendering

func (p *Player) GetVolume(ctx context.Context) (int, error) {
	fields, err := p.client.Call(ctx, p.BaseURL, soap.ServiceRenderingControl, "GetVolume",
		soap.Args("InstanceID", "0", "Channel", "Master"))
	if err != nil {
		return 0, err
	}
	vol, _ := strconv.Atoi(fields["CurrentVolume"])
	return vol, nil
}

func (p *Player) SetVolume(ctx context.Context, level int) error {
	if level < 0 || level > 100 {
		return apperrors.Validation("volume must be between 0 and 100, got %d", level)
	}
	_, err := p.client.Call(ctx, p.BaseURL, soap.ServiceRenderingControl, "SetVolume",
		soap.Args("InstanceID", "0", "Channel", "Master", "DesiredVolume", strconv.Itoa(level)))
	return err
}

func (p *Player) GetMute(ctx context.Context) (bool, error) {
	fields, err := p.client.Call(ctx, p.BaseURL, soap.ServiceRenderingControl, "GetMute",
		soap.Args("InstanceID", "0", "Channel", "Master"))
	if err != nil {
		return false, err
	}
	return fields["CurrentMute"] == "1", nil
}

func (p *Player) SetMute(ctx context.Context, mute bool) error {
	_, err := p.client.Call(ctx, p.BaseURL, soap.ServiceRenderingControl, "SetMute",
		soap.Args("InstanceID", "0", "Channel", "Master", "DesiredMute", boolArg(mute)))
	return err
}

func (p *Player) SetBass(ctx context.Context, level int) error {
	if level < -10 || level > 10 {
		return apperrors.Validation("bass must be between -10 and 10, got %d", level)
	}
	_, err := p.client.Call(ctx, p.BaseURL, soap.ServiceRenderingControl, "SetBass",
		soap.Args("InstanceID", "0", "DesiredBass", strconv.Itoa(level)))
	return err
}

func (p *Player) SetTreble(ctx context.Context, level int) error {
	if level < -10 || level > 10 {
		return apperrors.Validation("treble must be between -10 and 10, got %d", level)
	}
	_, err := p.client.Call(ctx, p.BaseURL, soap.ServiceRenderingControl, "SetTreble",
		soap.Args("InstanceID", "0", "DesiredTreble", strconv.Itoa(level)))
	return err
}

func (p *Player) SetLoudness(ctx context.Context, on bool) error {
	_, err := p.client.Call(ctx, p.BaseURL, soap.ServiceRenderingControl, "SetLoudness",
		soap.Args("InstanceID", "0", "Channel", "Master", "DesiredLoudness", boolArg(on)))
	return err
}

// SetGroupVolume applies a volume across the whole group; must target the
// coordinator.
func (p *Player) SetGroupVolume(ctx context.Context, level int) error {
	if level < 0 || level > 100 {
		return apperrors.Validation("volume must be between 0 and 100, got %d", level)
	}
	if _, err := p.client.Call(ctx, p.BaseURL, soap.ServiceGroupRenderingControl, "SnapshotGroupVolume",
		soap.Args("InstanceID", "0")); err != nil {
		return err
	}
	_, err := p.client.Call(ctx, p.BaseURL, soap.ServiceGroupRenderingControl, "SetGroupVolume",
		soap.Args("InstanceID", "0", "DesiredVolume", strconv.Itoa(level)))
	return err
}

// Grouping

func (p *Player) BecomeCoordinatorOfStandaloneGroup(ctx context.Context) error {
	_, err := p.client.CallOnce(ctx, p.BaseURL, soap.ServiceAVTransport, "BecomeCoordinatorOfStandaloneGroup",
		soap.Args("InstanceID", "0"))
	return err
}

// AddPlayerToGroup joins this player to the group coordinated by targetUUID.
func (p *Player) AddPlayerToGroup(ctx context.Context, targetUUID string) error {
	return p.SetAVTransportURI(ctx, "x-rincon:"+discovery.NormalizeUUID(targetUUID), "")
}

// PlayLineIn switches this player's transport to the analog input of
// sourceUUID (which may be this player itself).
func (p *Player) PlayLineIn(ctx context.Context, sourceUUID string) error {
	return p.SetAVTransportURI(ctx, "x-rincon-stream:"+discovery.NormalizeUUID(sourceUUID), "")
}

// Content

// Browse pages through a ContentDirectory container.
func (p *Player) Browse(ctx context.Context, objectID string, offset, limit int) (BrowseResult, error) {
	fields, err := p.client.Call(ctx, p.BaseURL, soap.ServiceContentDirectory, "Browse",
		soap.Args(
			"ObjectID", objectID,
			"BrowseFlag", "BrowseDirectChildren",
			"Filter", "*",
			"StartingIndex", strconv.Itoa(offset),
			"RequestedCount", strconv.Itoa(limit),
			"SortCriteria", "",
		))
	if err != nil {
		return BrowseResult{}, err
	}

	total, _ := strconv.Atoi(fields["TotalMatches"])
	result := BrowseResult{TotalMatches: total}
	if raw := fields["Result"]; raw != "" {
		items, err := didl.Parse(raw)
		if err != nil {
			return result, err
		}
		result.Items = items
	}
	return result, nil
}

// Favorites returns the device favourites container (FV:2).
func (p *Player) Favorites(ctx context.Context) ([]didl.Item, error) {
	result, err := p.Browse(ctx, "FV:2", 0, 200)
	if err != nil {
		return nil, err
	}
	return result.Items, nil
}

// Playlists returns the saved playlists container (SQ:).
func (p *Player) Playlists(ctx context.Context) ([]didl.Item, error) {
	result, err := p.Browse(ctx, "SQ:", 0, 200)
	if err != nil {
		return nil, err
	}
	return result.Items, nil
}

// ListAvailableServices fetches the raw household service descriptor list.
func (p *Player) ListAvailableServices(ctx context.Context) (string, error) {
	fields, err := p.client.Call(ctx, p.BaseURL, soap.ServiceMusicServices, "ListAvailableServices", nil)
	if err != nil {
		return "", err
	}
	return fields["AvailableServiceDescriptorList"], nil
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
