package discovery

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/homeaudio/sonos-gateway/internal/scheduler"
)

const (
	scanTaskID       = "discovery.scan"
	initialScanEvery = 30 * time.Second
	settledScanEvery = 5 * time.Minute
	scanTimeout      = 5 * time.Second
	probeTimeout     = 10 * time.Second

	// A device is only removed after this many consecutive subscription
	// failures spanning at least failureWindow, and a failed re-probe.
	removalFailureCount = 3
	failureWindow       = 60 * time.Second
)

type failureRecord struct {
	count   int
	firstAt time.Time
}

// Registry maintains the live set of discovered players.
type Registry struct {
	logger     zerolog.Logger
	httpClient *http.Client
	sched      *scheduler.Scheduler

	mu        sync.RWMutex
	devices   map[string]*Device // keyed by normalized UUID
	failures  map[string]*failureRecord
	localIP   string
	everFound bool

	onAdded   []func(*Device)
	onRemoved []func(*Device)
}

func NewRegistry(sched *scheduler.Scheduler, logger zerolog.Logger) *Registry {
	return &Registry{
		logger:     logger.With().Str("component", "discovery").Logger(),
		httpClient: &http.Client{Timeout: probeTimeout},
		sched:      sched,
		devices:    make(map[string]*Device),
		failures:   make(map[string]*failureRecord),
	}
}

// OnDeviceAdded registers a callback invoked for each newly inserted device.
// Must be called before Start.
func (r *Registry) OnDeviceAdded(fn func(*Device)) {
	r.onAdded = append(r.onAdded, fn)
}

// OnDeviceRemoved registers a callback invoked after a device is removed.
// Must be called before Start.
func (r *Registry) OnDeviceRemoved(fn func(*Device)) {
	r.onRemoved = append(r.onRemoved, fn)
}

// Start runs an initial scan and schedules re-probes: every 30s until the
// first device appears, stretching to 5m once the household is known.
func (r *Registry) Start(ctx context.Context) {
	if ip, err := LocalIP(); err == nil {
		r.mu.Lock()
		r.localIP = ip
		r.mu.Unlock()
	} else {
		r.logger.Warn().Err(err).Msg("local IP discovery failed")
	}

	r.Scan(ctx)
	r.scheduleNext()
}

func (r *Registry) scheduleNext() {
	r.mu.RLock()
	settled := r.everFound
	r.mu.RUnlock()

	period := initialScanEvery
	if settled {
		period = settledScanEvery
	}
	r.sched.ScheduleInterval(scanTaskID, func() {
		ctx, cancel := context.WithTimeout(context.Background(), scanTimeout+probeTimeout)
		defer cancel()
		wasSettled := settled
		r.Scan(ctx)
		r.mu.RLock()
		nowSettled := r.everFound
		r.mu.RUnlock()
		if nowSettled && !wasSettled {
			r.scheduleNext()
		}
	}, period, scheduler.TaskOptions{Unref: true})
}

// Scan performs one SSDP search pass and upserts every described device.
func (r *Registry) Scan(ctx context.Context) {
	responses, err := Search(ctx, scanTimeout)
	if err != nil {
		r.logger.Warn().Err(err).Msg("ssdp search failed")
		return
	}

	seen := make(map[string]bool)
	for _, resp := range responses {
		if seen[resp.Location] {
			continue
		}
		seen[resp.Location] = true

		probeCtx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		device, err := Probe(probeCtx, r.httpClient, resp.Location)
		cancel()
		if err != nil {
			r.logger.Debug().Err(err).Str("location", resp.Location).Msg("probe failed")
			continue
		}
		r.upsert(device)
	}
}

func (r *Registry) upsert(device *Device) {
	r.mu.Lock()
	existing, known := r.devices[device.UUID]
	r.devices[device.UUID] = device
	delete(r.failures, device.UUID)
	r.everFound = true
	r.mu.Unlock()

	if !known {
		r.logger.Info().Str("room", device.RoomName).Str("uuid", device.UUID).Str("model", device.ModelName).Msg("device added")
		for _, fn := range r.onAdded {
			fn(device)
		}
		return
	}
	if existing.BaseURL != device.BaseURL || existing.RoomName != device.RoomName {
		r.logger.Info().Str("room", device.RoomName).Str("uuid", device.UUID).Msg("device updated")
	}
}

// GetAll returns a snapshot of all known devices.
func (r *Registry) GetAll() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// GetByID looks up a device by UUID, with or without the uuid: prefix.
func (r *Registry) GetByID(id string) *Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[NormalizeUUID(id)]
}

// GetByRoom looks up a device by case-insensitive room name.
func (r *Registry) GetByRoom(room string) *Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.devices {
		if strings.EqualFold(d.RoomName, room) {
			return d
		}
	}
	return nil
}

// LocalIP returns the host address used for callback URLs.
func (r *Registry) LocalIP() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.localIP
}

// ReportSubscriptionSuccess resets the failure counter for a device.
func (r *Registry) ReportSubscriptionSuccess(uuid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, NormalizeUUID(uuid))
}

// ReportSubscriptionFailure records one subscription failure. The device is
// removed only after removalFailureCount consecutive failures spanning the
// failure window and a failed description re-fetch, so transient network
// blips never evict devices.
func (r *Registry) ReportSubscriptionFailure(uuid string) {
	uuid = NormalizeUUID(uuid)

	r.mu.Lock()
	device, known := r.devices[uuid]
	if !known {
		r.mu.Unlock()
		return
	}
	rec := r.failures[uuid]
	if rec == nil {
		rec = &failureRecord{firstAt: time.Now()}
		r.failures[uuid] = rec
	}
	rec.count++
	count, firstAt := rec.count, rec.firstAt
	location := device.Location
	r.mu.Unlock()

	if count < removalFailureCount || time.Since(firstAt) < failureWindow {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	_, err := Probe(ctx, r.httpClient, location)
	cancel()
	if err == nil {
		// Device answered: subscriptions are failing for another reason.
		r.ReportSubscriptionSuccess(uuid)
		return
	}

	r.mu.Lock()
	removed, stillKnown := r.devices[uuid]
	if stillKnown {
		delete(r.devices, uuid)
		delete(r.failures, uuid)
	}
	r.mu.Unlock()

	if stillKnown {
		r.logger.Warn().Str("room", removed.RoomName).Str("uuid", uuid).Msg("device removed after repeated subscription failures")
		for _, fn := range r.onRemoved {
			fn(removed)
		}
	}
}

// Stop cancels the re-probe task.
func (r *Registry) Stop() {
	r.sched.ClearTask(scanTaskID)
}
