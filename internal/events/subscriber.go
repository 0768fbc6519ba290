package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/homeaudio/sonos-gateway/internal/discovery"
	"github.com/homeaudio/sonos-gateway/internal/metrics"
	"github.com/homeaudio/sonos-gateway/internal/scheduler"
	"github.com/homeaudio/sonos-gateway/internal/soap"
)

const (
	subscribeTimeout  = 5 * time.Second
	defaultSubSeconds = 300
	renewalLead       = 30 * time.Second
	unsubscribeBudget = 2 * time.Second
)

// SubscriptionState is the lifecycle of one (player, service) subscription.
type SubscriptionState string

const (
	SubPending  SubscriptionState = "pending"
	SubActive   SubscriptionState = "active"
	SubRenewing SubscriptionState = "renewing"
	SubExpired  SubscriptionState = "expired"
	SubFailed   SubscriptionState = "failed"
)

// Subscription is one GENA subscription record.
type Subscription struct {
	UUID        string            `json:"uuid"`
	Service     soap.Service      `json:"service"`
	SID         string            `json:"sid,omitempty"`
	CallbackURL string            `json:"callbackUrl"`
	Expiry      time.Time         `json:"expiry"`
	State       SubscriptionState `json:"state"`
	LastError   string            `json:"lastError,omitempty"`
}

// ErrSubscriptionGone reports an HTTP 412: the device no longer knows the SID.
var ErrSubscriptionGone = errors.New("subscription gone")

// Subscriber owns the GENA subscription lifecycle for every (player,
// service) pair. Subscriptions survive offline transitions in a registered
// set: when discovery re-announces a device, it is transparently
// re-subscribed.
type Subscriber struct {
	logger     zerolog.Logger
	registry   *discovery.Registry
	bus        *Bus
	sched      *scheduler.Scheduler
	listener   *Listener
	httpClient *http.Client
	timeoutSec int

	mu   sync.Mutex
	subs map[string]*Subscription // keyed by makeSubscriptionID
}

// managedServices are the event services kept subscribed on every player.
var managedServices = []soap.Service{
	soap.ServiceAVTransport,
	soap.ServiceRenderingControl,
	soap.ServiceZoneGroupTopology,
	soap.ServiceContentDirectory,
}

func NewSubscriber(registry *discovery.Registry, bus *Bus, sched *scheduler.Scheduler, logger zerolog.Logger) *Subscriber {
	return &Subscriber{
		logger:     logger.With().Str("component", "subscriber").Logger(),
		registry:   registry,
		bus:        bus,
		sched:      sched,
		listener:   NewListener(bus, logger),
		httpClient: &http.Client{Timeout: subscribeTimeout},
		timeoutSec: defaultSubSeconds,
		subs:       make(map[string]*Subscription),
	}
}

// Start binds the callback listener and wires discovery and health signals.
// Must be called before the registry's first scan.
func (s *Subscriber) Start(localIP string) error {
	if err := s.listener.Start(localIP); err != nil {
		return err
	}

	s.registry.OnDeviceAdded(func(d *discovery.Device) {
		s.bus.Register(d.UUID)
		go s.SubscribeDevice(d)
	})
	s.registry.OnDeviceRemoved(func(d *discovery.Device) {
		s.bus.Unregister(d.UUID, false)
		s.dropDevice(d.UUID)
	})
	s.bus.OnResubscribeNeeded(func(uuids []string) {
		for _, uuid := range uuids {
			if d := s.registry.GetByID(uuid); d != nil {
				go s.SubscribeDevice(d)
			}
		}
	})
	return nil
}

// SubscribeDevice establishes or refreshes subscriptions for all managed
// services on one device.
func (s *Subscriber) SubscribeDevice(device *discovery.Device) {
	for _, service := range managedServices {
		s.subscribe(device, service)
	}
}

func (s *Subscriber) subscribe(device *discovery.Device, service soap.Service) {
	key := makeSubscriptionID(device.UUID, service)

	s.mu.Lock()
	sub, ok := s.subs[key]
	if !ok {
		sub = &Subscription{
			UUID:        device.UUID,
			Service:     service,
			CallbackURL: s.listener.CallbackURL(key),
			State:       SubPending,
		}
		s.subs[key] = sub
	}
	if sub.State == SubActive && time.Until(sub.Expiry) > renewalLead {
		s.mu.Unlock()
		return
	}
	sub.State = SubPending
	sub.SID = ""
	s.mu.Unlock()

	s.doSubscribe(device, sub, key)
}

func (s *Subscriber) doSubscribe(device *discovery.Device, sub *Subscription, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()

	sid, seconds, err := s.sendSubscribe(ctx, device.BaseURL, soap.EventPaths[sub.Service], sub.CallbackURL, "")
	if err != nil {
		s.handleFailure(sub, key, err)
		return
	}
	s.activate(device, sub, key, sid, seconds)
}

func (s *Subscriber) activate(device *discovery.Device, sub *Subscription, key string, sid string, seconds int) {
	s.mu.Lock()
	sub.SID = sid
	sub.State = SubActive
	sub.Expiry = time.Now().Add(time.Duration(seconds) * time.Second)
	sub.LastError = ""
	renewIn := time.Duration(seconds)*time.Second - renewalLead
	if renewIn < 10*time.Second {
		renewIn = 10 * time.Second
	}
	s.mu.Unlock()

	s.registry.ReportSubscriptionSuccess(device.UUID)
	s.sched.ScheduleTimeout("sub.renew."+key, func() { s.renew(device, key) }, renewIn, scheduler.TaskOptions{Unref: true})
	s.logger.Debug().Str("uuid", device.UUID).Str("service", string(sub.Service)).Str("sid", sid).Int("timeout", seconds).Msg("subscribed")
}

// renew refreshes one subscription; serialized per subscription by virtue of
// the single named renewal task, parallel across subscriptions.
func (s *Subscriber) renew(device *discovery.Device, key string) {
	s.mu.Lock()
	sub, ok := s.subs[key]
	if !ok || sub.SID == "" {
		s.mu.Unlock()
		return
	}
	sub.State = SubRenewing
	sid := sub.SID
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()

	_, seconds, err := s.sendSubscribe(ctx, device.BaseURL, soap.EventPaths[sub.Service], "", sid)
	if err == nil {
		metrics.SubscriptionRenewals.Inc()
		s.activate(device, sub, key, sid, seconds)
		return
	}

	if errors.Is(err, ErrSubscriptionGone) {
		// 412: the device dropped the SID. Retry exactly once as a fresh
		// subscribe.
		s.mu.Lock()
		sub.SID = ""
		sub.State = SubExpired
		s.mu.Unlock()
		s.doSubscribe(device, sub, key)
		return
	}
	s.handleFailure(sub, key, err)
}

// handleFailure applies the offline/permanent classification. No retry
// happens here: discovery decides device removal, and re-subscription rides
// rediscovery or the stale-notify signal.
func (s *Subscriber) handleFailure(sub *Subscription, key string, err error) {
	metrics.SubscriptionFailures.Inc()

	s.mu.Lock()
	sub.State = SubFailed
	sub.LastError = err.Error()
	sub.SID = ""
	s.mu.Unlock()

	s.sched.ClearTask("sub.renew." + key)
	s.registry.ReportSubscriptionFailure(sub.UUID)
	s.logger.Warn().Str("uuid", sub.UUID).Str("service", string(sub.Service)).Err(err).Msg("subscription failed")
}

// sendSubscribe issues SUBSCRIBE. With sid empty it is an initial subscribe
// (CALLBACK + NT headers); with sid set it is a renewal (SID header only).
func (s *Subscriber) sendSubscribe(ctx context.Context, baseURL, servicePath, callbackURL, sid string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", baseURL+servicePath, nil)
	if err != nil {
		return "", 0, err
	}
	if sid == "" {
		req.Header.Set("CALLBACK", "<"+callbackURL+">")
		req.Header.Set("NT", "upnp:event")
	} else {
		req.Header.Set("SID", sid)
	}
	req.Header.Set("TIMEOUT", fmt.Sprintf("Second-%d", s.timeoutSec))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if isConnectionRefused(err) {
			return "", 0, fmt.Errorf("device offline: %w", err)
		}
		return "", 0, fmt.Errorf("device unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusPreconditionFailed {
		return "", 0, ErrSubscriptionGone
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", 0, fmt.Errorf("subscribe failed: %s", resp.Status)
	}

	newSID := resp.Header.Get("SID")
	if sid != "" {
		newSID = sid
	}
	if newSID == "" {
		return "", 0, fmt.Errorf("no SID in subscribe response")
	}
	return newSID, parseTimeoutHeader(resp.Header.Get("TIMEOUT")), nil
}

// dropDevice clears renewal timers for a removed device but keeps the
// registered-set entries so rediscovery re-subscribes.
func (s *Subscriber) dropDevice(uuid string) {
	uuid = discovery.NormalizeUUID(uuid)
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, sub := range s.subs {
		if sub.UUID == uuid {
			sub.State = SubFailed
			sub.SID = ""
			s.sched.ClearTask("sub.renew." + key)
		}
	}
}

// Subscriptions returns a snapshot for diagnostics.
func (s *Subscriber) Subscriptions() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, *sub)
	}
	return out
}

// Stop unsubscribes everything in parallel with a bounded per-call budget
// and closes the callback listener. Idempotent.
func (s *Subscriber) Stop(ctx context.Context) {
	s.mu.Lock()
	var active []*Subscription
	for key, sub := range s.subs {
		s.sched.ClearTask("sub.renew." + key)
		if sub.SID != "" {
			active = append(active, sub)
		}
	}
	s.subs = make(map[string]*Subscription)
	s.mu.Unlock()

	var g errgroup.Group
	for _, sub := range active {
		sub := sub
		g.Go(func() error {
			device := s.registry.GetByID(sub.UUID)
			if device == nil {
				return nil
			}
			callCtx, cancel := context.WithTimeout(ctx, unsubscribeBudget)
			defer cancel()
			s.unsubscribe(callCtx, device.BaseURL, soap.EventPaths[sub.Service], sub.SID)
			return nil
		})
	}
	_ = g.Wait()

	s.listener.Stop(ctx)
}

func (s *Subscriber) unsubscribe(ctx context.Context, baseURL, servicePath, sid string) {
	req, err := http.NewRequestWithContext(ctx, "UNSUBSCRIBE", baseURL+servicePath, nil)
	if err != nil {
		return
	}
	req.Header.Set("SID", sid)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// Device may already be offline; nothing to clean up.
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
}

func parseTimeoutHeader(header string) int {
	if header == "infinite" {
		return 86400
	}
	header = strings.TrimPrefix(header, "Second-")
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return seconds
	}
	return defaultSubSeconds
}

func isConnectionRefused(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return strings.Contains(opErr.Err.Error(), "connection refused")
	}
	return false
}
