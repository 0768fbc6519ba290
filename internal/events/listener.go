package events

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/homeaudio/sonos-gateway/internal/soap"
)

// Listener is the local HTTP endpoint players deliver NOTIFY callbacks to.
// It binds a free port on the most externally routable IPv4 and acknowledges
// every NOTIFY with 200 before parsing, so slow parsing never trips peer
// timeouts. Bodies are applied by a single worker in arrival order; the bus's
// last-known state must never run ahead of a body that arrived earlier.
type Listener struct {
	logger zerolog.Logger
	bus    *Bus

	server  *http.Server
	addr    string
	queue   chan notifyMsg
	quit    chan struct{}
	stopped bool
}

// notifyMsg is one acknowledged NOTIFY body awaiting application.
type notifyMsg struct {
	uuid    string
	service soap.Service
	body    []byte
}

func NewListener(bus *Bus, logger zerolog.Logger) *Listener {
	return &Listener{
		logger: logger.With().Str("component", "notify-listener").Logger(),
		bus:    bus,
		queue:  make(chan notifyMsg, 256),
		quit:   make(chan struct{}),
	}
}

// Start binds the callback socket on localIP and serves in the background.
func (l *Listener) Start(localIP string) error {
	ln, err := net.Listen("tcp4", net.JoinHostPort(localIP, "0"))
	if err != nil {
		return fmt.Errorf("bind notify listener: %w", err)
	}
	l.addr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.HandleFunc("/notify/", l.handleNotify)
	l.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := l.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			l.logger.Error().Err(err).Msg("notify listener stopped")
		}
	}()
	go l.apply()

	l.logger.Info().Str("addr", l.addr).Msg("notify listener started")
	return nil
}

// apply drains the NOTIFY queue until Stop, finishing whatever is already
// queued before returning.
func (l *Listener) apply() {
	for {
		select {
		case m := <-l.queue:
			l.bus.HandleNotify(m.uuid, m.service, m.body)
		case <-l.quit:
			for {
				select {
				case m := <-l.queue:
					l.bus.HandleNotify(m.uuid, m.service, m.body)
				default:
					return
				}
			}
		}
	}
}

// CallbackURL builds the per-subscription callback URL.
func (l *Listener) CallbackURL(subscriptionID string) string {
	return fmt.Sprintf("http://%s/notify/%s", l.addr, url.PathEscape(subscriptionID))
}

func (l *Listener) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != "NOTIFY" {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	id, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/notify/"))
	if err != nil || id == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Ack first; the worker applies the body off the request path.
	w.WriteHeader(http.StatusOK)

	uuid, service, ok := splitSubscriptionID(id)
	if !ok {
		l.logger.Debug().Str("id", id).Msg("notify for unknown subscription id")
		return
	}
	select {
	case l.queue <- notifyMsg{uuid: uuid, service: service, body: body}:
	case <-l.quit:
	}
}

// Stop closes the callback socket and releases the apply worker. Idempotent.
func (l *Listener) Stop(ctx context.Context) {
	if l.server == nil || l.stopped {
		return
	}
	l.stopped = true
	_ = l.server.Shutdown(ctx)
	close(l.quit)
}

// Subscription IDs are "uuid|service".

func makeSubscriptionID(uuid string, service soap.Service) string {
	return uuid + "|" + string(service)
}

func splitSubscriptionID(id string) (string, soap.Service, bool) {
	parts := strings.SplitN(id, "|", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	service := soap.Service(parts[1])
	if _, ok := soap.EventPaths[service]; !ok {
		return "", "", false
	}
	return parts[0], service, true
}
