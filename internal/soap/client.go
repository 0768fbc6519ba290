package soap

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/homeaudio/sonos-gateway/internal/metrics"
)

const (
	maxAttempts = 3
	baseBackoff = 100 * time.Millisecond

	// refusedGrace is the window after discovery in which a refused dial is
	// retried: players answer SSDP a little before the control port is up.
	refusedGrace = 30 * time.Second
)

// Client executes SOAP control actions against players.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration

	// grace maps device base URLs to the end of their refused-retry window.
	grace sync.Map

	// sleep is swappable so retry tests run without real delays.
	sleep func(time.Duration)
}

// NewClient creates a SOAP client with the given per-call timeout.
// Connections are pooled; a household generates many small calls to the same
// handful of hosts.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: timeout}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		sleep: time.Sleep,
	}
}

// Call executes an action and returns the flattened response fields.
// Transient faults on idempotent actions are retried with exponential
// backoff; non-idempotent callers get exactly one attempt.
func (c *Client) Call(ctx context.Context, baseURL string, service Service, action string, args []Arg) (Fields, error) {
	return c.call(ctx, baseURL, service, action, args, true)
}

// CallOnce executes a non-idempotent action without retry.
func (c *Client) CallOnce(ctx context.Context, baseURL string, service Service, action string, args []Arg) (Fields, error) {
	return c.call(ctx, baseURL, service, action, args, false)
}

func (c *Client) call(ctx context.Context, baseURL string, service Service, action string, args []Arg, idempotent bool) (Fields, error) {
	serviceType := serviceTypes[service]
	controlPath := controlPaths[service]
	if serviceType == "" || controlPath == "" {
		return nil, fmt.Errorf("unknown service: %s", service)
	}

	attempts := 1
	if idempotent {
		attempts = maxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			metrics.SoapRetries.Inc()
			c.sleep(baseBackoff * time.Duration(1<<(attempt-1)))
		}

		fields, err := c.doCall(ctx, baseURL+controlPath, serviceType, action, args)
		if err == nil {
			return fields, nil
		}
		lastErr = err

		var fault *Fault
		if errors.As(err, &fault) && fault.IsTransient() {
			continue
		}
		var unreach *UnreachableError
		if errors.As(err, &unreach) && unreach.ConnectionRefused() && c.inGrace(baseURL) {
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

// MarkDiscovered opens the refused-retry grace window for a device base URL.
// Called when discovery adds a device.
func (c *Client) MarkDiscovered(baseURL string) {
	c.grace.Store(baseURL, time.Now().Add(refusedGrace))
}

func (c *Client) inGrace(baseURL string) bool {
	v, ok := c.grace.Load(baseURL)
	return ok && time.Now().Before(v.(time.Time))
}

func (c *Client) doCall(ctx context.Context, url, serviceType, action string, args []Arg) (Fields, error) {
	body := buildEnvelope(serviceType, action, args)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", fmt.Sprintf("%q", serviceType+"#"+action))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{Action: action}
		}
		return nil, &UnreachableError{Action: action, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		fault := parseFault(payload)
		fault.Action = action
		fault.HTTPStatus = resp.StatusCode
		return nil, fault
	}

	return parseResponseFields(payload, action)
}

func buildEnvelope(serviceType, action string, args []Arg) []byte {
	var buf strings.Builder
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	buf.WriteString(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">`)
	buf.WriteString("<s:Body>")
	buf.WriteString("<u:")
	buf.WriteString(action)
	buf.WriteString(` xmlns:u="`)
	buf.WriteString(serviceType)
	buf.WriteString(`">`)

	for _, arg := range args {
		buf.WriteString("<")
		buf.WriteString(arg.Name)
		buf.WriteString(">")
		buf.WriteString(escapeXML(arg.Value))
		buf.WriteString("</")
		buf.WriteString(arg.Name)
		buf.WriteString(">")
	}

	buf.WriteString("</u:")
	buf.WriteString(action)
	buf.WriteString(">")
	buf.WriteString("</s:Body>")
	buf.WriteString("</s:Envelope>")

	return []byte(buf.String())
}

func escapeXML(input string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(input)); err != nil {
		return input
	}
	return b.String()
}

// parseResponseFields walks to s:Body and flattens the response element's
// children into a Fields map.
func parseResponseFields(payload []byte, action string) (Fields, error) {
	root, err := ParseNode(payload)
	if err != nil {
		return nil, err
	}

	body := root.First("Body")
	if body == nil {
		return nil, fmt.Errorf("soap action %s: response has no body", action)
	}

	response := body.First(action + "Response")
	if response == nil && len(body.Children) > 0 {
		response = body.Children[0]
	}
	if response == nil {
		return Fields{}, nil
	}

	fields := make(Fields, len(response.Children))
	for _, child := range response.Children {
		fields[child.Name] = child.TrimmedText()
	}
	return fields, nil
}

func parseFault(payload []byte) *Fault {
	fault := &Fault{}
	root, err := ParseNode(payload)
	if err != nil {
		return fault
	}

	if faultNode := root.Find("Fault"); faultNode != nil {
		fault.FaultCode = faultNode.ChildText("faultcode")
		fault.FaultString = faultNode.ChildText("faultstring")
	}
	if upnpErr := root.Find("UPnPError"); upnpErr != nil {
		fault.Code = upnpErr.ChildText("errorCode")
		fault.Description = upnpErr.ChildText("errorDescription")
	}
	return fault
}
