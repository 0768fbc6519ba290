// Package metrics registers the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotifyReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sonos_gateway_notify_received_total",
		Help: "UPnP NOTIFY callbacks received.",
	})

	NotifyProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sonos_gateway_notify_processed_total",
		Help: "UPnP NOTIFY callbacks parsed and applied.",
	})

	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sonos_gateway_events_emitted_total",
		Help: "Typed state events emitted by the event bus.",
	}, []string{"type"})

	SubscriptionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sonos_gateway_subscription_failures_total",
		Help: "GENA subscribe/renew failures.",
	})

	SubscriptionRenewals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sonos_gateway_subscription_renewals_total",
		Help: "Successful GENA subscription renewals.",
	})

	SoapRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sonos_gateway_soap_retries_total",
		Help: "SOAP calls retried after a transient fault.",
	})
)
