// Package metrics defines the prometheus collectors shared by the chat client
// and the reference server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Client holds the collectors recorded by the sync engine and mutation client.
type Client struct {
	Ticks           *prometheus.CounterVec
	RenderedUpdates *prometheus.CounterVec
	Mutations       *prometheus.CounterVec
	UploadBytes     prometheus.Counter
}

// NewClient registers client collectors on reg. A nil registerer yields
// unregistered collectors, which is what tests use.
func NewClient(reg prometheus.Registerer) *Client {
	c := &Client{
		Ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pollchat",
			Subsystem: "sync",
			Name:      "ticks_total",
			Help:      "Sync ticks by result (applied, stale, fetch_error).",
		}, []string{"result"}),
		RenderedUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pollchat",
			Subsystem: "sync",
			Name:      "rendered_total",
			Help:      "Messages pushed to the renderer by kind (new, changed, removed).",
		}, []string{"kind"}),
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pollchat",
			Subsystem: "mutation",
			Name:      "requests_total",
			Help:      "Mutation requests by operation and outcome.",
		}, []string{"op", "outcome"}),
		UploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pollchat",
			Subsystem: "upload",
			Name:      "bytes_total",
			Help:      "Request body bytes transmitted by uploads.",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.Ticks, c.RenderedUpdates, c.Mutations, c.UploadBytes)
	}
	return c
}

// Server holds the reference server collectors.
type Server struct {
	Requests *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
	Messages *prometheus.CounterVec
}

func NewServer(reg prometheus.Registerer) *Server {
	s := &Server{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pollchat",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route pattern, method and status class.",
		}, []string{"route", "method", "class"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pollchat",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pollchat",
			Subsystem: "log",
			Name:      "mutations_total",
			Help:      "Message log mutations by operation.",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(s.Requests, s.Latency, s.Messages)
	}
	return s
}
