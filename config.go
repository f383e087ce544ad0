package gridd

import (
	"fmt"
	"time"
)

const (
	// DefaultListen is the default TCP endpoint the grid binds to.
	DefaultListen = ":4444"
	// DefaultListenProto controls the listener type when none is configured.
	DefaultListenProto = "tcp"
	// DefaultMetricsListen is the default metrics endpoint (Prometheus
	// scrape). Empty disables metrics unless explicitly configured.
	DefaultMetricsListen = ""
	// DefaultPprofListen is the default pprof debug listener (empty disables).
	DefaultPprofListen = ""
	// DefaultSessionRequestTimeout bounds how long a session request may wait
	// for a slot before it is failed.
	DefaultSessionRequestTimeout = 300 * time.Second
	// DefaultSessionRetryInterval is the queue reaper tick.
	DefaultSessionRetryInterval = 5 * time.Second
	// DefaultHealthCheckInterval is the per-node health probe period.
	DefaultHealthCheckInterval = 120 * time.Second
	// DefaultHealthCheckGrace delays a freshly registered node's first probe
	// so it is not marked DOWN while still starting up.
	DefaultHealthCheckGrace = 30 * time.Second
	// DefaultPurgeInterval drives the dead-node sweep.
	DefaultPurgeInterval = 30 * time.Second
	// DefaultDrainInterval is the queue drain tick; new-request events wake
	// the drain loop earlier.
	DefaultDrainInterval = 5 * time.Second
	// DefaultNodeSessionTimeout bounds one session-creation call to a node.
	DefaultNodeSessionTimeout = 60 * time.Second
	// DefaultNodeHealthTimeout bounds one health probe to a node.
	DefaultNodeHealthTimeout = 10 * time.Second
	// DefaultMaxBodyBytes caps incoming JSON payloads.
	DefaultMaxBodyBytes = 1 << 20
	// DefaultShutdownTimeout caps graceful HTTP shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Config holds the grid server configuration.
type Config struct {
	// Listen is the server bind address (for example ":4444").
	Listen string
	// ListenProto selects listener type (for example "tcp").
	ListenProto string
	// MetricsListen is the metrics endpoint bind address; empty disables
	// metrics.
	MetricsListen string
	// PprofListen is the pprof endpoint bind address; empty disables pprof.
	PprofListen string
	// SessionRequestTimeout bounds how long a queued session request may
	// wait for a slot.
	SessionRequestTimeout time.Duration
	// SessionRetryInterval is the queue reaper tick; zero or negative falls
	// back to the default.
	SessionRetryInterval time.Duration
	// HealthCheckInterval is the per-node health probe period.
	HealthCheckInterval time.Duration
	// HealthCheckGrace delays a new node's first health probe.
	HealthCheckGrace time.Duration
	// PurgeInterval drives the dead-node sweep.
	PurgeInterval time.Duration
	// NodeHeartbeatMaxAge is the heartbeat age past which a node is presumed
	// dead and purged. Defaults to twice the health check interval.
	NodeHeartbeatMaxAge time.Duration
	// DrainInterval is the queue drain tick.
	DrainInterval time.Duration
	// RejectUnsupportedCaps fails queued requests no node can ever serve
	// instead of letting them ride out their timeout.
	RejectUnsupportedCaps bool
	// NodeSessionTimeout bounds one session-creation call to a node.
	NodeSessionTimeout time.Duration
	// NodeHealthTimeout bounds one health probe call to a node.
	NodeHealthTimeout time.Duration
	// MaxBodyBytes caps incoming JSON payload size.
	MaxBodyBytes int64
	// ShutdownTimeout caps graceful shutdown when none is supplied by the
	// caller.
	ShutdownTimeout time.Duration
}

// Validate applies defaults and sanity-checks the configuration.
func (c *Config) Validate() error {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.ListenProto == "" {
		c.ListenProto = DefaultListenProto
	}
	if c.SessionRequestTimeout < 0 {
		return fmt.Errorf("config: session request timeout must be >= 0")
	}
	if c.SessionRequestTimeout == 0 {
		c.SessionRequestTimeout = DefaultSessionRequestTimeout
	}
	if c.SessionRetryInterval <= 0 {
		c.SessionRetryInterval = DefaultSessionRetryInterval
	}
	if c.SessionRetryInterval > c.SessionRequestTimeout {
		return fmt.Errorf("config: session retry interval must be <= session request timeout")
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.HealthCheckGrace <= 0 {
		c.HealthCheckGrace = DefaultHealthCheckGrace
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = DefaultPurgeInterval
	}
	if c.NodeHeartbeatMaxAge <= 0 {
		c.NodeHeartbeatMaxAge = 2 * c.HealthCheckInterval
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = DefaultDrainInterval
	}
	if c.NodeSessionTimeout <= 0 {
		c.NodeSessionTimeout = DefaultNodeSessionTimeout
	}
	if c.NodeHealthTimeout <= 0 {
		c.NodeHealthTimeout = DefaultNodeHealthTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return nil
}
