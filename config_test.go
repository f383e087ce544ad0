package gridd

import (
	"testing"
	"time"
)

func TestConfigValidateDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty config must validate: %v", err)
	}
	if cfg.Listen != DefaultListen || cfg.ListenProto != DefaultListenProto {
		t.Fatalf("listen defaults not applied: %+v", cfg)
	}
	if cfg.SessionRequestTimeout != DefaultSessionRequestTimeout {
		t.Fatalf("session request timeout default not applied: %v", cfg.SessionRequestTimeout)
	}
	if cfg.SessionRetryInterval != DefaultSessionRetryInterval {
		t.Fatalf("session retry interval default not applied: %v", cfg.SessionRetryInterval)
	}
	if cfg.NodeHeartbeatMaxAge != 2*DefaultHealthCheckInterval {
		t.Fatalf("heartbeat max age must default to twice the health check interval, got %v", cfg.NodeHeartbeatMaxAge)
	}
	if cfg.MaxBodyBytes != DefaultMaxBodyBytes {
		t.Fatalf("max body default not applied: %d", cfg.MaxBodyBytes)
	}
}

func TestConfigValidateRejectsBadDurations(t *testing.T) {
	t.Parallel()

	cfg := Config{SessionRequestTimeout: -time.Second}
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative session request timeout must fail validation")
	}

	cfg = Config{
		SessionRequestTimeout: time.Second,
		SessionRetryInterval:  time.Minute,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("retry interval above the request timeout must fail validation")
	}
}

func TestConfigValidateKeepsExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Listen:                ":5555",
		SessionRequestTimeout: 30 * time.Second,
		SessionRetryInterval:  time.Second,
		HealthCheckInterval:   10 * time.Second,
		NodeHeartbeatMaxAge:   time.Minute,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Listen != ":5555" || cfg.SessionRequestTimeout != 30*time.Second {
		t.Fatalf("explicit values overwritten: %+v", cfg)
	}
	if cfg.NodeHeartbeatMaxAge != time.Minute {
		t.Fatalf("explicit heartbeat max age overwritten: %v", cfg.NodeHeartbeatMaxAge)
	}
}
