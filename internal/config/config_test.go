package config

import (
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "counseling", SSLMode: "disable"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
		Twilio: TwilioConfig{
			AccountSID: "AC123",
			AuthToken:  "tok",
			FromNumber: "+15550000000",
		},
		ElevenLabs: ElevenLabsConfig{APIKey: "xi-key", AgentID: "agent_1"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_AcceptsCompleteLocalConfig(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.DB.SSLMode = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validConfig()
	c.DB.SSLMode = ""
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_RequiresProviderCredentials(t *testing.T) {
	c := validConfig()
	c.Twilio.AuthToken = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for missing twilio auth token")
	}

	c = validConfig()
	c.ElevenLabs.AgentID = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for missing agent id")
	}
}

func TestValidate_AppliesCallPolicyDefaults(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Calls.LeaseTTL != 3*time.Minute {
		t.Fatalf("expected default lease ttl, got %v", c.Calls.LeaseTTL)
	}
	if c.Calls.PlacementTimeout != 5*time.Second {
		t.Fatalf("expected default placement timeout, got %v", c.Calls.PlacementTimeout)
	}
	if c.Calls.PlaceRetries != 2 {
		t.Fatalf("expected default retries, got %d", c.Calls.PlaceRetries)
	}
	if c.Calls.ReconcileInterval != 30*time.Second {
		t.Fatalf("expected default reconcile interval, got %v", c.Calls.ReconcileInterval)
	}
}
