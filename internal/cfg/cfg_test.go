package cfg

import (
	"flag"
	"strings"
	"testing"
	"time"
)

func newFlagSet(c *App) *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	Register(fs, c)
	return fs
}

func TestRegister_Defaults(t *testing.T) {
	var c App
	fs := newFlagSet(&c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if c.Port != 17 {
		t.Errorf("default port = %d, want 17", c.Port)
	}
	if c.RateThreshold != 10 || c.RateDecay != 10 {
		t.Errorf("default threshold/decay = %d/%d, want 10/10", c.RateThreshold, c.RateDecay)
	}
	if c.DecayInterval != 60*time.Second {
		t.Errorf("default decay interval = %v, want 60s", c.DecayInterval)
	}
	if c.FailFast {
		t.Error("fail-fast should default to off")
	}
}

func TestFillFromEnv_SetsPort(t *testing.T) {
	t.Setenv("QUOTDD_PORT", "1700")

	var c App
	fs := newFlagSet(&c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := FillFromEnv(fs, EnvPrefix, nil); err != nil {
		t.Fatalf("FillFromEnv: %v", err)
	}

	if c.Port != 1700 {
		t.Fatalf("port = %d, want 1700 from QUOTDD_PORT", c.Port)
	}
}

func TestFillFromEnv_CLIWins(t *testing.T) {
	t.Setenv("QUOTDD_PORT", "1700")

	var c App
	fs := newFlagSet(&c)
	if err := fs.Parse([]string{"-port", "1800"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	var logged []string
	err := FillFromEnv(fs, EnvPrefix, func(format string, args ...any) {
		logged = append(logged, format)
	})
	if err != nil {
		t.Fatalf("FillFromEnv: %v", err)
	}

	if c.Port != 1800 {
		t.Fatalf("port = %d, cli flag should win over env", c.Port)
	}
	if len(logged) != 1 {
		t.Fatalf("override should be logged once, got %d", len(logged))
	}
}

func TestFillFromEnv_InvalidPortIsFatal(t *testing.T) {
	t.Setenv("QUOTDD_PORT", "not-a-port")

	var c App
	fs := newFlagSet(&c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	err := FillFromEnv(fs, EnvPrefix, nil)
	if err == nil {
		t.Fatal("malformed QUOTDD_PORT must fail startup")
	}
	if !strings.Contains(err.Error(), "QUOTDD_PORT") {
		t.Fatalf("error should name the env key: %v", err)
	}
}

func TestValidate_OK(t *testing.T) {
	var c App
	fs := newFlagSet(&c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := Validate(c); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidate_PortRange(t *testing.T) {
	var c App
	fs := newFlagSet(&c)
	fs.Parse(nil)

	c.Port = 70000
	if err := Validate(c); err == nil {
		t.Fatal("port above 65535 should fail")
	}

	c.Port = 0
	if err := Validate(c); err != nil {
		t.Fatalf("port 0 (ephemeral) should be allowed: %v", err)
	}
}

func TestValidate_PortCollision(t *testing.T) {
	var c App
	fs := newFlagSet(&c)
	fs.Parse(nil)

	c.Port = 9000 // same as default admin port
	if err := Validate(c); err == nil {
		t.Fatal("port == admin-port should fail")
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	var c App
	fs := newFlagSet(&c)
	fs.Parse(nil)

	c.Port = -1
	c.LogLevel = "loud"
	c.RateThreshold = 0

	err := Validate(c)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"PORT", "LOG_LEVEL", "RATE_THRESHOLD"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}

func TestValidate_TracingRequiresEndpoint(t *testing.T) {
	var c App
	fs := newFlagSet(&c)
	fs.Parse(nil)

	c.EnableTracing = true
	if err := Validate(c); err == nil {
		t.Fatal("tracing without endpoint should fail")
	}

	c.OTLPEndpoint = "localhost:4317"
	if err := Validate(c); err != nil {
		t.Fatalf("host:port endpoint should validate: %v", err)
	}
}
