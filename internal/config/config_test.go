package config

import (
	"testing"
	"time"
)

func TestServerConfigTimeouts(t *testing.T) {
	cfg := ServerConfig{
		ReadTimeout:     "10s",
		WriteTimeout:    "30s",
		ShutdownTimeout: "1m",
	}

	read, err := cfg.GetReadTimeout()
	if err != nil || read != 10*time.Second {
		t.Errorf("GetReadTimeout = %v, %v; want 10s", read, err)
	}
	write, err := cfg.GetWriteTimeout()
	if err != nil || write != 30*time.Second {
		t.Errorf("GetWriteTimeout = %v, %v; want 30s", write, err)
	}
	shutdown, err := cfg.GetShutdownTimeout()
	if err != nil || shutdown != time.Minute {
		t.Errorf("GetShutdownTimeout = %v, %v; want 1m", shutdown, err)
	}
}

func TestServerConfigTimeoutsUnsetAreZero(t *testing.T) {
	var cfg ServerConfig

	read, err := cfg.GetReadTimeout()
	if err != nil || read != 0 {
		t.Errorf("GetReadTimeout = %v, %v; want 0 for unset value", read, err)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30m", 30 * time.Minute, false},
		{"24h", 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"", 0, false},
		{"bogus", 0, true},
	}

	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseDuration(%q) expected error, got %v", tt.in, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("parseDuration(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}
