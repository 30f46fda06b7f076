package main

import (
	"testing"
	"time"

	"granny-companion/internal/config"
)

func TestAutoStartEnabled(t *testing.T) {
	tests := []struct {
		name      string
		delay     time.Duration
		requested bool
		want      bool
	}{
		{"default delay", 500 * time.Millisecond, true, true},
		{"zero delay disables", 0, true, false},
		{"no-auto-start flag", 500 * time.Millisecond, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{AutoStartDelay: tt.delay}
			if got := autoStartEnabled(cfg, tt.requested); got != tt.want {
				t.Errorf("autoStartEnabled() = %v, want %v", got, tt.want)
			}
		})
	}
}
