package session

import (
	"errors"
	"testing"
)

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	if err := p.Validate(); err != nil {
		t.Fatalf("DefaultParams().Validate() error = %v", err)
	}
	if p.RekeyAfterUses != 300000 || p.ExpireAfterUses != 2147483648 {
		t.Errorf("use limits = %d / %d", p.RekeyAfterUses, p.ExpireAfterUses)
	}
	if p.RekeyAfterTimeMs != 7200000 || p.RekeyAfterTimeMaxJitterMs != 600000 {
		t.Errorf("time limits = %d / %d", p.RekeyAfterTimeMs, p.RekeyAfterTimeMaxJitterMs)
	}
	if p.IncomingNegotiationTimeoutMs != 2000 || p.RetryIntervalMs != 500 || p.MTU != 1500 {
		t.Errorf("negotiation = %d / %d, MTU %d", p.IncomingNegotiationTimeoutMs, p.RetryIntervalMs, p.MTU)
	}
}

func TestParams_WithDefaults(t *testing.T) {
	got := Params{MTU: 1280, RekeyAfterTimeMaxJitterMs: -1}.WithDefaults()
	if got.MTU != 1280 {
		t.Errorf("MTU = %d, want 1280 kept", got.MTU)
	}
	if got.RekeyAfterTimeMaxJitterMs != -1 {
		t.Errorf("jitter = %d, want -1 kept", got.RekeyAfterTimeMaxJitterMs)
	}
	if got.RekeyAfterUses != DefaultRekeyAfterUses || got.MaxAuthFailures != DefaultMaxAuthFailures {
		t.Errorf("zero fields not defaulted: %+v", got)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(p *Params)
	}{
		{"zero rekey uses", func(p *Params) { p.RekeyAfterUses = 0 }},
		{"expire not above rekey", func(p *Params) { p.ExpireAfterUses = p.RekeyAfterUses }},
		{"zero rekey time", func(p *Params) { p.RekeyAfterTimeMs = 0 }},
		{"zero retry", func(p *Params) { p.RetryIntervalMs = 0 }},
		{"negative timeout", func(p *Params) { p.IncomingNegotiationTimeoutMs = -1 }},
		{"tiny MTU", func(p *Params) { p.MTU = 64 }},
		{"tiny replay window", func(p *Params) { p.ReplayWindowSize = 32 }},
		{"zero in flight", func(p *Params) { p.MaxMessagesInFlight = 0 }},
		{"zero fragment timeout", func(p *Params) { p.FragmentTimeoutMs = 0 }},
		{"zero auth failures", func(p *Params) { p.MaxAuthFailures = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.modify(&p)
			if err := p.Validate(); !errors.Is(err, ErrInvalidParams) {
				t.Errorf("Validate() error = %v, want ErrInvalidParams", err)
			}
		})
	}
}

func TestRekeyDeadline(t *testing.T) {
	p := DefaultParams()
	p.RekeyAfterTimeMs = 1000
	p.RekeyAfterTimeMaxJitterMs = 200

	tests := []struct {
		random float64
		want   int64
	}{
		{0, 1100},
		{0.5, 1200},
		{0.999, 1299},
	}
	for _, tt := range tests {
		if got := rekeyDeadline(100, p, fixedRandom(tt.random)); got != tt.want {
			t.Errorf("rekeyDeadline(random=%v) = %d, want %d", tt.random, got, tt.want)
		}
	}

	p.RekeyAfterTimeMaxJitterMs = -1
	if got := rekeyDeadline(100, p, fixedRandom(0.9)); got != 1100 {
		t.Errorf("rekeyDeadline without jitter = %d, want 1100", got)
	}
}
