package attack

import (
	"context"
	"errors"
	"net/netip"
	"testing"
)

type fakeResolver map[string][]netip.Addr

func (f fakeResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	if addrs, ok := f[host]; ok {
		return addrs, nil
	}
	return nil, errors.New("no such host")
}

func TestPolicy_Check(t *testing.T) {
	resolver := fakeResolver{
		"intranet.example": {netip.MustParseAddr("10.20.30.40")},
		"public.example":   {netip.MustParseAddr("198.51.100.7")},
	}
	p, err := NewPolicy(
		[]string{"10.0.0.0/8", "127.0.0.1", "fd00::/8", "fe80::/10", "::1/128"},
		[]string{"*.corp.example", "vault.example"},
		resolver,
	)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}

	tests := []struct {
		target  string
		allowed bool
	}{
		{"10.1.1.1", false},
		{"127.0.0.1:22", false},
		{"127.0.0.2", true},
		{"[fd00::1]:22", false},
		{"::ffff:10.0.0.5", false},
		{"198.51.100.7", true},
		{"git.corp.example", false},
		{"corp.example.org", false}, // unresolvable, fails closed
		{"VAULT.example", false},
		{"intranet.example", false},
		{"public.example", true},
		{"https://public.example/login", true},
		{"fe80::1", false},
		{"fe80::1%eth0", false},
		{"[fe80::1%25eth0]:22", false},
		{"::1%lo", false},
		{"http://[fe80::1%25eth0]:8080/", false},
		{"fe80::1%", false},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			target, err := ParseTarget(tt.target)
			if err != nil {
				t.Fatalf("ParseTarget: %v", err)
			}
			err = p.Check(context.Background(), target)
			if tt.allowed && err != nil {
				t.Errorf("expected allowed, got %v", err)
			}
			if !tt.allowed {
				var pe *ProhibitedError
				if !errors.As(err, &pe) {
					t.Errorf("expected ProhibitedError, got %v", err)
				}
			}
		})
	}
}

func TestPolicy_NoResolverSkipsLookup(t *testing.T) {
	p, err := NewPolicy([]string{"10.0.0.0/8"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	target, _ := ParseTarget("some.host.example")
	if err := p.Check(context.Background(), target); err != nil {
		t.Errorf("unexpected rejection: %v", err)
	}
}

func TestNewPolicy_Invalid(t *testing.T) {
	if _, err := NewPolicy([]string{"10.0.0.0/33"}, nil, nil); err == nil {
		t.Error("expected error for bad prefix")
	}
	if _, err := NewPolicy([]string{"not-an-ip"}, nil, nil); err == nil {
		t.Error("expected error for bad address")
	}
}

func TestNewPolicy_ZonedAddress(t *testing.T) {
	p, err := NewPolicy([]string{"fe80::1%eth0"}, nil, nil)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	target, _ := ParseTarget("fe80::1%eth1")
	if err := p.Check(context.Background(), target); err == nil {
		t.Error("expected rejection for the same address on another zone")
	}
}

func TestNilPolicy(t *testing.T) {
	var p *Policy
	if err := p.Check(context.Background(), Target{Host: "10.0.0.1"}); err != nil {
		t.Errorf("nil policy should allow everything, got %v", err)
	}
}
