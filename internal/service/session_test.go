package service

import (
	"testing"
	"time"
)

func TestNormalizeSessionDuration(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"zero uses default", 0, DefaultSessionDuration},
		{"below minimum clamps up", 5 * time.Minute, MinSessionDuration},
		{"minimum kept", MinSessionDuration, MinSessionDuration},
		{"typical kept", 12 * time.Hour, 12 * time.Hour},
		{"maximum kept", MaxSessionDuration, MaxSessionDuration},
		{"above maximum clamps down", 60 * 24 * time.Hour, MaxSessionDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeSessionDuration(tt.in); got != tt.want {
				t.Errorf("normalizeSessionDuration(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewIdentityService_AppliesSessionDuration(t *testing.T) {
	svc := NewIdentityService(nil, nil, nil, IdentityConfig{
		SessionDuration: 7 * 24 * time.Hour,
	}, newTestLogger()).(*identityService)

	if svc.sessionDuration != 7*24*time.Hour {
		t.Errorf("sessionDuration = %v, want %v", svc.sessionDuration, 7*24*time.Hour)
	}
}

func TestNewIdentityService_NormalizesAdminEmails(t *testing.T) {
	svc := NewIdentityService(nil, nil, nil, IdentityConfig{
		AdminEmails: []string{" Owner@Example.com ", ""},
	}, newTestLogger()).(*identityService)

	if !svc.adminEmails["owner@example.com"] || len(svc.adminEmails) != 1 {
		t.Errorf("adminEmails = %v, want only owner@example.com", svc.adminEmails)
	}
}
