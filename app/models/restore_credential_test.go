package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRestoreCredentialUsable(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	used := now.Add(-time.Minute)

	tests := []struct {
		name string
		cred RestoreCredential
		want bool
	}{
		{
			name: "fresh credential",
			cred: RestoreCredential{ExpiresAt: now.Add(10 * time.Minute), MaxAttempts: RestoreMaxAttempts},
			want: true,
		},
		{
			name: "last attempt still allowed",
			cred: RestoreCredential{ExpiresAt: now.Add(time.Minute), Attempts: RestoreMaxAttempts - 1, MaxAttempts: RestoreMaxAttempts},
			want: true,
		},
		{
			name: "already used",
			cred: RestoreCredential{ExpiresAt: now.Add(time.Minute), MaxAttempts: RestoreMaxAttempts, UsedAt: &used},
			want: false,
		},
		{
			name: "expired exactly now",
			cred: RestoreCredential{ExpiresAt: now, MaxAttempts: RestoreMaxAttempts},
			want: false,
		},
		{
			name: "attempts exhausted",
			cred: RestoreCredential{ExpiresAt: now.Add(time.Minute), Attempts: RestoreMaxAttempts, MaxAttempts: RestoreMaxAttempts},
			want: false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.cred.Usable(now))
		})
	}
}
