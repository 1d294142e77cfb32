package constants

import "testing"

func TestPolicy_Valid(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		want   bool
	}{
		{
			name:   "baseline is valid",
			policy: PolicyBaseline,
			want:   true,
		},
		{
			name:   "proposed is valid",
			policy: PolicyProposed,
			want:   true,
		},
		{
			name:   "empty string is invalid",
			policy: Policy(""),
			want:   false,
		},
		{
			name:   "BASELINE uppercase is invalid",
			policy: Policy("BASELINE"),
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Valid(); got != tt.want {
				t.Errorf("Policy.Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicyFor(t *testing.T) {
	tests := []struct {
		lambda float64
		want   Policy
	}{
		{0, PolicyBaseline},
		{0.1, PolicyProposed},
		{-0.5, PolicyProposed},
	}

	for _, tt := range tests {
		if got := PolicyFor(tt.lambda); got != tt.want {
			t.Errorf("PolicyFor(%v) = %q, want %q", tt.lambda, got, tt.want)
		}
	}
}
