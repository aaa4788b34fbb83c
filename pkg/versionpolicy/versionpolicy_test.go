// Copyright 2025 Certen Protocol

package versionpolicy

import "testing"

// ============================================================================
// Parse
// ============================================================================

func TestParse(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		wantErr bool
		want    Version
	}{
		{"plain", "dstack-0.5.3", false, Version{Major: 0, Minor: 5, Patch: 3}},
		{"with build", "dstack-0.5.3.2", false, Version{Major: 0, Minor: 5, Patch: 3, Build: 2, HasBuild: true}},
		{"dev variant", "dstack-dev-0.4.0", false, Version{Major: 0, Minor: 4, Patch: 0, Variant: "dev"}},
		{"nvidia variant", "dstack-nvidia-0.5.3", false, Version{Major: 0, Minor: 5, Patch: 3, Variant: "nvidia"}},
		{"nvidia dev variant", "dstack-nvidia-dev-0.5.3", false, Version{Major: 0, Minor: 5, Patch: 3, Variant: "nvidia-dev"}},
		{"malformed", "not-a-version", true, Version{}},
		{"empty", "", true, Version{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q): expected error, got nil", tc.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): unexpected error: %v", tc.input, err)
			}
			if got != tc.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tc.input, got, tc.want)
			}
		})
	}
}

// ============================================================================
// Policy predicates
// ============================================================================

func TestPolicy_Predicates(t *testing.T) {
	cases := []struct {
		baseImage          string
		wantInfoRpc        bool
		wantOnchainKms     bool
		wantLegacy         bool
	}{
		{"dstack-0.3.6", false, false, true},
		{"dstack-0.5.0", true, false, true},
		{"dstack-0.5.1", true, false, true},
		{"dstack-0.5.2", true, false, true},
		{"dstack-0.5.3", true, true, false},
		{"dstack-0.6.0", true, true, false},
	}

	for _, tc := range cases {
		t.Run(tc.baseImage, func(t *testing.T) {
			p, err := NewPolicy(tc.baseImage)
			if err != nil {
				t.Fatalf("NewPolicy(%q): %v", tc.baseImage, err)
			}
			if got := p.SupportsInfoRpcEndpoint(); got != tc.wantInfoRpc {
				t.Errorf("SupportsInfoRpcEndpoint() = %v, want %v", got, tc.wantInfoRpc)
			}
			if got := p.SupportsOnchainKms(); got != tc.wantOnchainKms {
				t.Errorf("SupportsOnchainKms() = %v, want %v", got, tc.wantOnchainKms)
			}
			if got := p.IsLegacyVersion(); got != tc.wantLegacy {
				t.Errorf("IsLegacyVersion() = %v, want %v", got, tc.wantLegacy)
			}
		})
	}
}

// ============================================================================
// Route
// ============================================================================

func TestPolicy_Route(t *testing.T) {
	cases := []struct {
		name                    string
		baseImage               string
		upstreamContractAddress string
		want                    Routing
	}{
		{
			name:      "modern onchain",
			baseImage: "dstack-0.5.3",
			want:      Routing{ContractAddress: "0xabc123", ModelOrDomain: "gw.example.com", Valid: true},
		},
		{
			name:                    "intermediate with upstream address",
			baseImage:               "dstack-0.5.1",
			upstreamContractAddress: "0xupstream",
			want:                    Routing{ContractAddress: "0xupstream", ModelOrDomain: "tproxy.example.com", Valid: true},
		},
		{
			name:      "intermediate without upstream address is invalid",
			baseImage: "dstack-0.5.2",
			want:      Routing{ContractAddress: "", ModelOrDomain: "tproxy.example.com", Valid: false},
		},
		{
			name:      "legacy always invalid",
			baseImage: "dstack-0.4.9",
			want:      Routing{ContractAddress: "", ModelOrDomain: "tproxy.example.com", Valid: false},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewPolicy(tc.baseImage)
			if err != nil {
				t.Fatalf("NewPolicy(%q): %v", tc.baseImage, err)
			}
			got := p.Route("abc123", tc.upstreamContractAddress, "gw.example.com", "tproxy.example.com")
			if got != tc.want {
				t.Errorf("Route() = %+v, want %+v", got, tc.want)
			}
		})
	}
}
