package sqladapter

import "testing"

func TestResolveEndpointPrefersExplicitOverride(t *testing.T) {
	got := ResolveEndpoint("mainnet", "https://override.example/query")
	if got != "https://override.example/query" {
		t.Fatalf("expected the explicit override to win, got %q", got)
	}
}

func TestResolveEndpointFallsBackToChainRegistry(t *testing.T) {
	got := ResolveEndpoint("testnet", "")
	if got != chainEndpoints["testnet"] {
		t.Fatalf("expected the registered testnet endpoint, got %q", got)
	}
}

func TestResolveEndpointReturnsEmptyForUnknownChain(t *testing.T) {
	if got := ResolveEndpoint("some-unrecognized-chain", ""); got != "" {
		t.Fatalf("expected an empty endpoint for an unrecognized chain, got %q", got)
	}
}
