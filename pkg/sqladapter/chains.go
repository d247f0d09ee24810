package sqladapter

// chainEndpoints maps a chain.id to the SQL query-service endpoint that
// backend serves, mirroring the original chains.rs chain-to-endpoint
// registry: which Tableland network a deployment talks to is an enumerated
// identifier, not an arbitrary URL the operator must already know.
var chainEndpoints = map[string]string{
	"mainnet": "https://tableland.network/api/v1/query",
	"testnet": "https://testnets.tableland.network/api/v1/query",
	// "local" intentionally has no registered endpoint: a bare local
	// deployment with no sql.endpoint override falls back to the mock
	// adapter rather than dialing a guessed localhost address.
}

// ResolveEndpoint returns the SQL adapter endpoint to use for chainID. An
// explicit sql.endpoint override always wins (it lets an operator point at
// a non-standard deployment); otherwise the endpoint registered for chainID
// is used, or "" if chainID is unrecognized.
func ResolveEndpoint(chainID, explicitEndpoint string) string {
	if explicitEndpoint != "" {
		return explicitEndpoint
	}
	return chainEndpoints[chainID]
}
