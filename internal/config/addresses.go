package config

import (
	"os"
	"strings"
	"sync"
)

// NetworkEndpoints holds the fixed, network-specific coordinates this
// system needs beyond what it reads from the registry: the chain-level
// defaults a NEAR mainnet deployment and a testnet deployment disagree on.
type NetworkEndpoints struct {
	RegistryContractID string
	LakeBucket         string
	ChainID            string
}

var (
	endpoints     *NetworkEndpoints
	endpointsOnce sync.Once
)

var mainnetEndpoints = NetworkEndpoints{
	RegistryContractID: "registry.near-indexers.near",
	LakeBucket:          "near-lake-data-mainnet",
	ChainID:             "mainnet",
}

var testnetEndpoints = NetworkEndpoints{
	RegistryContractID: "dev-registry.near-indexers.testnet",
	LakeBucket:          "near-lake-data-testnet",
	ChainID:             "testnet",
}

// Endpoints returns the global NetworkEndpoints for the configured network.
// Reads the NEAR_NETWORK env var on first call ("testnet" or "mainnet",
// default "mainnet").
func Endpoints() *NetworkEndpoints {
	endpointsOnce.Do(func() {
		e := testnetEndpoints
		if Network() == "mainnet" {
			e = mainnetEndpoints
		}
		endpoints = &e
	})
	return endpoints
}

// Network returns "testnet" or "mainnet" based on the NEAR_NETWORK env var.
func Network() string {
	network := strings.TrimSpace(strings.ToLower(os.Getenv("NEAR_NETWORK")))
	if network == "testnet" {
		return "testnet"
	}
	return "mainnet"
}
