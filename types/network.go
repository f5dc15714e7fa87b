package types

// Network represents the two TON networks.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

func (n Network) IsMainnet() bool {
	return n == NetworkMainnet
}

func (n Network) IsTestnet() bool {
	return n == NetworkTestnet
}

func (n Network) String() string {
	return string(n)
}

// GlobalConfigURL returns the public liteserver config for the network.
func (n Network) GlobalConfigURL() string {
	if n.IsTestnet() {
		return "https://ton.org/testnet-global.config.json"
	}
	return "https://ton.org/global.config.json"
}
