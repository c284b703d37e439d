package domain

// Network identifies the cluster the watched accounts live on.
type Network string

const (
	NetworkMainnet  Network = "mainnet-beta"
	NetworkDevnet   Network = "devnet"
	NetworkTestnet  Network = "testnet"
	NetworkLocalnet Network = "localnet"
)

// DefaultDecimals is the number of decimals of the native unit (lamports per SOL).
const DefaultDecimals int32 = 9
