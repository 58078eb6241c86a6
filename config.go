package settlement

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// ChainID represents a blockchain chain ID
type ChainID int64

const (
	ChainIDEthereumMainnet ChainID = 1        // Ethereum mainnet
	ChainIDBNBMainnet      ChainID = 56       // BNB Chain (BSC) mainnet
	ChainIDSepolia         ChainID = 11155111 // Sepolia testnet
)

// SupportedChainIDs lists all supported chain IDs
var SupportedChainIDs = []ChainID{ChainIDEthereumMainnet, ChainIDBNBMainnet, ChainIDSepolia}

// DefaultFeeDivisor is the fixed-point divisor fee rates are expressed in (basis points)
const DefaultFeeDivisor = 10_000

// Big returns the chain id as a big integer
func (id ChainID) Big() *big.Int {
	return big.NewInt(int64(id))
}

// Config holds the parameters of one settlement deployment
type Config struct {
	ChainID    ChainID
	Address    common.Address // identity the domain separator binds to
	Owner      common.Address
	FeeAddress common.Address
	ReplayMode ReplayMode
	FeeDivisor *big.Int
}

// EnvConfig holds the runtime settings of the CLI and API server
type EnvConfig struct {
	Settlement Config
	RPCURL     string
	ListenAddr string
	Debug      bool
	LogFormat  string
}

// Validate checks the config for a usable deployment
func (c *Config) Validate() error {
	isSupported := false
	for _, supportedID := range SupportedChainIDs {
		if c.ChainID == supportedID {
			isSupported = true
			break
		}
	}
	if !isSupported {
		return &InvalidParamError{Message: fmt.Sprintf("chain_id must be one of %v", SupportedChainIDs)}
	}
	if c.Address == (common.Address{}) {
		return &InvalidParamError{Message: "settlement address is required"}
	}
	if c.ReplayMode != ReplayDigest && c.ReplayMode != ReplayNonce {
		return &InvalidParamError{Message: fmt.Sprintf("unknown replay mode %d", c.ReplayMode)}
	}
	if c.FeeDivisor == nil || c.FeeDivisor.Sign() <= 0 {
		return &InvalidParamError{Message: "fee divisor must be positive"}
	}
	return nil
}

// LoadEnvConfig loads .env files (when present) and reads the environment
func LoadEnvConfig(files ...string) (*EnvConfig, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	mode, err := ParseReplayMode(getString("REPLAY_MODE", "digest"))
	if err != nil {
		return nil, err
	}

	divisor, ok := new(big.Int).SetString(getString("FEE_DIVISOR", strconv.Itoa(DefaultFeeDivisor)), 10)
	if !ok {
		return nil, &InvalidParamError{Message: "FEE_DIVISOR must be an integer"}
	}

	cfg := &EnvConfig{
		Settlement: Config{
			ChainID:    ChainID(getInt("CHAIN_ID", int64(ChainIDEthereumMainnet))),
			Address:    getAddress("SETTLEMENT_ADDRESS"),
			Owner:      getAddress("OWNER_ADDRESS"),
			FeeAddress: getAddress("FEE_ADDRESS"),
			ReplayMode: mode,
			FeeDivisor: divisor,
		},
		RPCURL:     getString("RPC_URL", ""),
		ListenAddr: getString("LISTEN_ADDR", ":8080"),
		Debug:      getBool("DEBUG", false),
		LogFormat:  getString("LOG_FORMAT", "console"),
	}

	return cfg, nil
}

// ParseReplayMode parses "digest" or "nonce"
func ParseReplayMode(s string) (ReplayMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "digest", "":
		return ReplayDigest, nil
	case "nonce":
		return ReplayNonce, nil
	default:
		return 0, &InvalidParamError{Message: fmt.Sprintf("replay mode must be digest or nonce, got: %s", s)}
	}
}

func getString(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}

	return defaultValue
}

func getInt(key string, defaultValue int64) int64 {
	val, err := strconv.ParseInt(getString(key, ""), 10, 64)
	if err != nil {
		return defaultValue
	}
	return val
}

func getBool(key string, defaultValue bool) bool {
	if val, err := strconv.ParseBool(getString(key, "")); err == nil {
		return val
	}

	return defaultValue
}

func getAddress(key string) common.Address {
	return common.HexToAddress(getString(key, ""))
}
