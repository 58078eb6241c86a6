package cmd

import (
	"os"

	"github.com/ethereum/go-ethereum/common"
	settlement "github.com/kaifufi/nft-settlement-sdk-go"
	"github.com/kaifufi/nft-settlement-sdk-go/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	envFile        string
	chainID        int64
	settlementAddr string
	rpcURL         string
	debug          bool
	logFormat      string

	config *settlement.EnvConfig
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:          "settlement",
	Short:        "Build, sign and check signed NFT settlement orders",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := settlement.LoadEnvConfig(envFile)
		if err != nil {
			return errors.Wrap(err, "error loading config")
		}

		flags := cmd.Flags()
		if flags.Changed("chain-id") {
			cfg.Settlement.ChainID = settlement.ChainID(chainID)
		}
		if flags.Changed("settlement") {
			if !common.IsHexAddress(settlementAddr) {
				return errors.New("invalid settlement address")
			}
			cfg.Settlement.Address = common.HexToAddress(settlementAddr)
		}
		if flags.Changed("rpc-url") {
			cfg.RPCURL = rpcURL
		}
		if flags.Changed("debug") {
			cfg.Debug = debug
		}
		if flags.Changed("log-format") {
			cfg.LogFormat = logFormat
		}

		config = cfg
		logger = log.NewLogger(cfg.Debug, cfg.LogFormat)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Sets the .env file to load")
	rootCmd.PersistentFlags().Int64Var(&chainID, "chain-id", 0, "Overrides CHAIN_ID")
	rootCmd.PersistentFlags().StringVar(&settlementAddr, "settlement", "", "Overrides SETTLEMENT_ADDRESS")
	rootCmd.PersistentFlags().StringVar(&rpcURL, "rpc-url", "", "Overrides RPC_URL")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enables debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Sets the log format (console or json)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
