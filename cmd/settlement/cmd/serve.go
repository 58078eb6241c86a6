package cmd

import (
	"context"
	"net/http"
	"time"

	settlement "github.com/kaifufi/nft-settlement-sdk-go"
	"github.com/kaifufi/nft-settlement-sdk-go/api"
	"github.com/kaifufi/nft-settlement-sdk-go/chain"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	listenAddr   string
	watchEvents  bool
	pollInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the order pre-flight API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("listen") {
			config.ListenAddr = listenAddr
		}
		if err := config.Settlement.Validate(); err != nil {
			return err
		}
		if config.RPCURL == "" {
			return errors.New("RPC_URL is required")
		}

		caller, err := chain.NewContractCaller(config.RPCURL, config.Settlement.Address.Hex())
		if err != nil {
			return err
		}
		defer caller.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
		validator, err := settlement.NewRemoteValidator(initCtx, caller, config.Settlement.ReplayMode, logger)
		initCancel()
		if err != nil {
			return err
		}

		server := api.NewServer(validator, logger)
		if watchEvents {
			watcher := settlement.NewLogWatcher(caller, pollInterval, logger)
			server.WithEvents(watcher)
			go func() {
				if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
					logger.With(zap.Error(err)).Error("Watcher stopped")
				}
			}()
		}

		httpServer := &http.Server{
			Addr:              config.ListenAddr,
			Handler:           server.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}

		logger.With(
			zap.String("listen", config.ListenAddr),
			zap.String("settlement", config.Settlement.Address.Hex()),
			zap.Bool("events", watchEvents),
		).Info("Serving settlement API and /metrics")
		return httpServer.ListenAndServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "Overrides LISTEN_ADDR")
	serveCmd.Flags().BoolVar(&watchEvents, "events", true, "Streams Settled logs on /v1/events")
	serveCmd.Flags().DurationVar(&pollInterval, "poll-interval", settlement.DefaultPollInterval, "Sets how often new blocks are polled")
	rootCmd.AddCommand(serveCmd)
}
