package cmd

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	settlement "github.com/kaifufi/nft-settlement-sdk-go"
	"github.com/kaifufi/nft-settlement-sdk-go/chain"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	buyerAddr   string
	callTimeout time.Duration
)

var validateCmd = &cobra.Command{
	Use:   "validate [signed-order.json|-]",
	Short: "Checks a signed order against the deployed settlement contract",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		signed, err := readSignedOrder(args[0])
		if err != nil {
			return err
		}
		order, err := chain.OrderToTypedData(signed.Order)
		if err != nil {
			return err
		}
		sig, err := hexutil.Decode(signed.Signature)
		if err != nil {
			return errors.Wrap(err, "invalid signature")
		}
		buyer := settlement.NoProbeBuyer
		if buyerAddr != "" {
			if !common.IsHexAddress(buyerAddr) {
				return errors.New("invalid buyer address")
			}
			buyer = common.HexToAddress(buyerAddr)
		}

		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()

		validator, closeFn, err := remoteValidator(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		digest, err := validator.SigningDigest(ctx, order)
		if err != nil {
			return err
		}
		result := map[string]interface{}{
			"digest": digest.Hex(),
			"valid":  true,
		}
		if err := validator.Check(ctx, order, sig, buyer); err != nil {
			reason := settlement.Reason(err)
			if reason == nil {
				return err
			}
			result["valid"] = false
			result["reason"] = reason.Error()
			result["error"] = err.Error()
		}
		return printJSON(result)
	},
}

func remoteValidator(ctx context.Context) (*settlement.Validator, func(), error) {
	if err := config.Settlement.Validate(); err != nil {
		return nil, nil, err
	}
	if config.RPCURL == "" {
		return nil, nil, errors.New("RPC_URL is required")
	}

	caller, err := chain.NewContractCaller(config.RPCURL, config.Settlement.Address.Hex())
	if err != nil {
		return nil, nil, err
	}
	validator, err := settlement.NewRemoteValidator(ctx, caller, config.Settlement.ReplayMode, logger)
	if err != nil {
		caller.Close()
		return nil, nil, err
	}
	return validator, caller.Close, nil
}

func init() {
	validateCmd.Flags().StringVar(&buyerAddr, "buyer", "", "Checks the buyer's balance and allowance too")
	validateCmd.Flags().DurationVar(&callTimeout, "timeout", 30*time.Second, "Sets the RPC timeout")
	rootCmd.AddCommand(validateCmd)
}
