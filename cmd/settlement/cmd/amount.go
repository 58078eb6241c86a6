package cmd

import (
	"fmt"
	"math/big"
	"strconv"

	settlement "github.com/kaifufi/nft-settlement-sdk-go"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var amountCmd = &cobra.Command{
	Use:   "amount",
	Short: "Converts between token amounts and base units",
}

var toUnitsCmd = &cobra.Command{
	Use:   "to-units [amount] [decimals]",
	Short: "Converts a decimal amount to base units",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		decimals, err := decimalsArg(args[1])
		if err != nil {
			return err
		}
		units, err := settlement.AmountToBaseUnits(args[0], decimals)
		if err != nil {
			return err
		}
		fmt.Println(units.String())
		return nil
	},
}

var fromUnitsCmd = &cobra.Command{
	Use:   "from-units [units] [decimals]",
	Short: "Converts base units to a decimal amount",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		decimals, err := decimalsArg(args[1])
		if err != nil {
			return err
		}
		units, ok := new(big.Int).SetString(args[0], 10)
		if !ok {
			return errors.New("invalid base units")
		}
		fmt.Println(settlement.BaseUnitsToAmount(units, decimals))
		return nil
	},
}

func decimalsArg(in string) (int32, error) {
	out, err := strconv.ParseInt(in, 10, 32)
	if err != nil || out < 0 || out > settlement.MaxDecimals {
		return 0, errors.Errorf("decimals must be between 0 and %d", settlement.MaxDecimals)
	}
	return int32(out), nil
}

func init() {
	amountCmd.AddCommand(toUnitsCmd)
	amountCmd.AddCommand(fromUnitsCmd)
	rootCmd.AddCommand(amountCmd)
}
