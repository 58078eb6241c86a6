package cmd

import (
	"github.com/kaifufi/nft-settlement-sdk-go/chain"
	"github.com/spf13/cobra"
)

var hashCmd = &cobra.Command{
	Use:   "hash [order.json|-]",
	Short: "Prints the struct hash and signing digest of an order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		order, err := readOrder(args[0])
		if err != nil {
			return err
		}
		typed, err := chain.OrderToTypedData(order)
		if err != nil {
			return err
		}
		domain, err := settlementDomain()
		if err != nil {
			return err
		}

		separator := domain.Hash()
		return printJSON(map[string]string{
			"domainSeparator": separator.Hex(),
			"structHash":      typed.Hash().Hex(),
			"digest":          chain.CreateOrderSignHash(separator, typed).Hex(),
		})
	},
}

var typedDataCmd = &cobra.Command{
	Use:   "typed-data [order.json|-]",
	Short: "Prints the eth_signTypedData_v4 payload of an order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		order, err := readOrder(args[0])
		if err != nil {
			return err
		}
		typed, err := chain.OrderToTypedData(order)
		if err != nil {
			return err
		}
		domain, err := settlementDomain()
		if err != nil {
			return err
		}
		return printJSON(typed.TypedData(domain))
	},
}

func init() {
	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(typedDataCmd)
}
