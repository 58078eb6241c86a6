package cmd

import (
	"crypto/ecdsa"
	"os"

	"github.com/kaifufi/nft-settlement-sdk-go/chain"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	useMnemonic  bool
	accountIndex uint32
)

var signCmd = &cobra.Command{
	Use:   "sign [order.json|-]",
	Short: "Signs an order as its seller",
	Long: "Signs an order as its seller. The key is read from SIGNER_KEY, " +
		"or prompted for. With --mnemonic a BIP39 phrase is prompted for instead.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Settlement.Validate(); err != nil {
			return err
		}
		input, err := readOrder(args[0])
		if err != nil {
			return err
		}
		key, err := signerKey()
		if err != nil {
			return err
		}

		builder, err := chain.NewOrderBuilder(config.Settlement.Address.Hex(), int64(config.Settlement.ChainID), key)
		if err != nil {
			return err
		}
		signed, err := builder.BuildSignedOrder(&chain.OrderData{
			Seller:        input.Seller,
			AssetContract: input.AssetContract,
			PaymentAsset:  input.PaymentAsset,
			AssetID:       input.AssetID,
			StartPrice:    input.StartPrice,
			EndPrice:      input.EndPrice,
			Start:         input.Start,
			Deadline:      input.Deadline,
			Nonce:         input.Nonce,
		})
		if err != nil {
			return err
		}

		logger.With(zap.String("seller", builder.SignerAddress().Hex())).Debug("CLI: order signed")
		return printJSON(signed)
	},
}

func signerKey() (*ecdsa.PrivateKey, error) {
	if useMnemonic {
		mnemonic, err := promptSecret("Mnemonic")
		if err != nil {
			return nil, err
		}
		return chain.KeyFromMnemonic(mnemonic, "", accountIndex)
	}

	hexKey, ok := os.LookupEnv("SIGNER_KEY")
	if !ok {
		var err error
		hexKey, err = promptSecret("Private key")
		if err != nil {
			return nil, err
		}
	}
	if hexKey == "" {
		return nil, errors.New("no signer key given")
	}
	return chain.ParsePrivateKey(hexKey)
}

func init() {
	signCmd.Flags().BoolVar(&useMnemonic, "mnemonic", false, "Derives the signer from a BIP39 mnemonic")
	signCmd.Flags().Uint32Var(&accountIndex, "index", 0, "Sets the account index used with --mnemonic")
	rootCmd.AddCommand(signCmd)
}
