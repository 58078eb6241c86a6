package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/kaifufi/nft-settlement-sdk-go/chain"
	"github.com/manifoldco/promptui"
	"github.com/pkg/errors"
)

func printJSON(in interface{}) error {
	out, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(out))
	return nil
}

// readJSON decodes path into out; "-" reads stdin
func readJSON(path string, out interface{}) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(out); err != nil {
		return errors.Wrapf(err, "error decoding %s", path)
	}
	return nil
}

func readOrder(path string) (*chain.Order, error) {
	var order chain.Order
	if err := readJSON(path, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func readSignedOrder(path string) (*chain.SignedOrder, error) {
	var signed chain.SignedOrder
	if err := readJSON(path, &signed); err != nil {
		return nil, err
	}
	if signed.Order == nil {
		return nil, errors.New("signed order has no order")
	}
	return &signed, nil
}

func promptSecret(label string) (string, error) {
	prompt := promptui.Prompt{
		Label: label,
		Mask:  '*',
	}
	return prompt.Run()
}

func settlementDomain() (*chain.EIP712Domain, error) {
	if err := config.Settlement.Validate(); err != nil {
		return nil, err
	}
	return chain.NewEIP712Domain(config.Settlement.ChainID.Big(), config.Settlement.Address), nil
}
