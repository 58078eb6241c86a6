package main

import "github.com/kaifufi/nft-settlement-sdk-go/cmd/settlement/cmd"

func main() {
	cmd.Execute()
}
