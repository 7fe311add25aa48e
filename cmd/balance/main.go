// Package main provides a small CLI that reads a CarbonToken balance
// straight from the chain, without going through the registry API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/ledger"
)

const defaultRPCURL = "http://127.0.0.1:8545"

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	var (
		rpcURL   string
		contract string
		abiPath  string
		asJSON   bool
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "balance <address>",
		Short: "Print the carbon token balance of an address",
		Long: `Print the carbon token balance of an address. Connection settings default
to RPC_URL, CONTRACT_ADDRESS and CONTRACT_ABI_PATH from the environment.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if contract == "" {
				return fmt.Errorf("contract address required (--contract or CONTRACT_ADDRESS)")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client, err := ledger.NewClient(ctx, ledger.Config{
				RPCURL:          rpcURL,
				ContractAddress: contract,
				ABIPath:         abiPath,
			})
			if err != nil {
				return err
			}
			defer client.Close()

			balance, err := client.BalanceOf(ctx, args[0])
			if err != nil {
				return fmt.Errorf("reading balance: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]string{
					"address":  args[0],
					"contract": contract,
					"balance":  balance.String(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Balance (tokens): %s\n", balance.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&rpcURL, "rpc-url", envOr("RPC_URL", defaultRPCURL), "Ethereum JSON-RPC endpoint")
	cmd.Flags().StringVar(&contract, "contract", os.Getenv("CONTRACT_ADDRESS"), "CarbonToken contract address")
	cmd.Flags().StringVar(&abiPath, "abi", os.Getenv("CONTRACT_ABI_PATH"), "Hardhat artifact or ABI file (embedded ABI when empty)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of text")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall RPC timeout")

	return cmd
}

func main() {
	log.SetLevel(log.WarnLevel)
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
