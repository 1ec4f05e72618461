package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"darkforge/internal/chainclient"
)

const flagOverwrite = "overwrite"

func keysCmd(cctx *clientContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the player account key",
	}
	cmd.AddCommand(keysNewCmd(cctx), keysShowCmd(cctx))
	return cmd
}

func keysNewCmd(cctx *clientContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Generate a secp256k1 account key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := cctx.cfg.KeyFile
			overwrite, _ := cmd.Flags().GetBool(flagOverwrite)
			if _, err := os.Stat(path); err == nil && !overwrite {
				return fmt.Errorf("%s already exists (use --%s to replace it)", path, flagOverwrite)
			}
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return err
			}
			if err := crypto.SaveECDSA(path, key); err != nil {
				return fmt.Errorf("save key: %w", err)
			}
			cmd.Printf("Account %s saved to %s\n", chainclient.Address(key).Hex(), path)
			return nil
		},
	}
	cmd.Flags().Bool(flagOverwrite, false, "replace an existing key file")
	return cmd
}

func keysShowCmd(cctx *clientContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the account address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := cctx.key()
			if err != nil {
				return err
			}
			cmd.Println(chainclient.Address(key).Hex())
			return nil
		},
	}
}
