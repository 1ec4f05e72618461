package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"darkforge/internal/config"
	"darkforge/internal/coprocessor"
)

const flagOverwrite = "overwrite"

// initCmd writes <home>/config/darkforge.toml with a fresh coprocessor seed.
// Every validator must run with the same seed, so copy the file rather than
// running init on each host.
func initCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default node config with a fresh coprocessor seed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if v.GetString(config.KeyCoprocessorSeed) == "" {
				seed := make([]byte, coprocessor.SeedBytes)
				if _, err := rand.Read(seed); err != nil {
					return fmt.Errorf("generate seed: %w", err)
				}
				v.Set(config.KeyCoprocessorSeed, hex.EncodeToString(seed))
			}
			overwrite, _ := cmd.Flags().GetBool(flagOverwrite)
			path, err := config.WriteNode(v, overwrite)
			if err != nil {
				return err
			}
			cmd.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().String(config.KeyChainID, "darkforge-1", "CometBFT chain id")
	cmd.Flags().Uint64(config.KeyEVMChainID, 9000, "chain id of the decryption signing domain")
	cmd.Flags().Bool(flagOverwrite, false, "replace an existing config file")
	return cmd
}
