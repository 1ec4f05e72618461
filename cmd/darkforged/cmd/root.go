package cmd

import (
	"github.com/spf13/cobra"

	"darkforge/internal/config"
)

const BinaryName = "darkforged"

// Version is stamped at build time with -ldflags "-X darkforge/cmd/darkforged/cmd.Version=...".
var Version = "dev"

// NewRootCmd creates the node command tree. It is called once in main.
func NewRootCmd() *cobra.Command {
	v := config.NewViper()

	rootCmd := &cobra.Command{
		Use:           BinaryName,
		Short:         "DarkForge node: ABCI application, FHE coprocessor and decryption relayer",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SetOut(cmd.OutOrStdout())
			cmd.SetErr(cmd.ErrOrStderr())
			return v.BindPFlags(cmd.Flags())
		},
	}
	rootCmd.PersistentFlags().String(config.KeyHome, config.DefaultHome, "node home directory")
	rootCmd.PersistentFlags().String(config.KeyLogLevel, "info", "log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().String(config.KeyLogFormat, "plain", "log format (plain|json)")

	rootCmd.AddCommand(
		initCmd(v),
		startCmd(v),
		versionCmd(),
	)
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the node version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(Version)
		},
	}
}
