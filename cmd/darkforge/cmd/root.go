package cmd

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"time"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"darkforge/internal/chainclient"
	"darkforge/internal/config"
	"darkforge/internal/decrypt"
)

const BinaryName = "darkforge"

// clientContext is resolved once per invocation from flags, env and the config file.
type clientContext struct {
	cfg    config.ClientConfig
	logger log.Logger

	chain     *chainclient.Client
	decryptor *decrypt.Client
}

func (c *clientContext) key() (*ecdsa.PrivateKey, error) {
	key, err := crypto.LoadECDSA(c.cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load key %s: %w (run `%s keys new` first)", c.cfg.KeyFile, err, BinaryName)
	}
	return key, nil
}

func (c *clientContext) chainClient() (*chainclient.Client, error) {
	if c.chain != nil {
		return c.chain, nil
	}
	cl, err := chainclient.Dial(c.cfg.Node, c.cfg.ChainID, c.logger)
	if err != nil {
		return nil, err
	}
	c.chain = cl.WithMaxRetries(c.cfg.Retries)
	return c.chain, nil
}

func (c *clientContext) decryptClient() (*decrypt.Client, error) {
	if c.decryptor != nil {
		return c.decryptor, nil
	}
	if c.cfg.Relayer == "" {
		return nil, fmt.Errorf("relayer URL is not configured")
	}
	t := decrypt.NewRetryTransport(decrypt.NewHTTPTransport(c.cfg.Relayer, &http.Client{Timeout: c.cfg.Timeout}), c.cfg.Retries, c.logger)
	c.decryptor = decrypt.NewClient(t,
		decrypt.WithDurationDays(c.cfg.DurationDays),
		decrypt.WithLogger(c.logger),
	)
	return c.decryptor, nil
}

// contract resolves the game contract the node serves.
func (c *clientContext) contract(ctx context.Context) (common.Address, error) {
	cl, err := c.chainClient()
	if err != nil {
		return common.Address{}, err
	}
	return cl.ContractAddress(ctx, "")
}

func (c *clientContext) withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), c.cfg.Timeout)
}

// NewRootCmd creates the player command tree. It is called once in main.
func NewRootCmd() *cobra.Command {
	v := config.NewViper()
	cctx := &clientContext{}

	rootCmd := &cobra.Command{
		Use:           BinaryName,
		Short:         "Play DarkForge: forge soldiers, fight monsters, decrypt your own stats",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SetOut(cmd.OutOrStdout())
			cmd.SetErr(cmd.ErrOrStderr())

			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			cfg, err := config.LoadClient(v)
			if err != nil {
				return err
			}
			logger, err := config.NewLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			cctx.cfg = cfg
			cctx.logger = logger
			return nil
		},
	}

	f := rootCmd.PersistentFlags()
	f.String(config.KeyHome, config.DefaultCLIHome, "client home directory")
	f.String(config.KeyNode, "http://127.0.0.1:26657", "CometBFT RPC endpoint")
	f.String(config.KeyRelayer, "http://127.0.0.1:8645", "decryption relayer endpoint")
	f.String(config.KeyChainID, "darkforge-1", "chain id transactions are signed for")
	f.String(config.KeyKeyFile, "", "hex private key file (default <home>/key.hex)")
	f.Duration(config.KeyTimeout, 30*time.Second, "per-command timeout")
	f.Uint64(config.KeyRetries, 5, "retries on transient network errors")
	f.String(config.KeyLogLevel, "warn", "log level")

	rootCmd.AddCommand(
		keysCmd(cctx),
		addressCmd(cctx),
		mintCmd(cctx),
		listSoldiersCmd(cctx),
		attackCmd(cctx),
		decryptSoldierCmd(cctx),
		decryptPointsCmd(cctx),
	)
	return rootCmd
}
