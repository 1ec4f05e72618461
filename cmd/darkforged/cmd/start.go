package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cometbft/cometbft/abci/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"darkforge/internal/app"
	"darkforge/internal/config"
	"darkforge/internal/coprocessor"
	"darkforge/internal/decrypt"
	"darkforge/internal/metrics"
	"darkforge/internal/relayer"
)

func startCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the ABCI application and, if enabled, the decryption relayer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadNode(v)
			if err != nil {
				return err
			}
			return runNode(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String(config.KeyABCIAddr, "tcp://127.0.0.1:26658", "ABCI listen address")
	cmd.Flags().String(config.KeyABCITransport, "socket", "ABCI transport (socket|grpc)")
	cmd.Flags().Bool(config.KeyRelayerEnabled, true, "serve the user decryption relayer")
	cmd.Flags().String(config.KeyRelayerListen, "127.0.0.1:8645", "relayer HTTP listen address")
	return cmd
}

func runNode(ctx context.Context, cfg config.NodeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	m := metrics.New()

	seed, err := cfg.CoprocessorSeed()
	if err != nil {
		return err
	}
	cop, err := coprocessor.Open(coprocessor.Config{
		Backend: cfg.Coprocessor.Backend,
		Dir:     cfg.DataDir(),
		Seed:    seed,
	}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = cop.Close() }()

	a, err := app.New(cfg.AppDir(), cop, app.Options{
		ChainID:      cfg.ChainID,
		ContractName: cfg.ContractName,
		Logger:       logger,
		Metrics:      m,
	})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	srv, err := server.NewServer(cfg.ABCI.Addr, cfg.ABCI.Transport, a)
	if err != nil {
		return fmt.Errorf("abci server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("abci server start: %w", err)
	}
	defer func() { _ = srv.Stop() }()
	logger.Info("abci server listening", "addr", cfg.ABCI.Addr, "transport", cfg.ABCI.Transport, "contract", a.Contract().Hex())

	if cfg.Relayer.Enabled {
		verifier, err := cfg.VerifyingContract()
		if err != nil {
			return err
		}
		svc := relayer.NewService(cop, relayer.Config{
			Domain:          decrypt.Domain{ChainID: cfg.EVMChainID, VerifyingContract: verifier},
			MaxDurationDays: cfg.Relayer.MaxDurationDays,
		}, logger, m)
		rs := relayer.NewServer(cfg.Relayer.Listen, svc, logger, m)
		if err := rs.Start(); err != nil {
			return fmt.Errorf("relayer start: %w", err)
		}
		defer func() {
			if err := rs.Stop(context.Background()); err != nil {
				logger.Error("relayer shutdown", "err", err)
			}
		}()
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	logger.Info("shutting down")
	return nil
}
