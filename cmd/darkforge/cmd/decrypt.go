package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"darkforge/internal/chainclient"
	"darkforge/internal/decrypt"
	"darkforge/internal/fhe"
)

func decryptSoldierCmd(cctx *clientContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decrypt-soldier",
		Short: "Decrypt the stats of a soldier you own",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := cmd.Flags().GetUint64(flagTokenID)
			if err != nil {
				return err
			}
			key, err := cctx.key()
			if err != nil {
				return err
			}
			cl, err := cctx.chainClient()
			if err != nil {
				return err
			}
			dc, err := cctx.decryptClient()
			if err != nil {
				return err
			}
			ctx, cancel := cctx.withTimeout(cmd)
			defer cancel()

			contract, err := cctx.contract(ctx)
			if err != nil {
				return err
			}
			sv, err := cl.SoldierStats(ctx, id)
			if err != nil {
				return err
			}
			cmd.Printf("Encrypted attack : %s\n", sv.Attack.Hex())
			cmd.Printf("Encrypted defense: %s\n", sv.Defense.Hex())

			attack, defense, err := dc.DecryptStats(ctx, decrypt.NewKeySigner(key), contract, sv.Attack, sv.Defense)
			if err != nil {
				return err
			}
			cmd.Printf("Clear attack  : %d\n", attack)
			cmd.Printf("Clear defense : %d\n", defense)
			return nil
		},
	}
	cmd.Flags().Uint64(flagTokenID, 0, "soldier token id")
	_ = cmd.MarkFlagRequired(flagTokenID)
	return cmd
}

func decryptPointsCmd(cctx *clientContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decrypt-points",
		Short: "Decrypt your accumulated points",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := cctx.key()
			if err != nil {
				return err
			}
			self := chainclient.Address(key)
			player, err := addressFlag(cmd, cctx, flagPlayer)
			if err != nil {
				return err
			}
			// Only the holder of the player's key can authorize the request.
			if player != self {
				return fmt.Errorf("--%s %s is not the loaded account %s", flagPlayer, player.Hex(), self.Hex())
			}

			cl, err := cctx.chainClient()
			if err != nil {
				return err
			}
			ctx, cancel := cctx.withTimeout(cmd)
			defer cancel()

			h, err := cl.Points(ctx, player)
			if err != nil {
				return err
			}
			cmd.Printf("Encrypted points: %s\n", fhe.FormatHandle(h))
			if h.IsZero() {
				cmd.Println("Clear points    : 0")
				return nil
			}

			contract, err := cctx.contract(ctx)
			if err != nil {
				return err
			}
			dc, err := cctx.decryptClient()
			if err != nil {
				return err
			}
			points, err := dc.DecryptPoints(ctx, decrypt.NewKeySigner(key), contract, h)
			if err != nil {
				return err
			}
			cmd.Printf("Clear points    : %d\n", points)
			return nil
		},
	}
	cmd.Flags().String(flagPlayer, "", "player address (default: own account)")
	return cmd
}
