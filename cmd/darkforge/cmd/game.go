package cmd

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"darkforge/internal/chainclient"
	"darkforge/internal/types"
)

const (
	flagTokenID = "token-id"
	flagOwner   = "owner"
	flagPlayer  = "player"
)

func addressCmd(cctx *clientContext) *cobra.Command {
	return &cobra.Command{
		Use:   "address [name]",
		Short: "Print the game contract address",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := types.DefaultContractName
			if len(args) == 1 {
				name = args[0]
			}
			ctx, cancel := cctx.withTimeout(cmd)
			defer cancel()
			cl, err := cctx.chainClient()
			if err != nil {
				return err
			}
			addr, err := cl.ContractAddress(ctx, name)
			if err != nil {
				return err
			}
			cmd.Printf("%s address is %s\n", name, addr.Hex())
			return nil
		},
	}
}

func mintCmd(cctx *clientContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mint",
		Short: "Forge a soldier with encrypted attack and defense",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := cctx.key()
			if err != nil {
				return err
			}
			cl, err := cctx.chainClient()
			if err != nil {
				return err
			}
			ctx, cancel := cctx.withTimeout(cmd)
			defer cancel()

			id, res, err := cl.MintSoldier(ctx, key)
			if err != nil {
				return err
			}
			cmd.Printf("tx:%s height=%d\n", res.Hash, res.Height)
			cmd.Printf("Soldier #%d forged. Encrypted stats sealed.\n", id)
			return nil
		},
	}
}

func listSoldiersCmd(cctx *clientContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list-soldiers",
		Short: "List soldier token ids for an owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			owner, err := addressFlag(cmd, cctx, flagOwner)
			if err != nil {
				return err
			}
			cl, err := cctx.chainClient()
			if err != nil {
				return err
			}
			ctx, cancel := cctx.withTimeout(cmd)
			defer cancel()

			ids, err := cl.SoldierIDs(ctx, owner)
			if err != nil {
				return err
			}
			parts := make([]string, len(ids))
			for i, id := range ids {
				parts[i] = fmt.Sprint(id)
			}
			cmd.Printf("Soldiers for %s: %s\n", owner.Hex(), strings.Join(parts, ", "))
			return nil
		},
	}
	cmd.Flags().String(flagOwner, "", "owner address (default: own account)")
	return cmd
}

func attackCmd(cctx *clientContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attack",
		Short: "Send a soldier against a monster to earn encrypted points",
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
			ctx, cancel := cctx.withTimeout(cmd)
			defer cancel()

			res, err := cl.AttackMonster(ctx, key, id)
			if err != nil {
				return err
			}
			cmd.Printf("tx:%s height=%d\n", res.Hash, res.Height)
			cmd.Printf("Monster defeated by Soldier #%d. Points updated.\n", id)
			return nil
		},
	}
	cmd.Flags().Uint64(flagTokenID, 0, "soldier token id")
	_ = cmd.MarkFlagRequired(flagTokenID)
	return cmd
}

// addressFlag reads an address flag, defaulting to the account of the loaded key.
func addressFlag(cmd *cobra.Command, cctx *clientContext, name string) (common.Address, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		key, err := cctx.key()
		if err != nil {
			return common.Address{}, err
		}
		return chainclient.Address(key), nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("--%s %q is not an address", name, raw)
	}
	return common.HexToAddress(raw), nil
}
