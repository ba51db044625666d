package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sovrium/sovrium/internal/secrets"
)

func (c *cli) secretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage the vault secrets referenced by connection credentials.",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Encrypt and store a secret.",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withVault(cmd, func(ctx context.Context, v secrets.Vault) error {
					return v.Store(ctx, args[0], []byte(args[1]))
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List the secret keys.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withVault(cmd, func(ctx context.Context, v secrets.Vault) error {
					keys, err := v.List(ctx)
					if err != nil {
						return err
					}
					for _, k := range keys {
						fmt.Fprintln(cmd.OutOrStdout(), k)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete <key>",
			Short: "Delete a secret.",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withVault(cmd, func(ctx context.Context, v secrets.Vault) error {
					return v.Delete(ctx, args[0])
				})
			},
		},
	)
	return cmd
}

// withVault opens the store only; the app file is not loaded.
func (c *cli) withVault(cmd *cobra.Command, fn func(context.Context, secrets.Vault) error) error {
	if c.cfg.VaultPassphrase == "" {
		return errors.New("vault-passphrase is required")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openStore(ctx, c.cfg)
	if err != nil {
		return err
	}
	v, err := newVault(c.cfg, s)
	if err != nil {
		return errors.Join(err, s.Close())
	}
	return errors.Join(fn(ctx, v), s.Close())
}
