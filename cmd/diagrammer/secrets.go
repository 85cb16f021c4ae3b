package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rendis/diagrammer/internal/config"
	"github.com/rendis/diagrammer/internal/secrets"
	"github.com/rendis/diagrammer/internal/store"
)

func newSecretsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage credentials sealed in the event log database",
		Long: `Secrets are encrypted with AES-256-GCM under a key derived from the vault
passphrase (DIAGRAMMER_VAULT_KEY or --vault-key). When llm_api_key is absent
from the configuration, the generator key is read from the "llm_api_key"
secret at startup.`,
	}

	set := &cobra.Command{
		Use:   "set <key> [value]",
		Short: "Seal a secret; the value is read from stdin when omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value string
			if len(args) == 2 {
				value = args[1]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				value = strings.TrimRight(string(data), "\r\n")
			}
			if value == "" {
				return errors.New("secret value is empty")
			}
			return withVault(cmd, root, func(ctx context.Context, v *secrets.AESVault) error {
				if err := v.Store(ctx, args[0], []byte(value)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sealed %s\n", args[0])
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List sealed secret names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withVault(cmd, root, func(ctx context.Context, v *secrets.AESVault) error {
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
	}

	del := &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a sealed secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd, root, func(ctx context.Context, v *secrets.AESVault) error {
				return v.Delete(ctx, args[0])
			})
		},
	}

	cmd.AddCommand(set, list, del)
	return cmd
}

// withVault opens the event log and vault without wiring a generator, so a
// key can be sealed before the provider is usable.
func withVault(cmd *cobra.Command, root *rootOptions, fn func(context.Context, *secrets.AESVault) error) error {
	cfg, err := config.Load(root.configPath)
	if err != nil {
		return err
	}
	root.apply(cmd, &cfg)
	return sealedStore(commandContext(cmd), cfg, fn)
}

func sealedStore(ctx context.Context, cfg config.Config, fn func(context.Context, *secrets.AESVault) error) error {
	if cfg.VaultKey == "" {
		return fmt.Errorf("vault passphrase required: set %sVAULT_KEY or --vault-key", config.EnvPrefix)
	}
	if cfg.DBPath == "" {
		return errors.New("secrets live in the event log database; db_path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	s, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Migrate(ctx); err != nil {
		return err
	}

	v, err := secrets.Open(ctx, s, cfg.VaultKey)
	if err != nil {
		return err
	}
	return fn(ctx, v)
}
