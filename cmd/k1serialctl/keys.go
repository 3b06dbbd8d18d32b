package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kaonic/k1serial/internal/client"
	"github.com/kaonic/k1serial/internal/crypto"
	"github.com/spf13/cobra"
)

func newKeysCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage factory signing keys",
	}
	cmd.AddCommand(newKeysGenerateCmd(opts), newKeysShowCmd(opts))
	return cmd
}

func newKeysGenerateCmd(opts *globalOptions) *cobra.Command {
	var (
		dir   string
		force bool
		save  bool
	)

	cmd := &cobra.Command{
		Use:   "generate <factory-alias>...",
		Short: "Generate P-256 key pairs",
		Long: `Generate one P-256 key pair per alias, written as
<dir>/<alias>_private.pem and <dir>/<alias>_public.pem.

With --save and a single alias, the config file is pointed at the new keys.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if save && len(args) != 1 {
				return errors.New("--save needs exactly one alias")
			}
			if err := os.MkdirAll(dir, 0700); err != nil {
				return fmt.Errorf("create key directory: %w", err)
			}

			var privPath, pubPath string
			for _, alias := range args {
				var err error
				privPath, pubPath, err = writeKeyPair(dir, alias, force)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %s, %s\n", alias, privPath, pubPath)
			}

			if !save {
				return nil
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			cfg.FactoryName = args[0]
			if cfg.PrivateKeyPath, err = filepath.Abs(privPath); err != nil {
				return err
			}
			if cfg.PublicKeyPath, err = filepath.Abs(pubPath); err != nil {
				return err
			}
			return opts.save(cfg)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "keys", "Output directory")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing key files")
	cmd.Flags().BoolVar(&save, "save", false, "Store the factory name and key paths in the config file")

	return cmd
}

func writeKeyPair(dir, alias string, force bool) (string, string, error) {
	privPath := filepath.Join(dir, alias+"_private.pem")
	pubPath := filepath.Join(dir, alias+"_public.pem")
	if !force {
		for _, p := range []string{privPath, pubPath} {
			if _, err := os.Stat(p); err == nil {
				return "", "", fmt.Errorf("%s already exists; use --force to overwrite", p)
			}
		}
	}

	key, err := crypto.GenerateKeyPair()
	if err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}
	privPEM, err := crypto.EncodePrivateKeyPEM(key)
	if err != nil {
		return "", "", err
	}
	pubPEM, err := crypto.EncodePublicKeyPEM(&key.PublicKey)
	if err != nil {
		return "", "", err
	}

	if err := os.WriteFile(privPath, privPEM, 0600); err != nil {
		return "", "", fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, pubPEM, 0644); err != nil {
		return "", "", fmt.Errorf("write public key: %w", err)
	}
	return privPath, pubPath, nil
}

func newKeysShowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the canonical public key of the configured factory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			s, err := client.LoadSigner(cfg.FactoryName, cfg.PrivateKeyPath)
			if err != nil {
				return err
			}
			pub, err := s.PublicKey()
			if err != nil {
				return err
			}
			fmt.Println(pub)
			return nil
		},
	}
}
