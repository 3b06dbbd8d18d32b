// Package main is the entrypoint for the k1serial factory and admin CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/kaonic/k1serial/internal/client"
	"github.com/kaonic/k1serial/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Environment overrides for the config file.
const (
	envServerURL  = "K1SERIAL_SERVER_URL"
	envAdminToken = "K1SERIAL_ADMIN_TOKEN"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// globalOptions are the persistent flags of every command.
type globalOptions struct {
	configPath string
	serverURL  string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "k1serialctl",
		Short: "k1serial factory and admin client",
		Long: `k1serialctl signs and uploads serial number CSV files to a k1serial
server, verifies serials and administers factory key registrations.

Run 'k1serialctl keys generate' and 'k1serialctl register' to set up a factory.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is fine; a malformed one is not.
			return config.LoadDotEnv()
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default ~/.k1serial/config.yml)")
	rootCmd.PersistentFlags().StringVar(&opts.serverURL, "server", "", "Server URL, overrides the config file")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(opts),
		newKeysCmd(opts),
		newRegisterCmd(opts),
		newStatusCmd(opts),
		newSignCmd(opts),
		newUploadCmd(opts),
		newVerifyCmd(opts),
		newQueueCmd(opts),
		newSpoolCmd(opts),
		newAdminCmd(opts),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("k1serialctl %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func (o *globalOptions) path() (string, error) {
	if o.configPath != "" {
		return o.configPath, nil
	}
	return config.DefaultConfigPath()
}

// load reads the config file and applies flag and environment overrides.
func (o *globalOptions) load() (*config.ClientConfig, error) {
	path, err := o.path()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadClientConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if v := os.Getenv(envServerURL); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv(envAdminToken); v != "" {
		cfg.AdminToken = v
	}
	if o.serverURL != "" {
		cfg.ServerURL = o.serverURL
	}
	cfg.ServerURL = strings.TrimSuffix(cfg.ServerURL, "/")
	return cfg, nil
}

func (o *globalOptions) save(cfg *config.ClientConfig) error {
	path, err := o.path()
	if err != nil {
		return err
	}
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("Configuration saved to %s\n", path)
	return nil
}

// client returns an API client for the configured server.
func (o *globalOptions) client() (*client.Client, *config.ClientConfig, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.ServerURL == "" {
		return nil, nil, errors.New("server URL is not configured; use --server or 'k1serialctl config set server_url <url>'")
	}
	hc, err := client.NewHTTPClient(client.DefaultTimeout, cfg.Proxy)
	if err != nil {
		return nil, nil, err
	}
	return client.NewClient(cfg.ServerURL, cfg.AdminToken, client.WithHTTPClient(hc)), cfg, nil
}

// signer returns an API client and the configured factory signer.
func (o *globalOptions) signer() (*client.Client, *client.Signer, *config.ClientConfig, error) {
	api, cfg, err := o.client()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("client not configured: %w", err)
	}
	s, err := client.LoadSigner(cfg.FactoryName, cfg.PrivateKeyPath)
	if err != nil {
		return nil, nil, nil, err
	}
	return api, s, cfg, nil
}

// spoolDir resolves the spool directory, defaulting under the config dir.
func spoolDir(cfg *config.ClientConfig) (string, error) {
	if cfg.SpoolDir != "" {
		return cfg.SpoolDir, nil
	}
	base, err := config.DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "spool"), nil
}

// spool opens the local upload spool.
func (o *globalOptions) spool(cfg *config.ClientConfig) (*client.Spool, error) {
	dir, err := spoolDir(cfg)
	if err != nil {
		return nil, err
	}
	return client.OpenSpool(dir, newLogger())
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func newConfigCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage client configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show current configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := opts.load()
				if err != nil {
					return err
				}
				path, _ := opts.path()
				fmt.Printf("Config file:  %s\n\n", path)
				fmt.Printf("Server URL:   %s\n", valueOrUnset(cfg.ServerURL))
				fmt.Printf("Factory:      %s\n", valueOrUnset(cfg.FactoryName))
				fmt.Printf("Private key:  %s\n", valueOrUnset(cfg.PrivateKeyPath))
				fmt.Printf("Public key:   %s\n", valueOrUnset(cfg.PublicKeyPath))
				fmt.Printf("Admin token:  %s\n", maskToken(cfg.AdminToken))
				fmt.Printf("Spool dir:    %s\n", valueOrUnset(cfg.SpoolDir))
				fmt.Printf("Proxy:        %s\n", client.DescribeProxy(cfg.Proxy))
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Set a configuration value",
			Long: `Set a configuration value. Keys: server_url, factory_name,
private_key_path, public_key_path, admin_token, spool_dir, http_proxy,
https_proxy, no_proxy, socks5_proxy.`,
			Args: cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := opts.path()
				if err != nil {
					return err
				}
				cfg, err := config.LoadClientConfig(path)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := setConfigValue(cfg, args[0], args[1]); err != nil {
					return err
				}
				return opts.save(cfg)
			},
		},
	)

	return cmd
}

func setConfigValue(cfg *config.ClientConfig, key, value string) error {
	switch key {
	case "server_url":
		parsed, err := url.Parse(value)
		if err != nil {
			return fmt.Errorf("invalid server URL: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return errors.New("server URL must use http or https scheme")
		}
		cfg.ServerURL = strings.TrimSuffix(value, "/")
	case "factory_name":
		cfg.FactoryName = strings.TrimSpace(value)
	case "private_key_path":
		cfg.PrivateKeyPath = value
	case "public_key_path":
		cfg.PublicKeyPath = value
	case "admin_token":
		cfg.AdminToken = value
	case "spool_dir":
		cfg.SpoolDir = value
	case "http_proxy", "https_proxy", "no_proxy", "socks5_proxy":
		if cfg.Proxy == nil {
			cfg.Proxy = &config.ProxyConfig{}
		}
		switch key {
		case "http_proxy":
			cfg.Proxy.HTTPProxy = value
		case "https_proxy":
			cfg.Proxy.HTTPSProxy = value
		case "no_proxy":
			cfg.Proxy.NoProxy = value
		default:
			cfg.Proxy.SOCKS5Proxy = value
		}
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

func valueOrUnset(v string) string {
	if v == "" {
		return "(not set)"
	}
	return v
}

func maskToken(token string) string {
	if token == "" {
		return "(not set)"
	}
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****" + token[len(token)-4:]
}
