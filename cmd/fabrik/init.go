package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/p-arndt/fabrik/internal/config"
)

type initOptions struct {
	configPath string
	dataDir    string
	listen     string
	apiKey     string
	noDocker   bool
	force      bool
}

func newInitCmd() *cobra.Command {
	opts := initOptions{}
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Bootstrap config and data dir",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := runInit(opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Fabrik initialized.")
			fmt.Fprintf(out, "- Config: %s\n", opts.configPath)
			fmt.Fprintf(out, "- Data dir: %s\n", cfg.DataDir)
			fmt.Fprintf(out, "- Start daemon: fabrik serve --config %s\n", opts.configPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "out", "fabrik.yaml", "path for generated config")
	cmd.Flags().StringVar(&opts.dataDir, "data-dir", envOrDefault("FABRIK_DATA_DIR", "/var/lib/fabrik"), "fabrik data directory")
	cmd.Flags().StringVar(&opts.listen, "listen", "127.0.0.1:61621", "daemon listen address")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "API key to write to config (auto-generated if empty)")
	cmd.Flags().BoolVar(&opts.noDocker, "no-docker", false, "disable the docker environment")
	cmd.Flags().BoolVar(&opts.force, "force", false, "overwrite existing config")
	return cmd
}

func runInit(opts initOptions) (*config.Config, error) {
	if opts.apiKey == "" {
		generated, err := generateAPIKey()
		if err != nil {
			return nil, fmt.Errorf("generate API key: %w", err)
		}
		opts.apiKey = generated
	}

	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	cfg.Listen = opts.listen
	cfg.APIKey = opts.apiKey
	cfg.DataDir = opts.dataDir
	cfg.DBPath = filepath.Join(opts.dataDir, "fabrik.db")
	cfg.Docker.Enabled = !opts.noDocker
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := writeInitialConfig(opts.configPath, cfg, opts.force); err != nil {
		return nil, err
	}
	return cfg, nil
}

func writeInitialConfig(configPath string, cfg *config.Config, force bool) error {
	if !force {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config %s already exists (use --force to overwrite)", configPath)
		}
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func generateAPIKey() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return "fk-" + hex.EncodeToString(raw), nil
}
