package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var version = "dev"
var commit = "unknown"

func versionString() string {
	v := strings.TrimSpace(version)
	if v == "" {
		v = "dev"
	}
	c := strings.TrimSpace(commit)
	if c == "" || strings.EqualFold(c, "unknown") || strings.Contains(v, c) {
		return v
	}
	return v + "+" + c
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fabrik",
		Short:         "fabrik: provider-side session engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Version = versionString()
	cmd.SetVersionTemplate("fabrik {{.Version}}\n")

	cmd.PersistentFlags().String("config", envOrDefault("FABRIK_CONFIG", ""), "path to fabrik.yaml")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newEnvsCmd())
	cmd.AddCommand(newPsCmd())
	cmd.AddCommand(newJournalCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the fabrik version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fabrik %s\n", versionString())
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fabrik: %v\n", err)
		os.Exit(1)
	}
}

func configPath(cmd *cobra.Command) string {
	p, _ := cmd.Root().PersistentFlags().GetString("config")
	if p != "" {
		return p
	}
	for _, candidate := range []string{"fabrik.yaml", "/etc/fabrik/fabrik.yaml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
