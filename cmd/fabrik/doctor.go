package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-arndt/fabrik/internal/config"
	"github.com/p-arndt/fabrik/internal/docker"
	"github.com/p-arndt/fabrik/internal/store"
)

type doctorCheck struct {
	Name    string
	Status  string
	Details string
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run environment checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			checks := runChecks(cmd.Context(), cfg)
			return reportChecks(cmd.OutOrStdout(), checks)
		},
	}
}

func runChecks(ctx context.Context, cfg *config.Config) []doctorCheck {
	checks := make([]doctorCheck, 0, 4)

	status, details := checkDataDir(cfg.DataDir)
	checks = append(checks, doctorCheck{Name: "Data directory", Status: status, Details: details})

	if st, err := store.New(cfg.DBPath, 1); err != nil {
		checks = append(checks, doctorCheck{Name: "Journal", Status: "FAIL", Details: err.Error()})
	} else {
		st.Close()
		checks = append(checks, doctorCheck{Name: "Journal", Status: "OK", Details: cfg.DBPath})
	}

	if cfg.Docker.Enabled {
		checks = append(checks, checkDocker(ctx))
	} else {
		checks = append(checks, doctorCheck{Name: "Docker", Status: "SKIP", Details: "disabled in config"})
	}

	if cfg.HostDirect.Enabled {
		checks = append(checks, doctorCheck{Name: "Host-direct", Status: "OK", Details: "enabled"})
	} else {
		checks = append(checks, doctorCheck{Name: "Host-direct", Status: "SKIP", Details: "disabled in config"})
	}
	return checks
}

func reportChecks(w io.Writer, checks []doctorCheck) error {
	failures := 0
	fmt.Fprintln(w, "Fabrik doctor")
	for _, check := range checks {
		fmt.Fprintf(w, "[%s] %-16s %s\n", check.Status, check.Name, check.Details)
		if check.Status == "FAIL" {
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("doctor found %d blocking issue(s)", failures)
	}
	fmt.Fprintln(w, "\nDoctor checks passed.")
	return nil
}

func checkDocker(ctx context.Context) doctorCheck {
	dc, err := docker.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return doctorCheck{Name: "Docker", Status: "FAIL", Details: err.Error()}
	}
	defer dc.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dc.Ping(ctx); err != nil {
		// the daemon still serves host-direct sessions without docker
		return doctorCheck{Name: "Docker", Status: "WARN", Details: err.Error()}
	}
	return doctorCheck{Name: "Docker", Status: "OK", Details: "engine reachable"}
}

func checkDataDir(dataDir string) (string, string) {
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return "FAIL", err.Error()
	}
	if _, err := os.Stat(abs); errors.Is(err, fs.ErrNotExist) {
		return "WARN", fmt.Sprintf("%s does not exist yet (created on first session)", abs)
	}
	free, err := freeSpace(abs)
	if err != nil {
		return "WARN", fmt.Sprintf("cannot statfs %s: %v", abs, err)
	}
	return "OK", fmt.Sprintf("%s (%s free)", abs, free)
}
