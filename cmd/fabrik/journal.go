package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/p-arndt/fabrik/internal/config"
	"github.com/p-arndt/fabrik/internal/dockerman"
	"github.com/p-arndt/fabrik/internal/hdman"
	"github.com/p-arndt/fabrik/internal/store"
)

// newJournalCmd reads the session journal directly, so it works while the
// daemon is down.
func newJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the session journal without a running daemon",
	}
	cmd.AddCommand(newJournalLsCmd())
	cmd.AddCommand(newJournalShowCmd())
	return cmd
}

func openJournal(cmd *cobra.Command) (*store.Store, error) {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	st, err := store.New(cfg.DBPath, 1)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", cfg.DBPath, err)
	}
	return st, nil
}

func newJournalLsCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List journal records, destroyed sessions included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openJournal(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			envs := []string{dockerman.DefaultEnv, hdman.DefaultEnv}
			if env != "" {
				envs = []string{env}
			}
			var records []*store.Session
			for _, e := range envs {
				recs, err := st.ListSessions(e)
				if err != nil {
					return err
				}
				records = append(records, recs...)
			}
			return printJournal(cmd.OutOrStdout(), records, time.Now())
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "only list records of this environment")
	return cmd
}

func printJournal(w io.Writer, records []*store.Session, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENV\tSESSION ID\tNAME\tIMAGE\tSTATUS\tUPDATED")
	for _, r := range records {
		image := r.Image
		if image == "" {
			image = "-"
		}
		updated := units.HumanDuration(now.Sub(r.UpdatedAt)) + " ago"
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Env, r.ID, r.Name, image, r.Status, updated)
	}
	return tw.Flush()
}

func newJournalShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show ENV SESSION_ID",
		Short: "Print one journal record as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openJournal(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			rec, err := st.GetSession(args[0], args[1])
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("no journal record for %s/%s", args[0], args[1])
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
}
