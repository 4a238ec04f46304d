package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-arndt/fabrik/internal/config"
	"github.com/p-arndt/fabrik/protocol"
)

type daemonClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func addHostFlag(cmd *cobra.Command, host *string) {
	cmd.Flags().StringVar(host, "host", envOrDefault("FABRIK_HOST", ""), "daemon URL (e.g. http://127.0.0.1:61621); overrides config listen")
}

// newDaemonClient resolves the daemon address from --host, falling back to
// the listen address and api key of the config file.
func newDaemonClient(cmd *cobra.Command, host string) (*daemonClient, error) {
	baseURL := strings.TrimRight(host, "/")
	apiKey := envOrDefault("FABRIK_API_KEY", "")
	if baseURL == "" {
		cfg, err := config.Load(configPath(cmd))
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		baseURL = "http://" + cfg.Listen
		if apiKey == "" {
			apiKey = cfg.APIKey
		}
	}
	return &daemonClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *daemonClient) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("daemon returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func newEnvsCmd() *cobra.Command {
	var host string
	cmd := &cobra.Command{
		Use:   "envs",
		Short: "List environments registered in the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newDaemonClient(cmd, host)
			if err != nil {
				return err
			}
			var names []string
			if err := client.getJSON(cmd.Context(), "/v1/envs", &names); err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
	addHostFlag(cmd, &host)
	return cmd
}

// newPsCmd lists sessions of every (or one) environment, like docker ps.
func newPsCmd() *cobra.Command {
	var (
		host string
		env  string
	)
	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newDaemonClient(cmd, host)
			if err != nil {
				return err
			}
			envs := []string{env}
			if env == "" {
				if err := client.getJSON(cmd.Context(), "/v1/envs", &envs); err != nil {
					return err
				}
			}
			rows := make(map[string][]protocol.SessionInfo, len(envs))
			for _, e := range envs {
				var infos []protocol.SessionInfo
				if err := client.getJSON(cmd.Context(), "/v1/envs/"+e+"/sessions", &infos); err != nil {
					return err
				}
				rows[e] = infos
			}
			return printSessions(cmd.OutOrStdout(), envs, rows)
		},
	}
	addHostFlag(cmd, &host)
	cmd.Flags().StringVar(&env, "env", "", "only list sessions of this environment")
	return cmd
}

func printSessions(w io.Writer, envs []string, rows map[string][]protocol.SessionInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENV\tSESSION ID\tNAME\tSTATUS\tTAGS\tPROCESSES")
	for _, env := range envs {
		for _, s := range rows[env] {
			tags := strings.Join(s.Tags, ",")
			if tags == "" {
				tags = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n", env, s.ID, s.Name, s.Status, tags, len(s.Processes))
		}
	}
	return tw.Flush()
}
