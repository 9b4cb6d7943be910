package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/subfleet/internal/config"
	"github.com/fairyhunter13/subfleet/internal/schedule"
)

// The schedule commands talk to a running worker's ops endpoint; the
// registry lives in the worker process.
func newScheduleCmd() *cobra.Command {
	var opsURL string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect and cancel the running worker's scheduled tasks",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if opsURL != "" {
				return nil
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			opsURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.OpsPort)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opsURL, "ops-url", "", "base URL of the worker's ops endpoint (default http://127.0.0.1:$OPS_PORT)")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List scheduled tasks",
		RunE: func(c *cobra.Command, _ []string) error {
			var out struct {
				Tasks []schedule.Task `json:"tasks"`
				Count int             `json:"count"`
			}
			if err := opsCall(c, http.MethodGet, opsURL+"/schedules", &out); err != nil {
				return err
			}
			if out.Count == 0 {
				fmt.Fprintln(c.OutOrStdout(), "no scheduled tasks")
				return nil
			}
			for _, t := range out.Tasks {
				fmt.Fprintf(c.OutOrStdout(), "%s  %-6s  %s  run at %s\n",
					t.ID, t.Kind, t.Email, t.RunAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel one scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			var out struct {
				Status string `json:"status"`
			}
			if err := opsCall(c, http.MethodDelete, opsURL+"/schedules/"+args[0], &out); err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "task %s cancelled\n", args[0])
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "cancel-all",
		Short: "Cancel every scheduled task",
		RunE: func(c *cobra.Command, _ []string) error {
			var out struct {
				Count int `json:"count"`
			}
			if err := opsCall(c, http.MethodDelete, opsURL+"/schedules", &out); err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "%d tasks cancelled\n", out.Count)
			return nil
		},
	})
	return cmd
}

func opsCall(c *cobra.Command, method, url string, out any) error {
	req, err := http.NewRequestWithContext(c.Context(), method, url, nil)
	if err != nil {
		return err
	}
	hc := &http.Client{Timeout: 10 * time.Second}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("reaching worker ops endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ops endpoint returned %d: %s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}
