package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var runsSandboxID string

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List apply runs",
	RunE:  runRuns,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one apply run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	runsCmd.Flags().StringVar(&runsSandboxID, "sandbox", "", "filter by sandbox id")
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	u := serverURL + "/api/runs"
	if runsSandboxID != "" {
		u += "?sandboxId=" + url.QueryEscape(runsSandboxID)
	}
	resp, err := http.Get(u)
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: openapply serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var runs []struct {
		ID        string `json:"id"`
		SandboxID string `json:"sandbox_id"`
		IsEdit    bool   `json:"is_edit"`
		Status    string `json:"status"`
		Error     string `json:"error"`
		CreatedAt string `json:"created_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSANDBOX\tMODE\tSTATUS\tCREATED")
	for _, r := range runs {
		mode := "generate"
		if r.IsEdit {
			mode = "edit"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.SandboxID, mode, r.Status, r.CreatedAt)
	}
	return w.Flush()
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(serverURL + "/api/runs/" + url.PathEscape(args[0]))
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("run %s not found", args[0])
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var pretty json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&pretty); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
