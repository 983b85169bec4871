package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Manage sandboxes",
}

var sandboxCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new sandbox",
	RunE:  runSandboxCreate,
}

var sandboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live sandboxes",
	RunE:  runSandboxList,
}

var sandboxTerminateCmd = &cobra.Command{
	Use:   "terminate <id>",
	Short: "Terminate a sandbox",
	Args:  cobra.ExactArgs(1),
	RunE:  runSandboxTerminate,
}

func init() {
	sandboxCmd.AddCommand(sandboxCreateCmd, sandboxListCmd, sandboxTerminateCmd)
	rootCmd.AddCommand(sandboxCmd)
}

func runSandboxCreate(cmd *cobra.Command, args []string) error {
	resp, err := http.Post(serverURL+"/api/sandboxes", "application/json", nil)
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: openapply serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var sb struct {
		SandboxID string `json:"sandboxId"`
		URL       string `json:"url"`
		Provider  string `json:"provider"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sb); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	fmt.Printf("Created sandbox %s (%s)\n", sb.SandboxID, sb.Provider)
	if sb.URL != "" {
		fmt.Printf("URL: %s\n", sb.URL)
	}
	return nil
}

func runSandboxList(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(serverURL + "/api/sandboxes")
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: openapply serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var sandboxes []struct {
		SandboxID    string `json:"sandboxId"`
		Provider     string `json:"provider"`
		CreatedAt    string `json:"createdAt"`
		LastAccessed string `json:"lastAccessed"`
		KnownFiles   int    `json:"knownFiles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sandboxes); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	if len(sandboxes) == 0 {
		fmt.Println("No live sandboxes.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROVIDER\tFILES\tCREATED\tLAST ACCESS")
	for _, s := range sandboxes {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", s.SandboxID, s.Provider, s.KnownFiles, s.CreatedAt, s.LastAccessed)
	}
	return w.Flush()
}

func runSandboxTerminate(cmd *cobra.Command, args []string) error {
	req, err := http.NewRequest(http.MethodDelete, serverURL+"/api/sandboxes/"+args[0], nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("sandbox %s not found", args[0])
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}
	fmt.Printf("Terminated sandbox %s\n", args[0])
	return nil
}
