package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	applySandboxID string
	applyFile      string
	applyIsEdit    bool
	applyPackages  []string
	applyStream    bool
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply an AI response to a sandbox",
	Long: `Apply an AI-generated code response to a sandbox. Reads the raw
response from --file or stdin.`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringVar(&applySandboxID, "sandbox", "", "target sandbox id (required)")
	applyCmd.Flags().StringVarP(&applyFile, "file", "f", "", "file containing the raw AI response (default stdin)")
	applyCmd.Flags().BoolVar(&applyIsEdit, "edit", false, "treat the response as a targeted edit")
	applyCmd.Flags().StringSliceVar(&applyPackages, "package", nil, "additional packages to install")
	applyCmd.Flags().BoolVar(&applyStream, "follow", false, "stream progress events")
	applyCmd.MarkFlagRequired("sandbox")
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	var raw []byte
	var err error
	if applyFile != "" {
		raw, err = os.ReadFile(applyFile)
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return fmt.Errorf("empty response")
	}

	payload, err := json.Marshal(map[string]any{
		"response":  string(raw),
		"isEdit":    applyIsEdit,
		"sandboxId": applySandboxID,
		"packages":  applyPackages,
	})
	if err != nil {
		return err
	}

	if applyStream {
		return streamApply(payload)
	}
	return postApply(payload)
}

func postApply(payload []byte) error {
	resp, err := http.Post(serverURL+"/api/apply", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: openapply serve", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		fmt.Println(string(body))
		return fmt.Errorf("sandbox %s not found", applySandboxID)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Success bool `json:"success"`
		Results struct {
			FilesCreated      []string `json:"filesCreated"`
			FilesUpdated      []string `json:"filesUpdated"`
			PackagesInstalled []string `json:"packagesInstalled"`
			PackagesFailed    []string `json:"packagesFailed"`
			Errors            []string `json:"errors"`
		} `json:"results"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Println(result.Message)
	for _, f := range result.Results.FilesCreated {
		fmt.Printf("  created  %s\n", f)
	}
	for _, f := range result.Results.FilesUpdated {
		fmt.Printf("  updated  %s\n", f)
	}
	for _, p := range result.Results.PackagesInstalled {
		fmt.Printf("  installed %s\n", p)
	}
	for _, e := range result.Results.Errors {
		fmt.Printf("  error    %s\n", e)
	}
	return nil
}

func streamApply(payload []byte) error {
	resp, err := http.Post(serverURL+"/api/apply/stream", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: openapply serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev struct {
			Type     string `json:"type"`
			Message  string `json:"message"`
			FileName string `json:"fileName"`
			Command  string `json:"command"`
			Error    string `json:"error"`
		}
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		switch {
		case ev.Error != "":
			fmt.Printf("[%s] %s\n", ev.Type, ev.Error)
		case ev.FileName != "":
			fmt.Printf("[%s] %s\n", ev.Type, ev.FileName)
		case ev.Command != "":
			fmt.Printf("[%s] %s\n", ev.Type, ev.Command)
		default:
			fmt.Printf("[%s] %s\n", ev.Type, ev.Message)
		}
	}
	return scanner.Err()
}
