// openapply - AI code application pipeline
//
// Parses AI-generated code responses and applies them to remote
// sandboxes: files, packages, and commands, with streaming progress.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "openapply",
	Short: "openapply - AI code application pipeline",
	Long: `openapply parses AI-generated code responses and applies them to
remote sandboxes.

  openapply serve                          Start the server
  openapply sandbox create                 Create a sandbox
  openapply sandbox list                   List live sandboxes
  openapply apply --sandbox <id> -f resp.txt   Apply a response
  openapply runs --sandbox <id>            List apply runs`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("OPENAPPLY_SERVER", "http://localhost:7090"), "openapply server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
