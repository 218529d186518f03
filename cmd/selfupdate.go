package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"
)

// newSelfUpdateCmd creates the selfupdate command
func newSelfUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selfupdate",
		Short: "Update mcp-console to the latest version",
		Long:  `Check GitHub for a newer release of mcp-console and replace the running binary with it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if version == "" || version == "dev" {
				return fmt.Errorf("selfupdate is not supported for development builds")
			}

			latest, found, err := selfupdate.DetectLatest(cmd.Context(), selfupdate.ParseSlug("giantswarm/mcp-console"))
			if err != nil {
				return fmt.Errorf("error occurred while detecting version: %w", err)
			}
			if !found {
				return fmt.Errorf("latest version for %s/%s could not be found from github repository", runtime.GOOS, runtime.GOARCH)
			}

			if latest.LessOrEqual(version) {
				fmt.Printf("Current version (%s) is the latest\n", version)
				return nil
			}

			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("could not locate executable path: %w", err)
			}
			if err := selfupdate.UpdateTo(cmd.Context(), latest.AssetURL, latest.AssetName, exe); err != nil {
				return fmt.Errorf("error occurred while updating binary: %w", err)
			}

			fmt.Printf("Successfully updated to version %s\n", latest.Version())
			return nil
		},
	}
}
