package app

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/boltlabs/runtimed/pkg/versions"
)

// newVersionCmd creates a new version command
func newVersionCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the version of runtimed",
		Long:  `Display detailed version information about runtimed, including version number, git commit, build date, and Go version.`,
		Run: func(_ *cobra.Command, _ []string) {
			info := versions.GetVersionInfo()

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				_ = enc.Encode(info)
				return
			}

			fmt.Printf("runtimed %s\n", info.Version)
			fmt.Printf("Commit: %s\n", info.Commit)
			fmt.Printf("Built: %s\n", info.BuildDate)
			fmt.Printf("Go version: %s\n", info.GoVersion)
			fmt.Printf("Platform: %s\n", info.Platform)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version information as JSON")

	return cmd
}
