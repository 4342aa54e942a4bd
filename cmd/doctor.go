package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	yamlv2 "gopkg.in/yaml.v2"

	"github.com/fscherf/lona/internal/server"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Validate settings and handler registrations",
	Long: `Loads the effective settings, validates them, and performs the full
server bootstrap without listening: routing table resolution, middleware
lookup, and core handler registration all run, so a broken settings
reference fails here instead of at startup.`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().Bool("show-settings", false, "dump the effective settings")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	settings, err := loadSettings(cmd)
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	fmt.Fprintln(out, "settings: ok")

	reg, err := demoRegistry(settings.RoutingTable)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	fmt.Fprintln(out, "registry: ok")

	srv, err := server.New(settings, reg, buildLogger(settings))
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	fmt.Fprintln(out, "bootstrap: ok")
	fmt.Fprintf(out, "routes: %d registered\n", len(srv.Router().Routes()))
	fmt.Fprintf(out, "middlewares: %d configured\n", len(settings.MiddlewareNames()))

	if show, _ := cmd.Flags().GetBool("show-settings"); show {
		data, err := yamlv2.Marshal(settings)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "---")
		_, _ = out.Write(data)
	}

	return nil
}
