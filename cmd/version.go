package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fscherf/lona/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	RunE:  runVersion,
}

func init() {
	versionCmd.Flags().StringP("output", "o", "text", "output format (text, json, yaml)")
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	info := version.Get()
	out := cmd.OutOrStdout()

	format, _ := cmd.Flags().GetString("output")
	switch format {
	case "json":
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))

	case "yaml":
		data, err := yaml.Marshal(info)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err

	default:
		fmt.Fprintf(out, "lona %s\n", version.Short())
		fmt.Fprintf(out, "go: %s\n", info.GoVersion)
		fmt.Fprintf(out, "platform: %s\n", info.Platform)
	}
	return nil
}
