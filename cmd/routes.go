package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/fscherf/lona/internal/routing"
)

var routesCmd = &cobra.Command{
	Use:     "routes",
	Aliases: []string{"r"},
	Short:   "Print the routing table",
	RunE:    runRoutes,
}

func init() {
	routesCmd.Flags().StringP("output", "o", "table", "output format (table, yaml)")
	rootCmd.AddCommand(routesCmd)
}

// routeRecord is the serializable shape of one route.
type routeRecord struct {
	Name        string `yaml:"name"`
	Title       string `yaml:"title"`
	Pattern     string `yaml:"pattern"`
	Handler     string `yaml:"handler"`
	Interactive bool   `yaml:"interactive"`
	MultiUser   bool   `yaml:"multi_user"`
	PassThrough bool   `yaml:"pass_through"`
}

func runRoutes(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	reg, err := demoRegistry(settings.RoutingTable)
	if err != nil {
		return err
	}

	object, ok := reg.Object(settings.RoutingTable)
	if !ok {
		return fmt.Errorf("no routing table registered under %q", settings.RoutingTable)
	}
	routes, ok := object.([]*routing.Route)
	if !ok {
		return fmt.Errorf("routing table %q is %T, want []*routing.Route",
			settings.RoutingTable, object)
	}

	title := cases.Title(language.English)
	records := make([]routeRecord, 0, len(routes))
	for _, route := range routes {
		records = append(records, routeRecord{
			Name:        route.Name,
			Title:       title.String(strings.ReplaceAll(route.Name, "-", " ")),
			Pattern:     route.Pattern,
			Handler:     route.Handler,
			Interactive: route.Interactive,
			MultiUser:   route.MultiUser,
			PassThrough: route.HTTPPassThrough,
		})
	}

	format, _ := cmd.Flags().GetString("output")
	out := cmd.OutOrStdout()

	if format == "yaml" {
		data, err := yaml.Marshal(records)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}

	for _, record := range records {
		flags := make([]string, 0, 3)
		if !record.Interactive {
			flags = append(flags, "non-interactive")
		}
		if record.MultiUser {
			flags = append(flags, "multi-user")
		}
		if record.PassThrough {
			flags = append(flags, "pass-through")
		}
		suffix := ""
		if len(flags) > 0 {
			suffix = "  [" + strings.Join(flags, ", ") + "]"
		}
		fmt.Fprintf(out, "%-30s %-30s %s%s\n",
			record.Pattern, record.Handler, record.Name, suffix)
	}
	return nil
}
