package cmd

import (
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func newFieldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fields",
		Short: "List available research fields and keywords",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			names := make([]string, 0, len(a.Config.Fields))
			for name := range a.Config.Fields {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				keywords := a.Config.Fields[name]
				cmd.Printf("%s (%d keywords)\n", strings.ReplaceAll(name, "_", " "), len(keywords))
				for _, kw := range keywords {
					cmd.Printf("  %s\n", kw)
				}
			}
			return nil
		},
	}
}
