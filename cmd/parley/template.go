package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/aretw0/parley/internal/presentation/graph"
	"github.com/aretw0/parley/pkg/adapters/library"
	"github.com/aretw0/parley/pkg/flow"
	"github.com/spf13/cobra"
)

var templateCmd = &cobra.Command{
	Use:     "template",
	Aliases: []string{"tpl"},
	Short:   "Inspect and validate conversation templates",
}

var templateLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the templates of the library",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := loadStack(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		templates, err := st.Catalog.Templates(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTEPS\tTOPIC")
		for _, t := range templates {
			fmt.Fprintf(w, "%s\t%d\t%s\n", t.ID, len(t.Steps), t.Topic)
		}
		return w.Flush()
	},
}

var templateValidateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Validate template bundles",
	Long:  `Decodes each YAML bundle and reports every structural problem of its templates.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		var failed int
		for _, path := range args {
			if _, err := library.LoadFile(path); err != nil {
				failed++
				fmt.Fprintf(out, "✗ %s\n", filepath.Base(path))
				problems := flow.ValidationErrors(err)
				if len(problems) == 0 {
					problems = []error{err}
				}
				for _, p := range problems {
					fmt.Fprintf(out, "    - %v\n", p)
				}
				continue
			}
			fmt.Fprintf(out, "✓ %s\n", filepath.Base(path))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d file(s) invalid", failed, len(args))
		}
		return nil
	},
}

var templateGraphCmd = &cobra.Command{
	Use:   "graph <template-id>",
	Short: "Export a template's flow as a Mermaid diagram",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := loadStack(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		t, err := st.Catalog.Template(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(t.Steps, nil))
		return nil
	},
}

var templateSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema of template documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := flow.GenerateJSONSchema()
		if err != nil {
			return err
		}
		if out, _ := cmd.Flags().GetString("out"); out != "" {
			return os.WriteFile(out, append(data, '\n'), 0o644)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(templateCmd)

	templateSchemaCmd.Flags().StringP("out", "o", "", "Write the schema to a file instead of stdout")

	templateCmd.AddCommand(templateLsCmd)
	templateCmd.AddCommand(templateValidateCmd)
	templateCmd.AddCommand(templateGraphCmd)
	templateCmd.AddCommand(templateSchemaCmd)
}
