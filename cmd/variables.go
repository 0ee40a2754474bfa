package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/market-atlas/internal/metric"
)

var variablesCmd = &cobra.Command{
	Use:   "variables",
	Short: "List the variable catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		catalog, err := metric.LoadCatalog(ctx, env.Source)
		if err != nil {
			return err
		}
		if catalog.Len() == 0 {
			zap.L().Info("no variables found, run 'import' to load observations")
			return nil
		}

		formatVariables(os.Stdout, catalog.All())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(variablesCmd)
}

// formatVariables writes a tabular representation of the catalog to out.
func formatVariables(out io.Writer, vars []metric.Variable) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKEY\tLABEL\tUNIT\tVENDOR")
	_, _ = fmt.Fprintln(w, "--\t---\t-----\t----\t------")

	for _, v := range vars {
		vendor := v.Vendor()
		if vendor == "" {
			vendor = "-"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", v.ID, v.Key, v.Label, v.Unit(), vendor)
	}
	_ = w.Flush()
}
