package templates

import (
	"context"
	"fmt"
	"os"

	"github.com/marmos91/scalebridge/internal/cli/output"
	templatestore "github.com/marmos91/scalebridge/pkg/template/store"
	"github.com/spf13/cobra"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a protocol template",
	Long: `Display one protocol template in its canonical JSON format.

Examples:
  # Show as JSON
  scalebridge templates show mettler_toledo_sics

  # Show as YAML
  scalebridge templates show mettler_toledo_sics -o yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "json", "Output format (json|yaml)")
}

func runShow(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, store templatestore.Store) error {
		tmpl, err := store.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to load template %q: %w", args[0], err)
		}

		format, err := output.ParseFormat(showOutput)
		if err != nil {
			return err
		}
		switch format {
		case output.FormatYAML:
			return output.PrintYAML(os.Stdout, tmpl)
		default:
			data, err := tmpl.Marshal()
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}
	})
}
