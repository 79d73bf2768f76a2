package templates

import (
	"context"
	"fmt"
	"os"

	templatestore "github.com/marmos91/scalebridge/pkg/template/store"
	"github.com/spf13/cobra"
)

var exportFile string

var exportCmd = &cobra.Command{
	Use:   "export <name>",
	Short: "Export a protocol template to JSON",
	Long: `Export one protocol template in its canonical JSON format.

Without --output-file the template is written to stdout.

Examples:
  # Export to stdout
  scalebridge templates export mettler_toledo_sics

  # Export to a file
  scalebridge templates export mettler_toledo_sics -o my_scale.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFile, "output-file", "o", "", "Write the template to this file instead of stdout")
}

func runExport(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, store templatestore.Store) error {
		tmpl, err := store.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to load template %q: %w", args[0], err)
		}

		data, err := tmpl.Marshal()
		if err != nil {
			return err
		}

		if exportFile == "" {
			fmt.Println(string(data))
			return nil
		}
		if err := os.WriteFile(exportFile, append(data, '\n'), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", exportFile, err)
		}
		fmt.Printf("Template %q exported to %s\n", tmpl.TemplateName, exportFile)
		return nil
	})
}
