package templates

import (
	"context"
	"fmt"
	"os"

	"github.com/marmos91/scalebridge/pkg/template"
	templatestore "github.com/marmos91/scalebridge/pkg/template/store"
	"github.com/spf13/cobra"
)

var importName string

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a protocol template from JSON",
	Long: `Import a protocol template from its canonical JSON format.

Imported templates are always stored as user templates, so an exported
built-in can be customized and imported back. Use --name to import under
a different name than the one in the file.

Examples:
  # Import a template
  scalebridge templates import my_scale.json

  # Import under a new name
  scalebridge templates import my_scale.json --name bench_scale_v2`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importName, "name", "", "Store the template under this name")
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	tmpl, err := template.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("invalid template file: %w", err)
	}

	// Imported copies never carry the builtin flag; the catalog is the only
	// source of built-ins.
	tmpl.IsBuiltin = false
	if importName != "" {
		tmpl.TemplateName = importName
	}

	return withStore(cmd, func(ctx context.Context, store templatestore.Store) error {
		if err := store.Save(ctx, tmpl); err != nil {
			return fmt.Errorf("failed to save template %q: %w", tmpl.TemplateName, err)
		}
		fmt.Printf("Template %q imported.\n", tmpl.TemplateName)
		return nil
	})
}
