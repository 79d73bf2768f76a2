package templates

import (
	"context"
	"fmt"
	"os"

	"github.com/marmos91/scalebridge/internal/cli/output"
	"github.com/marmos91/scalebridge/pkg/template"
	templatestore "github.com/marmos91/scalebridge/pkg/template/store"
	"github.com/spf13/cobra"
)

var listOutput string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List protocol templates",
	Long: `List all protocol templates ordered by effective priority.

Examples:
  # List as table
  scalebridge templates list

  # List as JSON
  scalebridge templates list -o json`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVarP(&listOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// TemplateList is a list of templates for table rendering.
type TemplateList []*template.Template

// Headers implements TableRenderer.
func (tl TemplateList) Headers() []string {
	return []string{"NAME", "MANUFACTURER", "PRIORITY", "ACTIVE", "BUILTIN", "USAGE", "SUCCESS"}
}

// Rows implements TableRenderer.
func (tl TemplateList) Rows() [][]string {
	rows := make([][]string, 0, len(tl))
	for _, t := range tl {
		rows = append(rows, []string{
			t.TemplateName,
			t.Manufacturer,
			fmt.Sprintf("%.1f", t.EffectivePriority()),
			yesNo(t.IsActive),
			yesNo(t.IsBuiltin),
			fmt.Sprintf("%d", t.UsageCount),
			fmt.Sprintf("%.0f%%", t.SuccessRate),
		})
	}
	return rows
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func runList(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, store templatestore.Store) error {
		all, err := store.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list templates: %w", err)
		}

		format, err := output.ParseFormat(listOutput)
		if err != nil {
			return err
		}
		switch format {
		case output.FormatJSON:
			return output.PrintJSON(os.Stdout, all)
		case output.FormatYAML:
			return output.PrintYAML(os.Stdout, all)
		default:
			if len(all) == 0 {
				fmt.Println("No templates found.")
				return nil
			}
			return output.PrintTable(os.Stdout, TemplateList(all))
		}
	})
}
