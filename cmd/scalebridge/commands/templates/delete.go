package templates

import (
	"context"
	"fmt"

	"github.com/marmos91/scalebridge/internal/cli/prompt"
	templatestore "github.com/marmos91/scalebridge/pkg/template/store"
	"github.com/spf13/cobra"
)

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a protocol template",
	Long: `Delete a protocol template from the library.

Built-in templates cannot be deleted.

Examples:
  # Delete with confirmation
  scalebridge templates delete discovered_scale_1a2b

  # Delete without confirmation
  scalebridge templates delete discovered_scale_1a2b --force`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Delete without confirmation")
}

func runDelete(cmd *cobra.Command, args []string) error {
	name := args[0]

	confirmed, err := prompt.ConfirmWithForce(fmt.Sprintf("Delete template %q", name), deleteForce)
	if err != nil {
		return err
	}
	if !confirmed {
		fmt.Println("Aborted.")
		return nil
	}

	return withStore(cmd, func(ctx context.Context, store templatestore.Store) error {
		if err := store.Delete(ctx, name); err != nil {
			return fmt.Errorf("failed to delete template %q: %w", name, err)
		}
		fmt.Printf("Template %q deleted.\n", name)
		return nil
	})
}
