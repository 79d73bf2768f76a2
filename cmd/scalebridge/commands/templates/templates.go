// Package templates implements protocol template management subcommands.
package templates

import (
	"context"
	"fmt"

	"github.com/marmos91/scalebridge/pkg/config"
	templatestore "github.com/marmos91/scalebridge/pkg/template/store"
	"github.com/spf13/cobra"
)

// Cmd is the parent command for template management.
var Cmd = &cobra.Command{
	Use:   "templates",
	Short: "Protocol template management",
	Long: `Manage the protocol template library.

Templates describe how a scale frames and formats its output. The library
ships with built-in templates for common manufacturers; discovery sessions
add synthesized templates for unknown scales.

Built-in templates are read-only. To customize one, export it, edit the
JSON and import it back under a new name.

Examples:
  # List all templates
  scalebridge templates list

  # Show a template as JSON
  scalebridge templates show mettler_toledo_sics

  # Export, edit and re-import
  scalebridge templates export mettler_toledo_sics -o my_scale.json
  scalebridge templates import my_scale.json

  # Delete a discovered template
  scalebridge templates delete discovered_scale_1a2b`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(exportCmd)
	Cmd.AddCommand(importCmd)
	Cmd.AddCommand(deleteCmd)
}

// openStore loads the configuration and opens the template store. The caller
// must Close the returned store.
func openStore(cmd *cobra.Command) (templatestore.Store, error) {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return nil, err
	}
	store, err := config.CreateTemplateStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open template store: %w", err)
	}
	return store, nil
}

// withStore runs fn against an opened template store.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store templatestore.Store) error) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(cmd.Context(), store)
}
