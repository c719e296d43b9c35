package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/wayfarer/internal/recipe"
)

// newRecipesCmd groups the recipe catalog subcommands.
func newRecipesCmd(a *app) *cobra.Command {
	recipesCmd := &cobra.Command{
		Use:   "recipes",
		Short: "Inspects and validates recipe catalogs",
	}
	recipesCmd.AddCommand(
		newRecipesValidateCmd(a),
		newRecipesListCmd(a),
		newRecipesMatchCmd(a),
	)
	return recipesCmd
}

// catalogFor loads the catalog at path, or the configured one when path is
// empty. A disabled configuration still falls back to the embedded default.
func (a *app) catalogFor(path string) (*recipe.Catalog, string, error) {
	if path == "" {
		path = a.cfg.Recipes().Path
	}
	if path == "" {
		c, err := recipe.DefaultCatalog()
		return c, "embedded default", err
	}
	c, err := recipe.LoadCatalog(path)
	return c, path, err
}

func newRecipesValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Validates a recipe catalog and prints lint warnings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			c, source, err := a.catalogFor(path)
			if err != nil {
				return fmt.Errorf("catalog %s is invalid: %w", source, err)
			}
			out := cmd.OutOrStdout()
			for _, w := range c.Lint() {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			fmt.Fprintf(out, "catalog %s is valid (%d recipes)\n", source, len(c.Recipes))
			return nil
		},
	}
}

func newRecipesListCmd(a *app) *cobra.Command {
	var path string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Lists the recipes of a catalog in match order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.catalogFor(path)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tMETHOD\tMATCH")
			for _, r := range c.Recipes {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, r.Method, r.Match)
			}
			return tw.Flush()
		},
	}
	listCmd.Flags().StringVarP(&path, "file", "f", "", "catalog file (default is the configured catalog)")
	return listCmd
}

func newRecipesMatchCmd(a *app) *cobra.Command {
	var path string
	matchCmd := &cobra.Command{
		Use:   "match <url>",
		Short: "Prints the recipe that would be applied to a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.catalogFor(path)
			if err != nil {
				return err
			}
			r, err := c.Match(args[0])
			if errors.Is(err, recipe.ErrNoRecipeMatched) {
				fmt.Fprintf(cmd.OutOrStdout(), "no recipe matches %s\n", recipe.PathOf(args[0]))
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s %s)\n", r.Name, r.Method, r.Match)
			return nil
		},
	}
	matchCmd.Flags().StringVarP(&path, "file", "f", "", "catalog file (default is the configured catalog)")
	return matchCmd
}
