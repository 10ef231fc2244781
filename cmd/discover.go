package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-crawler/internal/app"
)

func newDiscoverCmd(env *environment) *cobra.Command {
	var t target
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Record the subcategories linked from a category's first page",
		Long: `Fetches only the first listing page of --category, stores every
whitelisted subcategory it links to and prints them. No products are read.
Exits with status 2 when no subcategory was found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDiscover(cmd, env, t)
		},
	}
	t.bind(cmd)
	return cmd
}

func runDiscover(cmd *cobra.Command, env *environment, t target) error {
	slug, listing, site, err := t.resolve(env.cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := app.New(ctx, env.cfg, env.logger, nil)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer a.Close()

	root, err := a.Tree().EnsureRoot(ctx, slug, t.name)
	if err != nil {
		return fmt.Errorf("prepare root category: %w", err)
	}
	orch, err := a.Orchestrator(site, env.cfg.CrawlOptions())
	if err != nil {
		return err
	}
	found, err := orch.Discover(ctx, root, listing)
	if err != nil {
		return fmt.Errorf("discover subcategories: %w", err)
	}
	for _, c := range found {
		parent := "none"
		if c.ParentID != nil {
			parent = fmt.Sprintf("%d", *c.ParentID)
		}
		fmt.Fprintf(out, "%s\t%s\tid=%d parent=%s\n", c.Slug, c.Name, c.ID, parent)
	}
	fmt.Fprintf(out, "discovered %d subcategories\n", len(found))
	if len(found) == 0 {
		return noData("no subcategories found under %s", listing)
	}
	return nil
}
