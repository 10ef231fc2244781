package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// target names the root category a command starts from.
type target struct {
	category string
	url      string
	name     string
}

func (t *target) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.category, "category", "", "slug of the root category (required)")
	cmd.Flags().StringVar(&t.url, "url", "", "listing URL of the root category (default site.base_url/<category>)")
	cmd.Flags().StringVar(&t.name, "name", "", "display name used when the root category is created")
	_ = cmd.MarkFlagRequired("category")
}

// resolve returns the category slug, its listing URL and the site URL that
// relative links resolve against.
func (t *target) resolve(cfg config.Config) (slug, listing, site string, err error) {
	slug = strings.TrimSpace(t.category)
	if slug == "" {
		return "", "", "", errors.New("--category must not be empty")
	}
	raw := strings.TrimSpace(t.url)
	if raw == "" {
		if cfg.Site.BaseURL == "" {
			return "", "", "", errors.New("--url is required when site.base_url is not configured")
		}
		raw = strings.TrimRight(cfg.Site.BaseURL, "/") + "/" + slug
	}
	listing, err = crawler.NormalizeURL(raw)
	if err != nil {
		return "", "", "", fmt.Errorf("category url: %w", err)
	}
	origin, err := crawler.Origin(listing)
	if err != nil {
		return "", "", "", fmt.Errorf("category url: %w", err)
	}
	site = cfg.Site.BaseURL
	if site == "" {
		site = origin.String()
	}
	return slug, listing, site, nil
}

func newCrawlCmd(env *environment) *cobra.Command {
	var (
		t        target
		maxPages int
		maxDepth int
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl a category and every subcategory reachable from it",
		Long: `Walks the listing pages of --category, descending into whitelisted
subcategories found on each first page, and upserts the products it extracts.
Exits with status 2 when nothing at all was found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := env.cfg.CrawlOptions()
			if cmd.Flags().Changed("max-pages") {
				opts.MaxPages = maxPages
			}
			if cmd.Flags().Changed("max-depth") {
				opts.MaxDepth = maxDepth
			}
			return runCrawl(cmd, env, t, opts)
		},
	}
	t.bind(cmd)
	cmd.Flags().IntVar(&maxPages, "max-pages", crawler.DefaultMaxPages, "maximum listing pages per category")
	cmd.Flags().IntVar(&maxDepth, "max-depth", crawler.DefaultMaxDepth, "maximum subcategory depth below the root")
	return cmd
}

func runCrawl(cmd *cobra.Command, env *environment, t target, opts crawler.Options) error {
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("crawl options: %w", err)
	}
	slug, listing, site, err := t.resolve(env.cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := app.New(ctx, env.cfg, env.logger, out)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer a.Close()
	stopOps := a.ServeOps(ctx)
	defer stopOps()

	root, err := a.Tree().EnsureRoot(ctx, slug, t.name)
	if err != nil {
		return fmt.Errorf("prepare root category: %w", err)
	}
	orch, err := a.Orchestrator(site, opts)
	if err != nil {
		return err
	}

	res := orch.Crawl(ctx, root, listing)
	a.Progress().CrawlDone(res)
	stopOps()
	a.Close()

	fmt.Fprintf(out, "imported %d products\n", res.Imported)
	env.logger.Info("crawl command finished",
		zap.String("session_id", res.SessionID),
		zap.Int("imported", res.Imported),
		zap.Int("subcategories", res.Subcategories),
	)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("crawl interrupted: %w", err)
	}
	if res.Imported == 0 && res.Subcategories == 0 {
		return noData("no subcategories or products found under %s", listing)
	}
	return nil
}
