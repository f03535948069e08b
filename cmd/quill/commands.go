package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/FranksOps/quill/internal/apperr"
	"github.com/FranksOps/quill/internal/report"
	"github.com/spf13/cobra"
)

func newRunCmd(g *globalFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Optimize one batch of source articles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, g, func(ctx context.Context, a *app) error {
				o, err := a.orchestrator(ctx)
				if err != nil {
					return err
				}

				rep, runErr := o.Run(ctx)
				if rep != nil {
					if err := writeSummary(cmd, format, report.GenerateSummary(rep)); err != nil {
						return err
					}
				}
				return runErr
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "report format: text, json, yaml, html")
	return cmd
}

func writeSummary(cmd *cobra.Command, format string, s report.Summary) error {
	w := cmd.OutOrStdout()
	switch format {
	case "text":
		return report.WriteText(w, s)
	case "json":
		return report.WriteJSON(w, s)
	case "yaml":
		return report.WriteYAML(w, s)
	case "html":
		return report.WriteHTML(w, s)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

func newDiscoverCmd(g *globalFlags) *cobra.Command {
	var (
		limit int
		save  bool
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find source articles on the configured listing pages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, g, func(ctx context.Context, a *app) error {
				n := limit
				if n <= 0 {
					n = a.cfg.Discovery.Limit
				}

				articles, err := a.discoverer.Discover(ctx, n)
				if err != nil {
					return err
				}
				for _, art := range articles {
					printf(cmd, "%s\t%s\t%d chars\n", art.Title, art.URL, len([]rune(art.Content)))
				}
				if !save {
					return nil
				}

				store, err := a.articleStore(ctx)
				if err != nil {
					return err
				}
				saved := 0
				for _, art := range articles {
					if err := store.SaveSource(ctx, art); err != nil {
						if apperr.IsConflict(err) {
							a.logger.Info("source already stored", "url", art.URL)
							continue
						}
						return err
					}
					saved++
				}
				a.logger.Info("sources saved", "saved", saved, "discovered", len(articles))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "number of articles to take (default discovery.limit)")
	cmd.Flags().BoolVar(&save, "save", false, "store the discovered articles as sources")
	return cmd
}

func newSearchCmd(g *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run the search provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, g, func(ctx context.Context, a *app) error {
				results, err := a.search.Search(ctx, args[0], limit)
				if err != nil {
					return err
				}
				for i, r := range results {
					printf(cmd, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
					if r.Snippet != "" {
						printf(cmd, "   %s\n", r.Snippet)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of results")
	return cmd
}

func newExtractCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "extract <url>",
		Short: "Print the main text of a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, g, func(ctx context.Context, a *app) error {
				text, err := a.extractor.Extract(ctx, args[0])
				if err != nil {
					return err
				}
				if text == "" {
					return apperr.New(apperr.KindIncomplete, "extract", "no content found")
				}
				printf(cmd, "%s\n", text)
				return nil
			})
		},
	}
}

var errCheckFailed = errors.New("synthesizer connectivity check failed")

func newCheckCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the inference API is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, g, func(ctx context.Context, a *app) error {
				if !a.synth.Test(ctx) {
					return errCheckFailed
				}
				printf(cmd, "ok: %s\n", a.cfg.Inference.PrimaryModel)
				return nil
			})
		},
	}
}
