package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/librarian/internal"
	"github.com/starford/librarian/internal/index"
	"github.com/starford/librarian/internal/tagservice"
	pkgconfig "github.com/starford/librarian/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadWithDefaults(cmd.String("config"), "", cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if dir := cmd.String("dir"); dir != "" {
		cfg.Scan.Directory = dir
		if err := cfg.Scan.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg), internal.WithVersion(version)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg), internal.WithVersion(version))
}

// oneShot runs fn after an index refresh and prints its result.
func oneShot(fn func(context.Context, *cli.Command, *tagservice.Service, index.SyncResult) (any, error)) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return internal.Exec(ctx, cmd.Bool("full"), func(ctx context.Context, svc *tagservice.Service, res index.SyncResult) error {
			out, err := fn(ctx, cmd, svc, res)
			if err != nil {
				return err
			}
			return render(os.Stdout, out, cmd.Bool("json"))
		}, internal.WithConfig(cfg))
	}
}

func render(w io.Writer, v any, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	switch v := v.(type) {
	case []index.TagCount:
		for _, t := range v {
			fmt.Fprintf(tw, "#%s\t%d\n", t.Name, t.Count)
		}
	case []index.FileRecord:
		for _, f := range v {
			fmt.Fprintf(tw, "%s\t%v\n", f.Path, f.Tags)
		}
	case []index.SearchResult:
		for _, r := range v {
			fmt.Fprintf(tw, "%d\t%s\n", r.Score, r.Path)
		}
	case index.SyncResult:
		fmt.Fprintf(tw, "added\t%d\nupdated\t%d\nremoved\t%d\nskipped\t%d\ntook\t%s\n",
			v.Added, v.Updated, v.Removed, v.Skipped, v.Duration)
	default:
		fmt.Fprintln(tw, v)
	}
	return tw.Flush()
}

func main() {
	cmd := &cli.Command{
		Name:    "librarian",
		Usage:   "Hashtag index for Markdown and TaskPaper files, with HTTP and MCP access",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (.yaml or .toml)",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "Directory to index, overrides scan.directory",
				Sources: cli.EnvVars("LIBRARIAN_DIR"),
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print one-shot command output as JSON",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API with live file watching (default)",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: serveMCP,
			},
			{
				Name:  "scan",
				Usage: "Bring the index up to date and report what changed",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "full", Usage: "Re-read every file, not only changed ones"},
				},
				Action: oneShot(func(_ context.Context, _ *cli.Command, _ *tagservice.Service, res index.SyncResult) (any, error) {
					return res, nil
				}),
			},
			{
				Name:  "tags",
				Usage: "List tags with file counts",
				Action: oneShot(func(ctx context.Context, _ *cli.Command, svc *tagservice.Service, _ index.SyncResult) (any, error) {
					return svc.AllTags(ctx), nil
				}),
			},
			{
				Name:  "files",
				Usage: "List indexed files, optionally only those with a tag",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tag", Aliases: []string{"t"}, Usage: "Only files carrying this tag"},
				},
				Action: oneShot(func(ctx context.Context, cmd *cli.Command, svc *tagservice.Service, _ index.SyncResult) (any, error) {
					if tag := cmd.String("tag"); tag != "" {
						return svc.FilesForTag(ctx, tag), nil
					}
					return svc.AllFiles(ctx), nil
				}),
			},
			{
				Name:      "search",
				Usage:     "Search file names and tags",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Maximum number of results"},
				},
				Action: oneShot(func(ctx context.Context, cmd *cli.Command, svc *tagservice.Service, _ index.SyncResult) (any, error) {
					query := cmd.Args().First()
					if query == "" {
						return nil, errors.New("search: query is required")
					}
					return svc.Search(ctx, query, int(cmd.Int("limit"))), nil
				}),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
