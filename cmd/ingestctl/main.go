package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/markdave123-py/contexta-ingest/internal/app"
	"github.com/markdave123-py/contexta-ingest/internal/config"
	ingest "github.com/markdave123-py/contexta-ingest/internal/core/ingestion_engine"
)

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:  "ingestctl",
		Usage: "Ingest and inspect documents without going through the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
			&cli.StringFlag{
				Name:  "store",
				Usage: "Override STORE_DRIVER (postgres, badger)",
			},
			&cli.StringFlag{
				Name:  "badger-path",
				Usage: "Override BADGER_PATH",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Ingest a local PDF file",
				ArgsUsage: "FILE",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "chunk-size",
						Usage: "Override the target chunk size for this file",
					},
					&cli.IntFlag{
						Name:  "chunk-overlap",
						Usage: "Override the chunk overlap for this file",
						Value: -1,
					},
				},
			},
			{
				Name:   "list",
				Usage:  "List the most recent documents",
				Action: listCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of documents",
						Value: 20,
					},
				},
			},
			{
				Name:      "show",
				Usage:     "Show a document and its chunks",
				ArgsUsage: "DOCUMENT_ID",
				Action:    showCommand,
			},
			{
				Name:      "search",
				Usage:     "Search chunks by semantic similarity",
				ArgsUsage: "QUERY",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "document",
						Usage: "Restrict the search to one document id",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of results",
						Value: 5,
					},
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a document and its chunks",
				ArgsUsage: "DOCUMENT_ID",
				Action:    deleteCommand,
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	var level slog.Level
	switch strings.ToLower(c.String("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", c.String("log-level"))
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// withApp applies flag overrides to the environment, loads the config and runs fn against a wired App.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app.App) error) error {
	overrides := map[string]string{
		"STORE_DRIVER": c.String("store"),
		"BADGER_PATH":  c.String("badger-path"),
	}
	for k, v := range overrides {
		if v == "" {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	ctx := c.Context
	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func requireArg(c *cli.Context, name string) (string, error) {
	arg := strings.TrimSpace(c.Args().First())
	if arg == "" {
		return "", fmt.Errorf("%s argument is required", name)
	}
	return arg, nil
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ingestCommand(c *cli.Context) error {
	path, err := requireArg(c, "FILE")
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	up := ingest.Upload{
		FileName:    filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Data:        data,
	}

	return withApp(c, func(ctx context.Context, a *app.App) error {
		cfg := a.Ingestor.Config()
		if n := c.Int("chunk-size"); n > 0 {
			cfg.ChunkSize = n
		}
		if n := c.Int("chunk-overlap"); n >= 0 {
			cfg.ChunkOverlap = n
		}

		res, err := a.Ingestor.IngestWithConfig(ctx, up, cfg)
		if err != nil {
			return err
		}
		return printJSON(c, map[string]any{
			"documentId":   res.Document.ID,
			"fileName":     res.Document.FileName,
			"pageCount":    res.PageCount,
			"chunkCount":   res.ChunkCount,
			"documentInfo": res.Document.Info,
			"totalTimeMs":  res.Timings.Total.Milliseconds(),
		})
	})
}

func listCommand(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		docs, err := a.Documents.List(ctx, c.Int("limit"))
		if err != nil {
			return err
		}
		if docs == nil {
			return printJSON(c, []any{})
		}
		return printJSON(c, docs)
	})
}

func showCommand(c *cli.Context) error {
	id, err := requireArg(c, "DOCUMENT_ID")
	if err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		doc, err := a.Documents.Get(ctx, id)
		if err != nil {
			return err
		}
		chunks, err := a.Documents.Chunks(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(c, map[string]any{"document": doc, "chunks": chunks})
	})
}

func searchCommand(c *cli.Context) error {
	query, err := requireArg(c, "QUERY")
	if err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		hits, err := a.Documents.Search(ctx, query, c.String("document"), c.Int("limit"))
		if err != nil {
			return err
		}
		return printJSON(c, hits)
	})
}

func deleteCommand(c *cli.Context) error {
	id, err := requireArg(c, "DOCUMENT_ID")
	if err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		if err := a.Documents.Delete(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "deleted %s\n", id)
		return nil
	})
}
