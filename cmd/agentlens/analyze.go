package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/urfave/cli/v3"

	"github.com/agentlens/agentlens"
	"github.com/agentlens/agentlens/framework/crewai"
	"github.com/agentlens/agentlens/framework/langgraph"
)

func analyzeCommand() *cli.Command {
	return &cli.Command{
		Name:  "analyze",
		Usage: "Reconstruct task trees and compute metrics for recorded traces",
		Flags: append(sourceFlags(),
			&cli.StringFlag{
				Name:    "output",
				Sources: cli.EnvVars("AGENTLENS_OUTPUT"),
				Usage:   "Directory for task/metric JSON output (omit to print summary only)",
			},
			&cli.StringFlag{
				Name:    "trace-id",
				Sources: cli.EnvVars("AGENTLENS_TRACE_ID"),
				Usage:   "Analyze a single trace instead of all listed traces",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log engine warnings to stderr",
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			src, err := openSource(ctx, cmd)
			if err != nil {
				return err
			}

			traceIDs, err := resolveTraceIDs(ctx, cmd, src)
			if err != nil {
				return err
			}

			var spans []*agentlens.Span
			for _, traceID := range traceIDs {
				traceSpans, err := src.Get(ctx, traceID)
				if err != nil {
					return fmt.Errorf("failed to load trace %s: %w", traceID, err)
				}
				spans = append(spans, traceSpans...)
			}

			opts := []agentlens.Option{
				agentlens.WithFrameworks(langgraph.New(), crewai.New()),
			}
			if cmd.Bool("verbose") {
				opts = append(opts, agentlens.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
					Level: slog.LevelDebug,
				}))))
			}
			if out := cmd.String("output"); out != "" {
				opts = append(opts, agentlens.WithRepository(agentlens.NewFileRepository(out)))
			}

			results, err := agentlens.New(opts...).Analyze(ctx, spans)
			if err != nil {
				return err
			}

			printSummaries(results)
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List recorded traces",
		Flags: append(sourceFlags(),
			&cli.IntFlag{
				Name:  "limit",
				Value: 20,
				Usage: "Maximum number of traces to list",
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			src, err := openSource(ctx, cmd)
			if err != nil {
				return err
			}

			resp, err := src.List(ctx, listRequest{pageSize: int(cmd.Int("limit"))})
			if err != nil {
				return err
			}

			for _, t := range resp.traces {
				fmt.Printf("%s\t%d bytes\t%s\n", t.TraceID, t.Size, t.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func sourceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "dir",
			Sources: cli.EnvVars("AGENTLENS_DIR"),
			Usage:   "Local directory containing span JSON files",
		},
		&cli.StringFlag{
			Name:    "bucket",
			Sources: cli.EnvVars("AGENTLENS_BUCKET"),
			Usage:   "Google Cloud Storage bucket name",
		},
		&cli.StringFlag{
			Name:    "prefix",
			Sources: cli.EnvVars("AGENTLENS_PREFIX"),
			Usage:   "Google Cloud Storage object prefix",
		},
	}
}

func openSource(ctx context.Context, cmd *cli.Command) (spanSource, error) {
	dir := cmd.String("dir")
	bucket := cmd.String("bucket")

	if dir == "" && bucket == "" {
		return nil, fmt.Errorf("either --dir or --bucket must be specified")
	}
	if dir != "" && bucket != "" {
		return nil, fmt.Errorf("--dir and --bucket are mutually exclusive")
	}

	if dir != "" {
		return newLocalSource(dir), nil
	}

	src, err := newGCSSource(ctx, bucket, cmd.String("prefix"))
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloud Storage source: %w", err)
	}
	return src, nil
}

func resolveTraceIDs(ctx context.Context, cmd *cli.Command, src spanSource) ([]string, error) {
	if traceID := cmd.String("trace-id"); traceID != "" {
		return []string{traceID}, nil
	}

	var ids []string
	req := listRequest{pageSize: 100}
	for {
		resp, err := src.List(ctx, req)
		if err != nil {
			return nil, err
		}
		for _, t := range resp.traces {
			ids = append(ids, t.TraceID)
		}
		if resp.nextPageToken == "" {
			return ids, nil
		}
		req.pageToken = resp.nextPageToken
	}
}

func printSummaries(results map[string]*agentlens.TraceResult) {
	traceIDs := make([]string, 0, len(results))
	for id := range results {
		traceIDs = append(traceIDs, id)
	}
	sort.Strings(traceIDs)

	for _, traceID := range traceIDs {
		result := results[traceID]
		fmt.Printf("trace %s: %d tasks\n", traceID, len(result.Tasks))

		for _, root := range rootTasks(result) {
			m := result.Metrics[root.ID]
			if m == nil {
				continue
			}
			fmt.Printf("  %s: llm_calls=%d tool_calls=%d subtasks=%d width=%d tokens=%d duration=%s\n",
				root.Name, m.LLMCalls, m.ToolCalls, m.Subtasks, m.Width, m.TotalTokens, m.ExecutionTime)
		}
	}
}

func rootTasks(result *agentlens.TraceResult) []*agentlens.FlatTask {
	var roots []*agentlens.FlatTask
	for _, t := range result.Tasks {
		if t.ParentID == "" {
			roots = append(roots, t)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].Name < roots[j].Name })
	return roots
}
