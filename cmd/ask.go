package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pwojcik/docrag/internal/app"
	"github.com/pwojcik/docrag/internal/config"
	"github.com/pwojcik/docrag/internal/rag"
)

var (
	askCollection string
	askSources    int
	askStream     bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question against an indexed collection",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(strings.Join(args, " "))
	},
}

func init() {
	askCmd.Flags().StringVar(&askCollection, "collection", "", "collection to search (default: \"default\")")
	askCmd.Flags().IntVar(&askSources, "sources", 0, "number of source chunks to retrieve")
	askCmd.Flags().BoolVar(&askStream, "stream", false, "print answer tokens as they are generated")
	rootCmd.AddCommand(askCmd)
}

func runAsk(question string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Warn("shutdown error", "error", closeErr)
		}
	}()

	q := rag.Query{
		Question:   question,
		Collection: askCollection,
		MaxSources: askSources,
	}

	if askStream {
		return streamAnswer(ctx, a.Engine, q)
	}

	result, err := a.Engine.Answer(ctx, q)
	if err != nil {
		return fmt.Errorf("answering: %w", err)
	}

	fmt.Println(result.Answer)
	printSources(result.Sources)
	fmt.Fprintf(os.Stderr, "\n%s | %.2fs | %d tokens\n",
		result.ModelInfo, result.ProcessingTime, result.TokensUsed)
	return nil
}

func streamAnswer(ctx context.Context, engine *rag.Engine, q rag.Query) error {
	var sources []rag.Source

	err := engine.Stream(ctx, q, func(_ context.Context, ev rag.Event) error {
		switch ev.Type {
		case rag.EventToken:
			fmt.Print(ev.Token)
		case rag.EventAnswer:
			fmt.Print(ev.Answer)
		case rag.EventSources:
			sources = ev.Sources
		case rag.EventError:
			return fmt.Errorf("generation failed: %s", ev.Error)
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Println()
	printSources(sources)
	return nil
}

func printSources(sources []rag.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(os.Stderr, "\nSources:")
	for i, s := range sources {
		fmt.Fprintf(os.Stderr, "  [%d] %s (page %s, score %.3f)\n", i+1, s.Filename, s.Page, s.Score)
	}
}
