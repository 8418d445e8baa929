package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pwojcik/docrag/internal/app"
	"github.com/pwojcik/docrag/internal/config"
	"github.com/pwojcik/docrag/internal/ingest"
	"github.com/pwojcik/docrag/internal/rag"
)

var (
	ingestCollection string
	ingestTimeout    time.Duration
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file-or-url]",
	Short: "Index a document file or web page",
	Long: fmt.Sprintf(`Index a local file or a web page into a collection.

Supported file types: %s. Arguments starting with http:// or https://
are fetched and their readable content extracted.`,
		strings.Join(ingest.SupportedExtensions(), ", ")),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(args[0])
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestCollection, "collection", rag.DefaultCollection, "target collection")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", ingest.DefaultWaitTimeout, "how long to wait for processing")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(target string) error {
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

	var doc *ingest.Document
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		doc, err = submitURL(ctx, a, target)
	} else {
		doc, err = submitFile(ctx, a, target)
	}
	if err != nil {
		return err
	}

	fmt.Printf("ingesting %s into collection %q (document %s)\n", doc.Filename, doc.Collection, doc.ID)

	done, err := ingest.WaitUntilProcessed(ctx, a.Registry, doc.ID, ingestTimeout)
	if err != nil {
		return fmt.Errorf("waiting for processing: %w", err)
	}
	if done.Status == ingest.StatusFailed {
		return fmt.Errorf("processing failed: %s", done.Error)
	}

	fmt.Printf("done: %d chunks indexed\n", done.ChunkCount)
	return nil
}

func submitFile(ctx context.Context, a *app.App, path string) (*ingest.Document, error) {
	if _, err := ingest.ExtractorFor(path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	doc := &ingest.Document{
		Filename:    filepath.Base(path),
		Collection:  ingestCollection,
		FileSize:    info.Size(),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
	}
	if err := a.Registry.Create(ctx, doc); err != nil {
		return nil, err
	}

	err = a.Processor.Submit(ingest.Job{
		DocumentID: doc.ID,
		Collection: doc.Collection,
		Filename:   doc.Filename,
		Path:       path,
	})
	if err != nil {
		return nil, fmt.Errorf("queueing document: %w", err)
	}
	return doc, nil
}

func submitURL(ctx context.Context, a *app.App, rawURL string) (*ingest.Document, error) {
	title, text, err := ingest.FetchURL(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}

	doc := &ingest.Document{
		Filename:    title,
		Collection:  ingestCollection,
		FileSize:    int64(len(text)),
		ContentType: "text/html",
	}
	if err := a.Registry.Create(ctx, doc); err != nil {
		return nil, err
	}

	err = a.Processor.Submit(ingest.Job{
		DocumentID: doc.ID,
		Collection: doc.Collection,
		Filename:   doc.Filename,
		Text:       text,
	})
	if err != nil {
		return nil, fmt.Errorf("queueing document: %w", err)
	}
	return doc, nil
}
