package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"comic-studio/backend/internal/comic"
	"comic-studio/backend/internal/export"
	"comic-studio/backend/internal/gemini"
	"comic-studio/backend/internal/images"
	"comic-studio/backend/pkg/config"
	"comic-studio/backend/pkg/logger"
	"comic-studio/backend/pkg/secrets"
)

type options struct {
	scriptFile string
	outputFile string
	title      string
	verbose    bool
}

var opts options

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "comicctl",
		Short:        "Generate comic strips from dialogue scripts",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.scriptFile, "script-file", "f", "-", "input file ('-' reads stdin)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	generate := &cobra.Command{
		Use:     "generate",
		Short:   "Generate panels and images and write them as a ZIP archive",
		Example: "  comicctl generate -f script.txt -o comic.zip",
		RunE:    generateCommand,
	}
	generate.Flags().StringVarP(&opts.outputFile, "output-file", "o", "", "archive path (defaults to a name derived from the title)")
	generate.Flags().StringVarP(&opts.title, "title", "t", "", "comic title")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check a panel sequence JSON file",
		RunE:  validateCommand,
	}

	root.AddCommand(generate, validate)
	return root
}

func newLogger() *logger.Logger {
	cfg := logger.DefaultConfig()
	cfg.JSON = false
	if opts.verbose {
		cfg.Level = "debug"
	}
	log := logger.New(cfg)
	logger.SetGlobal(log)
	return log
}

func readInput(cmd *cobra.Command) ([]byte, error) {
	if opts.scriptFile == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(opts.scriptFile)
}

func generateCommand(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := newLogger()
	cfg := config.New()

	if err := secrets.ResolveAPIKey(ctx, cfg, log); err != nil {
		return err
	}

	script, err := readInput(cmd)
	if err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}

	client, err := gemini.New(ctx, gemini.Config{
		APIKey:     cfg.Gemini.APIKey,
		BaseURL:    cfg.Gemini.BaseURL,
		TextModel:  cfg.Gemini.TextModel,
		ImageModel: cfg.Gemini.ImageModel,
		Timeout:    cfg.Gemini.Timeout,
	}, nil, nil, log)
	if err != nil {
		return err
	}

	orchestrator := comic.NewOrchestrator(client, cfg.Comic.MaxScriptLength, log)
	panels, err := orchestrator.CreateComic(ctx, string(script))
	if err != nil {
		return fmt.Errorf("failed to generate panels: %w", err)
	}
	log.Info("panels generated", "count", len(panels), "speakers", panels.Speakers())

	fetcher := images.NewFetcher(client, images.Options{
		Stagger:       cfg.Comic.ImageStagger,
		Concurrency:   cfg.Comic.ImageConcurrency,
		RatePerMinute: cfg.Comic.ImageRatePerMinute,
		Logger:        log,
	})
	imgs := fetcher.Fetch(ctx, panels, func(img images.PanelImage) {
		log.Debug("panel image", "panel", img.Panel, "status", string(img.Status))
	})

	title := opts.title
	if title == "" {
		title = cfg.Comic.ExportTitle
	}
	blobs, err := export.ComicBlobs(title, string(script), panels, imgs)
	if err != nil {
		return err
	}

	out := opts.outputFile
	if out == "" {
		out = export.ArchiveName(title)
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	defer f.Close()

	if err := export.WriteZip(f, blobs); err != nil {
		return err
	}

	failed := 0
	for _, img := range imgs {
		if img.Status != images.StatusReady {
			failed++
		}
	}
	log.Info("comic written", "path", out, "panels", len(panels), "missing_images", failed)
	return nil
}

func validateCommand(cmd *cobra.Command, _ []string) error {
	data, err := readInput(cmd)
	if err != nil {
		return fmt.Errorf("failed to read panels: %w", err)
	}

	panels, err := comic.ParsePanels(json.RawMessage(data))
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d panels, speakers: %v\n", len(panels), panels.Speakers())
	return nil
}
