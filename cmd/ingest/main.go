package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"talk-archive/pkg/app"
	"talk-archive/pkg/archive"
	"talk-archive/pkg/config"
	"talk-archive/pkg/logging"
	"talk-archive/pkg/urls"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("TALK_ARCHIVE_CONFIG"), "YAML config file")
		urlFile    = flag.String("urls", "urls.txt", "File with one talk URL per line")
		feedURL    = flag.String("feed", "", "RSS or Atom feed to read talk URLs from instead of -urls")
		sitemapURL = flag.String("sitemap", "", "Sitemap to read talk URLs from instead of -urls")
		indexURL   = flag.String("index", "", "Listing page to scrape talk links from instead of -urls")
		selector   = flag.String("selector", urls.DefaultLinkSelector, "CSS selector for links on the -index page")
		contains   = flag.String("contains", "", "Keep only URLs whose path contains this segment")
		zipPath    = flag.String("zip", "", "Import a results archive instead of processing URLs")
		outPath    = flag.String("out", "urls.zip", "Archive to write the cached results to")
	)
	flag.Parse()

	cfg := config.LoadFrom(*configPath)
	if err := cfg.EnsureDirs(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logFile := logging.RotatingFile(
		filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("ingest_%s.log", time.Now().Format("20060102"))),
		logging.Rotation{MaxSizeMB: cfg.Logging.MaxSizeMB, MaxBackups: cfg.Logging.MaxBackups},
	)
	defer logFile.Close()
	logger := logging.New(cfg.Logging.Level, io.MultiWriter(os.Stdout, logFile))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer application.Close(context.Background())

	start := time.Now()
	if *zipPath != "" {
		n, err := application.Importer(os.TempDir()).ImportZip(ctx, *zipPath)
		logger.Info("archive imported", "path", *zipPath, "results", n, "duration", time.Since(start))
		if err != nil {
			logger.Error("archive import incomplete", "error", err)
			os.Exit(1)
		}
		return
	}

	var (
		src      urls.Source = urls.NewFileSource()
		location             = *urlFile
	)
	switch {
	case *feedURL != "":
		src, location = urls.NewRSSSource(), *feedURL
	case *sitemapURL != "":
		src, location = urls.NewSitemapSource(logger), *sitemapURL
	case *indexURL != "":
		src, location = urls.NewHTMLSource(*selector), *indexURL
	}

	filters := []urls.Filter{urls.NewBaseURLFilter(), urls.NewDedupFilter()}
	if *contains != "" {
		filters = append(filters, urls.NewContainsPathFilter(*contains))
	}
	list, err := urls.Collect(ctx, src, location, filters...)
	if err != nil {
		logger.Error("cannot read urls", "error", err)
		os.Exit(1)
	}
	logger.Info("starting batch run", "source", location, "urls", len(list))

	report, runErr := application.Manager().ProcessURLs(ctx, list)
	for _, u := range report.Failed {
		logger.Warn("url failed", "url", u)
	}

	files, err := application.Cache.ResultFiles()
	if err != nil {
		logger.Error("cannot list results", "error", err)
	} else if err := archive.ZipResults(*outPath, files); err != nil {
		logger.Error("cannot write results archive", "error", err)
	} else {
		logger.Info("results archived", "path", *outPath, "files", len(files))
	}

	summary := archive.Summarize(list, application.Cache)
	fmt.Printf("Processed %d/%d URLs successfully (%d missing) in %s\n",
		summary.Succeeded, summary.Total, len(summary.Missing), time.Since(start).Round(time.Second))

	if runErr != nil {
		logger.Error("batch run interrupted", "error", runErr)
		os.Exit(1)
	}
}
