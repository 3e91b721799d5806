package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/propwatch/listings-crawler/internal/app"
)

func newCrawlCmd() *cobra.Command {
	var (
		urlFile string
		serve   bool
	)
	cmd := &cobra.Command{
		Use:   "crawl [urls...]",
		Short: "Crawl listing URLs and write a session report",
		Long: `Crawls the given URLs (or the url_file from config) through the
resilience pipeline and writes a session report when the run finishes.
With --serve, a status API exposes live metrics during the crawl.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args, urlFile, serve)
		},
	}
	cmd.Flags().StringVar(&urlFile, "urls", "", "file with one URL per line (overrides config)")
	cmd.Flags().BoolVar(&serve, "serve", false, "expose the status API while crawling")
	return cmd
}

func runCrawl(cmd *cobra.Command, args []string, urlFile string, serve bool) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	urls := args
	if len(urls) == 0 {
		path := urlFile
		if path == "" {
			path = cfg.Crawler.URLFile
		}
		if path == "" {
			return errors.New("no URLs given: pass them as arguments, --urls, or crawler.url_file")
		}
		urls, err = readURLFile(path)
		if err != nil {
			return err
		}
	}
	if len(urls) == 0 {
		return errors.New("url list is empty")
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if serve {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           a.Server().Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if serr := srv.ListenAndServe(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
				logger.Error("status server failed", zap.Error(serr))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	rep, err := a.Run(ctx, urls)
	if err != nil {
		return fmt.Errorf("crawl run: %w", err)
	}

	logger.Info("crawl finished",
		zap.String("run_id", rep.RunID),
		zap.Int("total", rep.Summary.TotalURLs),
		zap.Int("successful", rep.Summary.Successful),
		zap.Float64("success_rate", rep.Summary.SuccessRate),
		zap.String("health", rep.Summary.HealthStatus))
	return nil
}

// readURLFile loads one URL per line, skipping blanks and # comments.
func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url file: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url file: %w", err)
	}
	return urls, nil
}
