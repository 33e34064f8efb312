// Command signalhub runs the signal intake service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/buildcoprojects/signalhub/pkg/artifacts"
	"github.com/buildcoprojects/signalhub/pkg/config"
	"github.com/buildcoprojects/signalhub/pkg/ledger"
)

// Set with -ldflags at build time.
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServer

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	root := rootCmd(stdout, stderr)
	if len(args) > 1 {
		root.SetArgs(args[1:])
	} else {
		root.SetArgs([]string{})
	}
	if err := root.Execute(); err != nil {
		var ce *exitError
		if errors.As(err, &ce) {
			return ce.code
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func rootCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "signalhub",
		Short:         "Signal intake service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return startServer(cmd.Context(), config.Load(), stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server (default)",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return startServer(cmd.Context(), config.Load(), stderr)
			},
		},
		healthCmd(stdout, stderr),
		ledgerCmd(stdout),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(stdout, "signalhub %s (build: %s, %s)\n", version, buildTime, runtime.Version())
			},
		},
	)
	return cmd
}

func healthCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		url     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health (HTTP)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if url == "" {
				url = "http://localhost:" + config.Load().Port + "/health"
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				fmt.Fprintf(stderr, "Health check failed: %v\n", err)
				return &exitError{code: 1}
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if resp.StatusCode != http.StatusOK {
				fmt.Fprintf(stderr, "Health check failed: status %d\n%s\n", resp.StatusCode, strings.TrimSpace(string(body)))
				return &exitError{code: 1}
			}
			fmt.Fprintln(stdout, "OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Health endpoint (default http://localhost:$PORT/health)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
	return cmd
}

func ledgerCmd(stdout io.Writer) *cobra.Command {
	var (
		q      ledger.Query
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "List recorded signals from the configured store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			primary, err := artifacts.NewStore(cmd.Context(), cfg.Storage)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer closeStore(primary)
			fallback, err := artifacts.NewFallbackStore(cfg.Storage)
			if err != nil {
				return fmt.Errorf("open fallback store: %w", err)
			}
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			page, err := ledger.New(primary, fallback, logger).List(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printPage(stdout, page, asJSON)
		},
	}
	cmd.Flags().IntVar(&q.Limit, "limit", 20, "Maximum signals to list")
	cmd.Flags().IntVar(&q.Offset, "offset", 0, "Signals to skip")
	cmd.Flags().StringVar(&q.Category, "category", "", "Only this classification category")
	cmd.Flags().StringVar(&q.Flag, "flag", "", "Only signals carrying this flag")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func printPage(w io.Writer, page ledger.Page, asJSON bool) error {
	if asJSON {
		for i := range page.Signals {
			page.Signals[i].SecurePassphrase = ""
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tCOMPANY\tLEAD\tCATEGORY\tNOTES")
	for _, s := range page.Signals {
		category := "-"
		if s.Classification != nil {
			category = string(s.Classification.Category)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			s.ID, s.Timestamp.Format(time.RFC3339), s.CompanyName, s.LeadType, category, len(s.Notes))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d of %d\n", len(page.Signals), page.Total)
	return nil
}

func closeStore(s artifacts.Store) {
	if c, ok := s.(io.Closer); ok {
		_ = c.Close()
	}
}
