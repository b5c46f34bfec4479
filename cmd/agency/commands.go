package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/nstogner/agency/pkg/config"
	"github.com/nstogner/agency/pkg/domain"
	"github.com/nstogner/agency/pkg/server"
	"github.com/nstogner/agency/pkg/session"
	"github.com/nstogner/agency/pkg/store"
	"github.com/spf13/cobra"
)

func serveCmd(settings **config.Settings) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve research sessions over a websocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := *settings
			if addr != "" {
				s.Addr = addr
			}
			a, err := newApp(cmd.Context(), s)
			if err != nil {
				return reportStartup(err)
			}
			defer a.Close()

			srv := server.New(a.store, a.store, a.store, a.provider, server.Options{
				Roles:                  a.def.Roles,
				MinReportChars:         s.MinReportChars,
				MaxClarificationRounds: s.ClarificationRounds,
				NewStreamer: func(sessionID string) (session.Streamer, error) {
					return a.newAgency(sessionID)
				},
				NewPersister: func(sessionID string) session.Persister {
					return a.reports.ForSession(sessionID)
				},
			})

			errc := make(chan error, 1)
			go func() { errc <- srv.Start(s.Addr) }()

			select {
			case err := <-errc:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return reportStartup(err)
			case <-cmd.Context().Done():
				slog.Info("Shutting down web server")
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(ctx)
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8080)")
	return cmd
}

// ingestExtensions are the file types loaded for file_search.
var ingestExtensions = map[string]bool{".md": true, ".txt": true, ".markdown": true}

func ingestCmd(settings **config.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [dir]",
		Short: "Load local .md and .txt files so agents can search them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := *settings
			dir := s.FilesDir
			if len(args) == 1 {
				dir = args[0]
			}
			st, err := openStore(s)
			if err != nil {
				return reportStartup(err)
			}
			defer st.Close()

			n, err := ingest(cmd.Context(), st, dir)
			if err != nil {
				return reportStartup(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d documents from %s\n", n, dir)
			return nil
		},
	}
}

// ingest adds every supported file under dir to docs. Files already ingested
// from the same path are replaced.
func ingest(ctx context.Context, docs store.DocumentStore, dir string) (int, error) {
	existing, err := docs.ListDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing documents: %w", err)
	}
	bySource := map[string]string{}
	for _, d := range existing {
		if d.Source != "" {
			bySource[d.Source] = d.ID
		}
	}

	count := 0
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !ingestExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			return nil
		}
		source, _ := filepath.Abs(path)
		if id, ok := bySource[source]; ok {
			if err := docs.DeleteDocument(ctx, id); err != nil {
				return fmt.Errorf("replacing %s: %w", path, err)
			}
		}
		doc := &domain.Document{
			ID:      uuid.New().String(),
			Title:   filepath.Base(path),
			Source:  source,
			Content: string(content),
		}
		if err := docs.CreateDocument(ctx, doc); err != nil {
			return fmt.Errorf("storing %s: %w", path, err)
		}
		slog.Debug("Ingested document", "path", path, "bytes", len(content))
		count++
		return nil
	})
	return count, err
}

func reportsCmd(settings **config.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "reports",
		Short: "List saved research reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(*settings)
			if err != nil {
				return reportStartup(err)
			}
			defer st.Close()

			reports, err := st.ListReports(cmd.Context())
			if err != nil {
				return reportStartup(err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tCHARS\tTITLE\tPATH")
			for _, r := range reports {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Chars, r.Title, r.Path)
			}
			return tw.Flush()
		},
	}
}
