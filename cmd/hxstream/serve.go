package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pthm/hxstream"
	"github.com/pthm/hxstream/lib/patch"
	"github.com/pthm/hxstream/lib/treefile"
)

// runtimePath serves the instruction runtime for --external-runtime.
const runtimePath = "/_hxstream/runtime.js"

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a directory of tree files over HTTP",
		Long: `Serve streams every *.yaml file in --dir as a page: index.yaml at /,
about.yaml at /about. Files are read on every request, so edits show up on
reload and delays start when the request arrives.`,
		Example: `  hxstream serve --dir ./pages --static ./public
  HXSTREAM_ADDR=:9000 hxstream serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(v, cmd)
			if err != nil {
				return err
			}
			h, err := newServer(v, logger)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              v.GetString("addr"),
				Handler:           h,
				ReadHeaderTimeout: 10 * time.Second,
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdown)
			}()

			fmt.Fprintf(cmd.OutOrStdout(), "serving %s on %s\n", v.GetString("dir"), srv.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	addRenderFlags(cmd)
	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().String("dir", ".", "directory of tree files")
	cmd.Flags().String("static", "", "directory served under /static/")
	cmd.Flags().Bool("gzip", true, "compress responses")
	return cmd
}

// newServer registers one page per tree file in the configured directory.
func newServer(v *viper.Viper, logger *slog.Logger) (http.Handler, error) {
	dir := v.GetString("dir")
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no *.yaml tree files in %s", dir)
	}

	reg := hxstream.NewRegistry(renderOptions(v, logger)...)
	reg.Compress = v.GetBool("gzip")
	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".yaml")
		pattern := "GET /" + name
		if name == "index" {
			pattern = "GET /{$}"
		}
		reg.Add(pattern, treePage(file))
		logger.Info("registered page", "pattern", pattern, "file", file)
	}

	mux := http.NewServeMux()
	mux.Handle("/", reg.Handler())
	mux.HandleFunc("GET "+runtimePath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		_, _ = io.WriteString(w, patch.ExternalRuntimeSource())
	})
	if static := v.GetString("static"); static != "" {
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(static))))
	}
	return mux, nil
}

func treePage(file string) hxstream.PageFunc {
	return func(*http.Request) (hxstream.Node, error) {
		tree, err := treefile.Load(file)
		if errors.Is(err, os.ErrNotExist) {
			return nil, hxstream.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return tree.Build(), nil
	}
}
