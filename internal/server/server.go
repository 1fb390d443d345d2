// Package server serves compiled grammar templates over HTTP. Templates are
// built at startup and, with watching enabled, rebuilt whenever a template
// or action file changes.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/leapstack-labs/pegtmpl/internal/engine"
	"github.com/leapstack-labs/pegtmpl/internal/metrics"
	"github.com/leapstack-labs/pegtmpl/internal/server/notifier"
	"golang.org/x/sync/errgroup"
)

// Config holds configuration for the server.
type Config struct {
	Engine  *engine.Engine
	Metrics *metrics.Collector
	// Paths are template files or directories searched for templates.
	Paths []string
	// ActionsDir is watched alongside Paths when set.
	ActionsDir string
	Addr       string
	Watch      bool
	// Debounce delays rebuilds after a file change.
	Debounce time.Duration
	Logger   *slog.Logger
}

// Server serves parsers built from templates.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	notifier *notifier.Notifier

	mu       sync.RWMutex
	grammars map[string]*engine.Result
	failures map[string]error
}

// New creates a server. Call Load before serving requests.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = 100 * time.Millisecond
	}
	return &Server{
		cfg:      cfg,
		logger:   cfg.Logger,
		notifier: notifier.New(),
		grammars: make(map[string]*engine.Result),
		failures: make(map[string]error),
	}
}

// Notifier returns the reload notifier.
func (s *Server) Notifier() *notifier.Notifier { return s.notifier }

// Load reloads the shared action libraries, then discovers and builds every
// template, replacing the served set. Templates that fail to build are
// reported by the API. Load fails when discovery does; a library that no
// longer loads is logged and the previous version kept.
func (s *Server) Load(ctx context.Context, trigger string) error {
	if err := s.cfg.Engine.ReloadLibraries(); err != nil {
		s.logger.Warn("action libraries failed to reload", "error", err)
	}

	paths, err := engine.Discover(s.cfg.Paths...)
	if err != nil {
		return err
	}

	grammars := make(map[string]*engine.Result, len(paths))
	failures := make(map[string]error)
	for _, path := range paths {
		res, err := s.cfg.Engine.Build(ctx, path)
		if err != nil {
			failures[path] = err
			s.logger.Warn("template failed to build", "template", path, "error", err)
			continue
		}
		if prev, ok := grammars[res.Name]; ok {
			failures[path] = fmt.Errorf("grammar name %q already used by %s", res.Name, prev.Path)
			continue
		}
		grammars[res.Name] = res
	}

	s.mu.Lock()
	s.grammars, s.failures = grammars, failures
	s.mu.Unlock()

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SetParsers(len(grammars))
	}
	s.logger.Info("loaded grammars", "grammars", len(grammars), "failed", len(failures), "trigger", trigger)
	s.notifier.Broadcast(notifier.Event{
		Grammars: len(grammars),
		Failed:   len(failures),
		Trigger:  trigger,
		At:       time.Now().UTC(),
	})
	return nil
}

// Grammar returns the served grammar called name.
func (s *Server) Grammar(name string) (*engine.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.grammars[name]
	return res, ok
}

// Names returns the served grammar names, sorted.
func (s *Server) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.grammars))
	for name := range s.grammars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Compress(5),
	)
	s.routes(r)
	return r
}

// Serve starts the server and blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.cfg.Watch {
		eg.Go(func() error {
			return s.watchFiles(egctx)
		})
	}

	eg.Go(func() error {
		s.logger.Info("serving grammars", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// watchFiles rebuilds all templates when a template or action file
// changes.
func (s *Server) watchFiles(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	for _, dir := range s.watchDirs() {
		if err := watchDirRecursive(watcher, dir); err != nil {
			s.logger.Error("failed to watch directory", "dir", dir, "error", err)
		}
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			name := event.Name
			debounce = time.AfterFunc(s.cfg.Debounce, func() {
				s.logger.Debug("file changed, rebuilding", "file", name)
				if err := s.Load(ctx, name); err != nil {
					s.logger.Error("reload failed", "error", err)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", "error", err)
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	switch filepath.Ext(event.Name) {
	case engine.TemplateExt, ".star":
		return true
	}
	return false
}

// watchDirs returns the directories holding watched files.
func (s *Server) watchDirs() []string {
	seen := make(map[string]bool)
	var dirs []string
	add := func(dir string) {
		if dir != "" && !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	for _, p := range s.cfg.Paths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			add(filepath.Dir(p))
			continue
		}
		add(p)
	}
	add(s.cfg.ActionsDir)
	return dirs
}

// watchDirRecursive adds a directory and all subdirectories to the watcher.
func watchDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
