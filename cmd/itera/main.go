package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"itera/internal/apiclient"
	"itera/internal/domain"
	"itera/internal/infra"
	"itera/internal/modelcache"
	"itera/internal/pipeline"
	"itera/internal/project"
	"itera/internal/storage"
)

var version = "dev"

var (
	flagAPIURL       string
	flagStateDir     string
	flagLocale       string
	flagVerbose      bool
	flagPollInterval time.Duration
	flagPollTimeout  time.Duration

	flagImage  string
	flagPrompt string
	flagFormat string
	flagOut    string
	flagZip    bool
)

// Backend is the API surface the CLI needs on top of the orchestrator's.
type Backend interface {
	pipeline.Backend
	Export(ctx context.Context, modelURL string, format domain.MeshFormat) (apiclient.ExportResult, error)
	Download(ctx context.Context, ref string) ([]byte, error)
	ResolveURL(ref string) string
	ProxyPath() string
}

type App struct {
	Out        io.Writer
	Err        io.Writer
	GetEnv     func(string) string
	NewBackend func(apiURL, locale string) (Backend, error)
}

func DefaultApp() *App {
	return &App{
		Out:    os.Stdout,
		Err:    os.Stderr,
		GetEnv: os.Getenv,
		NewBackend: func(apiURL, locale string) (Backend, error) {
			return apiclient.New(apiURL, apiclient.Options{Locale: locale})
		},
	}
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd(DefaultApp()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "itera",
		Short: "Turn a product photo or description into an editable 3D model",
		Long: `itera drives the Itera API from the terminal.

Examples:
  itera generate --prompt "a red ceramic mug"
  itera generate --image mug.jpg
  itera edit "make it blue"
  itera export --out ./model --zip`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flagAPIURL, "api", "", "API base URL (defaults to ITERA_API_URL or http://localhost:8080)")
	cmd.PersistentFlags().StringVar(&flagStateDir, "state-dir", "", "project state directory (defaults to ITERA_STATE_DIR or ~/.itera)")
	cmd.PersistentFlags().StringVar(&flagLocale, "locale", "", "language for generated briefs, as a BCP 47 tag")
	cmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "debug logging on stderr")
	cmd.PersistentFlags().DurationVar(&flagPollInterval, "poll-interval", pipeline.DefaultPollInterval, "delay between job status checks")
	cmd.PersistentFlags().DurationVar(&flagPollTimeout, "poll-timeout", 10*time.Minute, "give up waiting for a mesh after this long (0 waits forever)")

	cmd.AddCommand(
		newGenerateCmd(app),
		newEditCmd(app),
		newShowCmd(app),
		newExportCmd(app),
		newResetCmd(app),
	)
	return cmd
}

// session bundles what every command needs.
type session struct {
	dir     string
	backend Backend
	store   *project.Store
	cache   *modelcache.Cache
	logger  zerolog.Logger
}

func (app *App) openSession(ctx context.Context) (*session, error) {
	apiURL := firstNonEmpty(flagAPIURL, app.GetEnv("ITERA_API_URL"), "http://localhost:8080")
	stateDir := flagStateDir
	if stateDir == "" {
		stateDir = app.GetEnv("ITERA_STATE_DIR")
	}
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve state dir: %w", err)
		}
		stateDir = filepath.Join(home, ".itera")
	}

	logger := infra.NewCLILogger(app.Err, flagVerbose)
	blobs, err := storage.NewFileStore(stateDir)
	if err != nil {
		return nil, err
	}
	backend, err := app.NewBackend(apiURL, flagLocale)
	if err != nil {
		return nil, err
	}
	return &session{
		dir:     stateDir,
		backend: backend,
		store:   project.Open(ctx, project.Options{Persister: project.NewBlobPersister(blobs), Logger: logger}),
		cache:   modelcache.New(blobs, modelcache.Options{Logger: logger}),
		logger:  logger,
	}, nil
}

func (s *session) orchestrator(out io.Writer) *pipeline.Orchestrator {
	return pipeline.New(pipeline.Options{
		Backend:      s.backend,
		Store:        s.store,
		PollInterval: flagPollInterval,
		PollTimeout:  flagPollTimeout,
		ProxyPath:    s.backend.ProxyPath(),
		Logger:       s.logger,
		Observer:     progressObserver(out),
	})
}

// cacheModel keeps a local copy of the committed model. Failures only warn:
// the model URL in the project state stays authoritative.
func (s *session) cacheModel(ctx context.Context, out io.Writer, modelURL string) {
	path, err := s.cache.FetchAndCache(ctx, s.backend.ResolveURL(modelURL), modelcache.DefaultKey)
	if err != nil {
		s.logger.Warn().Err(err).Msg("model not cached")
		return
	}
	fmt.Fprintf(out, "Cached: %s\n", path)
}

const lockFile = "itera.lock"

// lock claims the state dir for one flow. Store.BeginProcessing only guards
// a single process; the lock file covers concurrent invocations.
func (s *session) lock() (func(), error) {
	path := filepath.Join(s.dir, lockFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("a generation is already in progress (run `itera reset` if %s is stale)", path)
		}
		return nil, fmt.Errorf("lock state dir: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Close()
	return func() { _ = os.Remove(path) }, nil
}

func (s *session) unlock() error {
	if err := os.Remove(filepath.Join(s.dir, lockFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
