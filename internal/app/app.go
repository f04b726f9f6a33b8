// Package app is the composition root: it opens the cache, builds the
// account pool, the assistant, the renderer, and the input reader, and
// hands them to the coordinator.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/quillmail/quill/internal/agent"
	"github.com/quillmail/quill/internal/ai"
	"github.com/quillmail/quill/internal/cache"
	"github.com/quillmail/quill/internal/coordinator"
	"github.com/quillmail/quill/internal/credential"
	"github.com/quillmail/quill/internal/input"
	"github.com/quillmail/quill/internal/model"
	"github.com/quillmail/quill/internal/render"
	"github.com/quillmail/quill/internal/retry"
)

// App owns every long-lived resource of one run.
type App struct {
	cfg       *model.AppConfig
	cache     *cache.Cache
	pool      *agent.Pool
	assistant *ai.Actor
	renderer  *render.Renderer
	reader    *input.Reader
	logFile   *os.File
}

// New builds the application. The data directory receives the cache
// database, downloaded attachments, and the log file; stdout belongs to
// the renderer, so logs go to a file.
func New(cfg *model.AppConfig, dataDir string) (*App, error) {
	attachDir := filepath.Join(dataDir, "attachments")
	if err := os.MkdirAll(attachDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	logFile, err := os.OpenFile(filepath.Join(dataDir, "quill.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	log.SetOutput(logFile)

	c, err := cache.New(filepath.Join(dataDir, "cache.db"))
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	factory := func(acct model.Account) agent.Session {
		password, err := credential.IMAPPassword(acct.ID)
		if err != nil {
			log.Printf("app: no keyring password for %s: %v", acct.ID, err)
		}
		return agent.NewIMAPSession(acct, password)
	}
	syncInterval := time.Duration(cfg.UI.SyncIntervalSec) * time.Second
	pool := agent.NewPool(cfg.Accounts, factory, c, attachDir, syncInterval)

	var assistant *ai.Actor
	if key := credential.APIKey(); key != "" {
		assistant = ai.NewActor(ai.NewClient(key, cfg.AI), retry.DefaultConfig())
	}

	return &App{
		cfg:       cfg,
		cache:     c,
		pool:      pool,
		assistant: assistant,
		renderer:  render.New(os.Stdout),
		reader:    input.NewReader(os.Stdin),
		logFile:   logFile,
	}, nil
}

// Run starts every goroutine and blocks in the coordinator loop until
// the user quits or the context is cancelled. The coordinator drives the
// shutdown of the renderer and the pool itself.
func (a *App) Run(ctx context.Context) error {
	if err := a.renderer.Start(); err != nil {
		return fmt.Errorf("starting renderer: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.pool.Start(ctx)
	if a.assistant != nil {
		go a.assistant.Run(ctx)
	}
	a.reader.Start()

	coord := coordinator.New(coordinator.Config{
		Cache:    a.cache,
		Pool:     a.pool,
		AI:       a.assistant,
		Renderer: a.renderer,
		Keys:     a.reader.Keys(),
		Bindings: input.DefaultBindings(),
		UI:       a.cfg.UI,
	})
	coord.Run(ctx)
	return nil
}

// Close releases the cache and the log file.
func (a *App) Close() {
	if err := a.cache.Close(); err != nil {
		log.Printf("app: closing cache: %v", err)
	}
	a.logFile.Close()
}
