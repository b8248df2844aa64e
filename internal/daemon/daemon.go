// internal/daemon/daemon.go
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/colebrumley/cortex/internal/action"
	"github.com/colebrumley/cortex/internal/api"
	"github.com/colebrumley/cortex/internal/classify"
	"github.com/colebrumley/cortex/internal/compiler"
	"github.com/colebrumley/cortex/internal/config"
	"github.com/colebrumley/cortex/internal/detect"
	"github.com/colebrumley/cortex/internal/executor"
	"github.com/colebrumley/cortex/internal/llm"
	"github.com/colebrumley/cortex/internal/logging"
	"github.com/colebrumley/cortex/internal/mcp"
	"github.com/colebrumley/cortex/internal/metrics"
	"github.com/colebrumley/cortex/internal/orchestrator"
	"github.com/colebrumley/cortex/internal/perception"
	"github.com/colebrumley/cortex/internal/rules"
	"github.com/colebrumley/cortex/internal/scheduler"
	"github.com/colebrumley/cortex/internal/security"
	"github.com/colebrumley/cortex/internal/state"
)

// reloadDebounce is how long the rules directory must be quiet before a reload.
const reloadDebounce = time.Second

// Daemon owns every long-lived component and the wiring between them.
type Daemon struct {
	configPath string
	rulesDir   string
	config     *config.Global
	logger     *slog.Logger

	db      *state.DB
	store   *rules.Store
	metrics *metrics.Metrics
	bridge  *perception.Bridge
	blocks  *action.BlockController
	orch    *orchestrator.Orchestrator
	sched   *scheduler.Scheduler
	api     *api.Server
	mcp     *mcp.Server
	closers []io.Closer

	reloadMu sync.Mutex // serializes rule file syncs
}

// New creates a daemon. An empty rulesDir falls back to the configured one.
func New(configPath, rulesDir string) *Daemon {
	return &Daemon{
		configPath: configPath,
		rulesDir:   rulesDir,
	}
}

// Run starts the daemon and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Setup(); err != nil {
		d.shutdown()
		return err
	}
	defer d.shutdown()

	addr := net.JoinHostPort(d.config.Daemon.ListenAddress, strconv.Itoa(d.config.Daemon.ListenPort))
	go func() {
		if err := d.api.ListenAndServe(ctx, addr); err != nil {
			d.logger.Error("http server stopped", "error", err)
		}
	}()

	go d.startHotReload(ctx)

	// Startup purge, like the nightly one.
	go d.sched.Purge(ctx, d.retentionPolicy(), d.db)

	d.logger.Info("daemon started",
		"rules_loaded", d.store.Len(),
		"interval", d.config.Monitor.Interval(),
		"address", addr,
	)

	err := d.sched.Start(ctx)
	d.logger.Info("daemon stopping")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Setup loads config, storage and rules and builds the cycle pipeline
// without starting anything.
func (d *Daemon) Setup() error {
	if err := d.loadConfig(); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if d.rulesDir == "" {
		d.rulesDir = d.config.Daemon.RulesDir
	}
	d.rulesDir = expandHome(d.rulesDir)

	if d.logger == nil {
		logWriter, err := d.initLogWriter()
		if err != nil {
			d.logger = logging.NewLogger(d.config.Logging.Format, d.logLevel(), os.Stdout)
			d.logger.Warn("failed to initialize rotating log writer, using stdout", "error", err)
		} else {
			d.closers = append(d.closers, logWriter)
			d.logger = logging.NewLogger(d.config.Logging.Format, d.logLevel(), logWriter)
		}
	}

	d.logger.Info("starting daemon", "config", d.configPath, "rules_dir", d.rulesDir)

	if err := security.ValidateFilePermissions(d.configPath); err != nil {
		d.logger.Error("CRITICAL: config file has unsafe permissions", "error", err, "path", d.configPath)
	} else if err := security.ValidateSecretFilePermissions(d.configPath); err != nil {
		// webhook headers in config can carry tokens
		d.logger.Warn("config file is readable by other users", "error", err)
	}

	if err := d.initStateDB(); err != nil {
		return err
	}

	if err := os.MkdirAll(d.rulesDir, 0700); err != nil {
		return fmt.Errorf("creating rules directory: %w", err)
	}
	if err := security.ValidateDirectoryPermissions(d.rulesDir); err != nil {
		// the operator should fix permissions; keep running
		d.logger.Error("CRITICAL: rules directory has unsafe permissions", "error", err, "path", d.rulesDir)
	}

	d.metrics = metrics.New()
	if err := d.loadRules(); err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	return d.build()
}

func (d *Daemon) logLevel() string {
	if d.config.Logging.Debug {
		return "debug"
	}
	return d.config.Daemon.LogLevel
}

// initLogWriter opens the rotating daemon log.
func (d *Daemon) initLogWriter() (*logging.RotatingWriter, error) {
	logPath := expandHome(d.config.Logging.Path)
	if logPath == "" {
		logPath = filepath.Join(config.SupportDir(), "logs", "cortexd.log")
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	return logging.NewRotatingWriter(logPath, int64(d.config.Logging.MaxSizeMB)*1024*1024)
}

// initStateDB opens the event, rule and history database.
func (d *Daemon) initStateDB() error {
	db, err := state.Open(expandHome(d.config.Storage.Path))
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	d.db = db
	return nil
}

func (d *Daemon) loadConfig() error {
	cfg, err := config.LoadGlobal(d.configPath)
	if err != nil {
		return err
	}
	d.config = cfg
	return nil
}

// loadRules restores API and compiled rules from the database, then syncs
// the rule files on top of them.
func (d *Daemon) loadRules() error {
	d.store = rules.NewStore(d.db)

	stored, err := d.db.ListRules()
	if err != nil {
		return err
	}
	var restore []rules.Rule
	for _, r := range stored {
		if r.Source == rules.SourceFile {
			continue
		}
		restore = append(restore, r)
	}
	if err := d.store.Restore(restore...); err != nil {
		return err
	}

	res, err := d.syncRuleFiles()
	if err != nil {
		return err
	}
	d.logger.Info("rules loaded", "stored", len(restore), "files", res.Added)
	return nil
}

// syncRuleFiles makes the store's file rules match the rules directory.
// A file rule toggled through the API keeps its toggled state: the stored
// copy's is_active wins over the file. Stored copies of file rules that no
// longer exist are dropped.
func (d *Daemon) syncRuleFiles() (rules.SyncResult, error) {
	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()

	loaded, err := config.LoadRulesDir(d.rulesDir)
	if err != nil {
		return rules.SyncResult{}, err
	}

	stored, err := d.db.ListRules()
	if err != nil {
		return rules.SyncResult{}, err
	}
	overrides := make(map[string]bool)
	for _, r := range stored {
		if r.Source == rules.SourceFile {
			overrides[r.ID] = r.IsActive
		}
	}

	present := make(map[string]bool, len(loaded))
	for i := range loaded {
		present[loaded[i].ID] = true
		if unknown := action.UnknownPlaceholders(loaded[i]); len(unknown) > 0 {
			d.logger.Warn("rule uses unknown placeholders", "rule", loaded[i].ID, "placeholders", unknown)
		}
		if active, ok := overrides[loaded[i].ID]; ok {
			loaded[i].IsActive = active
		}
	}

	res, err := d.store.Sync(rules.SourceFile, loaded)
	if err != nil {
		return rules.SyncResult{}, err
	}

	for id := range overrides {
		if present[id] {
			continue
		}
		if err := d.db.DeleteRule(id); err != nil {
			d.logger.Warn("could not drop stale rule override", "rule", id, "error", err)
		}
	}

	d.metrics.SetActiveRules(len(d.store.Active()))
	return res, nil
}

// build wires perception, classification, detection and dispatch into the
// orchestrator, then the scheduler, MCP server and HTTP API around it.
func (d *Daemon) build() error {
	cfg := d.config

	d.bridge = perception.NewBridge()
	var screens perception.ScreenSource
	if cfg.Monitor.CaptureScreenshot {
		screens = perception.NewScreenshotClient(cfg.Monitor.ScreenshotURL, nil)
	}
	freshness := time.Duration(cfg.Monitor.ExtensionFreshSeconds) * time.Second
	perceiver := perception.New(perception.Options{
		Apps:          perception.NewFrontmost(nil),
		Screens:       screens,
		Browser:       d.bridge,
		MonitoredApps: cfg.Monitor.MonitoredApps,
		Browsers:      cfg.Monitor.BrowserApps,
		Freshness:     freshness,
		Logger:        logging.WithComponent(d.logger, "perception"),
	})

	client := llm.New(llm.Config{
		BaseURL:   cfg.Classifier.BaseURL,
		Model:     cfg.Classifier.Model,
		APIKeyEnv: cfg.Classifier.APIKeyEnv,
	})
	ruleCompiler, err := compiler.New(client, 0)
	if err != nil {
		return fmt.Errorf("building rule compiler: %w", err)
	}

	osa := action.NewOsascript(nil, time.Duration(cfg.Actions.AlertGiveUpSeconds)*time.Second)

	d.blocks = action.NewBlockController(action.ProcessTerminator{}, logging.WithComponent(d.logger, "blocks"))
	d.blocks.OnUnblock(func(b action.BlockStatus) {
		d.logger.Info("app unblocked", "app", b.App, "bundle_id", b.BundleID)
		d.metrics.SetBlockedApps(len(d.blocks.Active()))
	})

	actionLog, err := d.openActionLog()
	if err != nil {
		return err
	}

	dispatcher := action.NewDispatcher(action.Effectors{
		Presenter: osa,
		Notifier:  osa,
		Blocker:   blockCounter{d.blocks, d.metrics},
		Webhook:   action.NewWebhookClient(nil, logging.WithComponent(d.logger, "webhook")),
		Log:       action.NewLogWriter(actionLog, d.logger),
	}, logging.WithComponent(d.logger, "dispatch"))
	dispatcher.Register(executor.ActionType, executor.Handler(cfg.Actions.Scripts))

	d.orch = orchestrator.New(orchestrator.Deps{
		Perceiver:  perceiver,
		Classifier: classify.New(client, cfg.Classifier.MaxTokens),
		Rules:      d.store,
		Events:     d.db,
		Detector:   detect.New(d.db),
		Translator: action.NewTranslator(translateDefaults(cfg.Actions)),
		Dispatcher: dispatcher,
		History:    d.db,
		Enforcer:   d.blocks,
		Metrics:    d.metrics,
		Logger:     logging.WithComponent(d.logger, "orchestrator"),
	}, orchestrator.Options{
		Goal:            cfg.Goal,
		Cooldown:        cfg.Monitor.Cooldown(),
		ClassifyTimeout: cfg.Monitor.ClassifyTimeoutDuration(),
	})
	if strings.TrimSpace(cfg.Goal) == "" {
		d.logger.Warn("no goal configured, cycles will not capture anything")
	}

	d.sched = scheduler.New(logging.WithComponent(d.logger, "scheduler"), d.metrics)
	if err := d.sched.ScheduleCycles(cfg.Monitor.Interval(), d.orch); err != nil {
		return err
	}
	if err := d.sched.ScheduleRetention(d.retentionPolicy(), d.db); err != nil {
		return err
	}

	d.mcp = mcp.NewServer(d.store, d.db, osa, cfg.Actions.AlertTitle)

	d.api = api.New(api.Deps{
		Rules:     d.store,
		Compiler:  ruleCompiler,
		Events:    d.db,
		History:   d.db,
		Blocks:    d.blocks,
		Bridge:    d.bridge,
		Cycles:    d.orch,
		MCP:       d.mcp.Handler(),
		Metrics:   d.metrics,
		Logger:    logging.WithComponent(d.logger, "api"),
		Freshness: freshness,
	}, api.Options{
		RateLimit: cfg.Daemon.RateLimit,
		RateBurst: cfg.Daemon.RateBurst,
	})
	return nil
}

func (d *Daemon) openActionLog() (io.Writer, error) {
	path := expandHome(d.config.Actions.LogPath)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating action log directory: %w", err)
	}
	w, err := logging.NewRotatingWriter(path, int64(d.config.Logging.MaxSizeMB)*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("opening action log: %w", err)
	}
	d.closers = append(d.closers, w)
	return w, nil
}

func (d *Daemon) retentionPolicy() scheduler.RetentionPolicy {
	return scheduler.RetentionPolicy{
		Schedule:  d.config.Storage.RetentionSchedule,
		Days:      d.config.Storage.RetentionDays,
		MaxEvents: d.config.Storage.MaxEvents,
	}
}

func translateDefaults(a config.ActionsConfig) action.Defaults {
	return action.Defaults{
		AlertTitle:        a.AlertTitle,
		BlockDuration:     time.Duration(a.BlockDurationSeconds) * time.Second,
		WebhookTimeout:    time.Duration(a.WebhookTimeoutSeconds) * time.Second,
		WebhookRetryCount: a.WebhookRetryCount,
	}
}

// blockCounter keeps the blocked-apps gauge current.
type blockCounter struct {
	blocks  *action.BlockController
	metrics *metrics.Metrics
}

func (b blockCounter) Block(ctx context.Context, blk action.Block) (time.Time, error) {
	until, err := b.blocks.Block(ctx, blk)
	b.metrics.SetBlockedApps(len(b.blocks.Active()))
	return until, err
}

func (d *Daemon) startHotReload(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.logger.Error("could not create rules watcher", "error", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(d.rulesDir); err != nil {
		d.logger.Error("could not watch rules directory", "error", err, "dir", d.rulesDir)
		return
	}

	d.logger.Info("hot-reload watcher started", "dir", d.rulesDir)

	var debounceTimer *time.Timer
	debounceCh := make(chan struct{}, 1)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !config.IsRuleFile(event.Name) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(reloadDebounce, func() {
				select {
				case debounceCh <- struct{}{}:
				default:
				}
			})

		case <-debounceCh:
			d.logger.Info("reloading rules (hot-reload)")
			d.reloadRules()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.logger.Error("rules watcher error", "error", err)

		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}

// reloadRules re-reads the rules directory. On any error the previous
// rules stay in effect.
func (d *Daemon) reloadRules() {
	if err := security.ValidateDirectoryPermissions(d.rulesDir); err != nil {
		d.logger.Error("CRITICAL: rules directory has unsafe permissions during reload", "error", err)
		return
	}

	res, err := d.syncRuleFiles()
	if err != nil {
		d.logger.Error("failed to reload rules, keeping previous rules", "error", err)
		return
	}
	d.logger.Info("rules reloaded",
		"added", res.Added,
		"updated", res.Updated,
		"removed", res.Removed,
		"total", d.store.Len(),
	)
}

func (d *Daemon) shutdown() {
	if d.sched != nil {
		d.sched.Stop()
	}
	if d.blocks != nil {
		d.blocks.Stop()
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil && d.logger != nil {
			d.logger.Warn("closing state database", "error", err)
		}
	}
	for _, c := range d.closers {
		c.Close()
	}
	d.closers = nil
}

// ServeMCP serves the MCP tools over stdio against the daemon's database
// and rules, without running cycles.
func (d *Daemon) ServeMCP(ctx context.Context) error {
	if err := d.loadConfig(); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if d.rulesDir == "" {
		d.rulesDir = d.config.Daemon.RulesDir
	}
	d.rulesDir = expandHome(d.rulesDir)
	if d.logger == nil {
		// stdout carries the protocol
		d.logger = logging.NewLogger(d.config.Logging.Format, d.logLevel(), os.Stderr)
	}
	if err := d.initStateDB(); err != nil {
		return err
	}
	defer d.shutdown()

	d.metrics = metrics.New()
	if err := d.loadRules(); err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	osa := action.NewOsascript(nil, time.Duration(d.config.Actions.AlertGiveUpSeconds)*time.Second)
	return mcp.NewServer(d.store, d.db, osa, d.config.Actions.AlertTitle).Run(ctx)
}

// Handler exposes the HTTP API after Setup.
func (d *Daemon) Handler() http.Handler {
	return d.api
}

// expandHome replaces a leading ~ with the current user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
