package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"pixelgardenlabs.io/localsync/pkg/buildinfo"
	"pixelgardenlabs.io/localsync/pkg/config"
	"pixelgardenlabs.io/localsync/pkg/debris"
	"pixelgardenlabs.io/localsync/pkg/fsadapter"
	"pixelgardenlabs.io/localsync/pkg/hook"
	"pixelgardenlabs.io/localsync/pkg/lockfile"
	"pixelgardenlabs.io/localsync/pkg/metafile"
	"pixelgardenlabs.io/localsync/pkg/notify"
	"pixelgardenlabs.io/localsync/pkg/plog"
	"pixelgardenlabs.io/localsync/pkg/preflight"
	"pixelgardenlabs.io/localsync/pkg/seal"
	"pixelgardenlabs.io/localsync/pkg/shadowtree"
	"pixelgardenlabs.io/localsync/pkg/statecache"
	"pixelgardenlabs.io/localsync/pkg/syncengine"
)

// pollInterval bounds how long Drain waits between notifier checks when the
// OS watcher stays quiet, so a debounced event that never gets a follow-up
// fsnotify wakeup still gets processed.
const pollInterval = 500 * time.Millisecond

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the local sync engine against --root until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}
}

func runDaemon(parentCtx context.Context) error {
	if rootFlags.rootPath == "" {
		return fmt.Errorf("--root is required")
	}

	plog.SetDebug(rootFlags.debug || rootFlags.logLevel == "debug")
	plog.SetQuiet(rootFlags.logLevel == "warn")

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		plog.Info("received interrupt, shutting down")
		cancel()
	}()

	cfg, err := loadRunConfig()
	if err != nil {
		return err
	}

	preflightPlan := &preflight.Plan{CheckRootAccessible: true}
	if err := preflightPlan.Run(cfg.RootPath, ""); err != nil {
		return fmt.Errorf("preflight: %w", err)
	}

	lock, err := lockfile.Acquire(ctx, cfg.RootPath, buildinfo.Name)
	if err != nil {
		return fmt.Errorf("acquire root lock: %w", err)
	}
	defer lock.Release()

	fs := fsadapter.NewOSAdapter()

	rootInfo, err := fs.Lstat(cfg.RootPath)
	if err != nil {
		return fmt.Errorf("stat sync root: %w", err)
	}

	vault := &debris.Vault{
		Root:         cfg.RootPath,
		FolderName:   cfg.Debris.FolderName,
		ExplicitPath: cfg.Debris.ExplicitPath,
	}
	preflightPlan.CheckRootAccessible = false
	preflightPlan.CheckDebrisWritable = true
	if err := preflightPlan.Run(cfg.RootPath, vault.Path()); err != nil {
		return fmt.Errorf("preflight: %w", err)
	}

	sealer, err := resolveSealer()
	if err != nil {
		return err
	}

	tree := shadowtree.New(cfg.RootPath)
	tableName := statecache.TableName(uint64(rootInfo.Fsid), cfg.RemoteRootRef, cfg.UserIdentity)
	reconcileCacheMetafile(cfg.StateCache.Dir, uint64(rootInfo.Fsid), cfg.RemoteRootRef)

	cache, err := statecache.Open(ctx, cfg.StateCache.Dir, tableName, sealer, tree)
	if err != nil {
		return fmt.Errorf("open state cache: %w", err)
	}
	defer cache.Close()

	notifier := notify.New(notify.WithMemoryBudget(int64(cfg.Notify.MaxQueuedBytes)))
	defer notifier.Close()

	opts, err := syncengine.ResolveOptions(cfg)
	if err != nil {
		return fmt.Errorf("resolve engine options: %w", err)
	}

	engine := syncengine.New(opts, daemonCallbacks{}, fs, tree, cache, notifier, vault)

	if err := engine.Bootstrap(ctx, resolveRemoteRef); err != nil {
		return fmt.Errorf("bootstrap from cache: %w", err)
	}

	hooks := hook.NewHookExecutor(execCommandContext)
	hookPlan := &hook.Plan{
		Enabled:          len(cfg.Hooks.PreScan) > 0 || len(cfg.Hooks.PostScan) > 0,
		PreHookCommands:  cfg.Hooks.PreScan,
		PostHookCommands: cfg.Hooks.PostScan,
		FailFast:         true,
	}
	runHookIgnoringNoOp(hooks.RunPreHook(ctx, "scan", hookPlan, time.Now().UTC()))

	if err := notifier.Watch(cfg.RootPath); err != nil {
		return fmt.Errorf("watch sync root: %w", err)
	}

	plog.Info("starting initial scan", "root", cfg.RootPath)
	if err := engine.Run(ctx); err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}
	runHookIgnoringNoOp(hooks.RunPostHook(ctx, "scan", hookPlan, time.Now().UTC()))

	plog.Info(buildinfo.Name+" active", "root", cfg.RootPath, "version", buildinfo.Version)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			plog.Info("stopping, flushing state cache")
			return engine.Drain(context.Background())
		case <-ticker.C:
			if err := engine.Drain(ctx); err != nil {
				if syncengine.IsFatal(err) {
					return err
				}
				plog.Warn("drain reported a non-fatal error", "error", err)
			}
		}
	}
}

// loadRunConfig loads the persisted config for --root and applies any
// relationship-identity flags the caller supplied, the same way flags
// override a loaded config in the reference client.
func loadRunConfig() (config.Config, error) {
	configBase := rootFlags.configDir
	if configBase == "" {
		configBase = rootFlags.rootPath
	}

	cfg, err := config.Load(rootFlags.rootPath, configBase)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}

	if rootFlags.remoteRoot != "" {
		cfg.RemoteRootRef = rootFlags.remoteRoot
	}
	if rootFlags.userID != "" {
		cfg.UserIdentity = rootFlags.userID
	}
	if rootFlags.inShare {
		cfg.InShare = true
	}
	if rootFlags.tag != 0 {
		cfg.Tag = rootFlags.tag
	}
	return cfg, nil
}

// resolveSealer builds an AES-GCM sealer from a base64-encoded key in
// LOCALSYNC_SEAL_KEY, or falls back to no sealing with a loud warning --
// the key itself is an external secret this daemon never generates.
func resolveSealer() (seal.Sealer, error) {
	encoded := os.Getenv("LOCALSYNC_SEAL_KEY")
	if encoded == "" {
		plog.Warn("LOCALSYNC_SEAL_KEY not set, state cache records will be stored unsealed")
		return seal.NopSealer{}, nil
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode LOCALSYNC_SEAL_KEY: %w", err)
	}
	sealer, err := seal.NewAESGCMSealer(key)
	if err != nil {
		return nil, fmt.Errorf("build sealer: %w", err)
	}
	return sealer, nil
}

// reconcileCacheMetafile checks the sidecar next to the state cache
// against the root's current identity, warning (but not refusing to start)
// if the cache directory appears to have been reused for a different sync
// relationship, then writes an up-to-date sidecar.
func reconcileCacheMetafile(cacheDir string, rootFsid uint64, remoteRootRef string) {
	if existing, err := metafile.Read(cacheDir); err == nil {
		if existing.RootFsid != 0 && existing.RootFsid != rootFsid {
			plog.Warn("state cache directory's sidecar reports a different root fsid than the current sync root",
				"cacheDir", cacheDir, "recordedFsid", existing.RootFsid, "currentFsid", rootFsid)
		}
	}

	content := &metafile.MetafileContent{
		SchemaVersion:  1,
		RootFsid:       rootFsid,
		RemoteRootSalt: remoteRootRef,
		CreatedAtUTC:   time.Now().UTC(),
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		plog.Warn("could not create state cache directory for sidecar", "dir", cacheDir, "error", err)
		return
	}
	if err := metafile.Write(cacheDir, content); err != nil {
		plog.Warn("could not write state cache sidecar", "dir", cacheDir, "error", err)
	}
}

// execCommandContext is the real os/exec-backed command factory hook.Plan
// commands run through; hook's tests substitute their own for mocking.
func execCommandContext(ctx context.Context, name string, arg ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, arg...)
}

// runHookIgnoringNoOp logs a hook-execution failure but treats "hooks are
// disabled" or "no commands configured" as expected, quiet outcomes.
func runHookIgnoringNoOp(err error) {
	if err == nil || err == hook.ErrDisabled || err == hook.ErrNothingToExecute {
		return
	}
	plog.Warn("hook execution failed", "error", err)
}
