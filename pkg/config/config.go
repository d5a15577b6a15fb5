// Package config defines the on-disk JSON configuration for a sync root: it
// starts from hardcoded defaults, then lets a JSON file on disk override
// them field by field.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"pixelgardenlabs.io/localsync/pkg/buildinfo"
	"pixelgardenlabs.io/localsync/pkg/lockfile"
	"pixelgardenlabs.io/localsync/pkg/metafile"
	"pixelgardenlabs.io/localsync/pkg/plog"
	"pixelgardenlabs.io/localsync/pkg/util"
)

// ConfigFileName is the name of the per-root configuration file.
const ConfigFileName = "localsync.config.json"

// systemExcludeFilePatterns are always excluded so the engine never tries to
// sync its own bookkeeping files into the shadow tree.
var systemExcludeFilePatterns = []string{metafile.MetaFileName, lockfile.LockFileName, ConfigFileName}

// systemExcludeDirPatterns are directories the engine always ignores.
var systemExcludeDirPatterns = []string{}

// ExclusionsConfig groups the file/directory exclusion patterns applied by
// syncengine.Engine.isSyncable, matching the tiered literal/prefix/suffix/glob
// matching syncengine.exclusionSet supports.
type ExclusionsConfig struct {
	// Note: omitempty is intentionally not used so the fields appear in a
	// generated config file for discoverability.
	UserExcludeFiles    []string `json:"userExcludeFiles"`
	UserExcludeDirs     []string `json:"userExcludeDirs"`
	DefaultExcludeFiles []string `json:"defaultExcludeFiles,omitempty"`
	DefaultExcludeDirs  []string `json:"defaultExcludeDirs,omitempty"`
}

// ExcludeFiles returns the full, deduplicated set of file exclusion patterns.
func (e ExclusionsConfig) ExcludeFiles() []string {
	return util.MergeAndDeduplicate(e.DefaultExcludeFiles, e.UserExcludeFiles, systemExcludeFilePatterns)
}

// ExcludeDirs returns the full, deduplicated set of directory exclusion patterns.
func (e ExclusionsConfig) ExcludeDirs() []string {
	return util.MergeAndDeduplicate(e.DefaultExcludeDirs, e.UserExcludeDirs, systemExcludeDirPatterns)
}

// DebrisConfig configures the DebrisVault's quarantine directory.
type DebrisConfig struct {
	// FolderName is the debris directory name, relative to the sync root
	// (e.g. ".debris"). Ignored if ExplicitPath is set.
	FolderName string `json:"folderName"`
	// ExplicitPath overrides FolderName with an absolute path outside the
	// sync root, so quarantined files are never themselves rescanned.
	ExplicitPath string `json:"explicitPath,omitempty"`
}

// NotifyConfig tunes the two-queue notify/retry pipeline.
type NotifyConfig struct {
	DebounceDeciseconds int `json:"debounceDeciseconds" comment:"Copied into syncengine.Options.NotifyDebounce. The engine's debounce window is fixed at three tenths of a second and does not read this value."`
	MaxQueuedBytes      int `json:"maxQueuedBytes" comment:"Ceiling on the total byte length of buffered, undrained queue paths, enforced via pkg/limiter."`
}

// StateCacheConfig points at the durable shadow-tree cache for a root.
type StateCacheConfig struct {
	// Dir holds the SQLite database and its metafile sidecar. Defaults to a
	// subdirectory of the sync root's debris-adjacent bookkeeping area.
	Dir string `json:"dir"`
}

// HooksConfig lists shell commands run before and after the initial scan.
type HooksConfig struct {
	PreScan  []string `json:"preScan"`
	PostScan []string `json:"postScan"`
}

// Config is the full per-root configuration, persisted as JSON next to the
// sync root (or wherever the caller points Load/Generate).
type Config struct {
	Version string `json:"version"`

	RootPath   string `json:"-"` // Never serialized; supplied by the caller.
	ConfigBase string `json:"-"` // Directory the config file lives in.

	RemoteRootRef         string `json:"remoteRootRef" comment:"Opaque identifier for the paired remote tree, used only to name the state cache table."`
	UserIdentity          string `json:"userIdentity" comment:"Opaque identifier for the account owning the remote tree, used only to name the state cache table."`
	InShare               bool   `json:"inShare"`
	FollowSymlinks        bool   `json:"followSymlinks"`
	Tag                   int    `json:"tag"`
	FsFingerprintOverride uint64 `json:"fsFingerprintOverride,omitempty" comment:"Set to pin the expected filesystem fingerprint; leave zero to accept whatever the root reports on first scan."`

	LogLevel string `json:"logLevel"`

	Exclusions ExclusionsConfig `json:"exclusions"`
	Debris     DebrisConfig     `json:"debris"`
	Notify     NotifyConfig     `json:"notify"`
	StateCache StateCacheConfig `json:"stateCache"`
	Hooks      HooksConfig      `json:"hooks"`
}

// NewDefault returns a Config with sensible defaults. rootPath is not
// persisted but is required immediately so RootPath-derived defaults (like
// StateCache.Dir) can be filled in.
func NewDefault(rootPath string) Config {
	return Config{
		Version:  buildinfo.Version,
		RootPath: rootPath,
		LogLevel: "info",
		Exclusions: ExclusionsConfig{
			UserExcludeFiles: []string{},
			UserExcludeDirs:  []string{},
			DefaultExcludeFiles: []string{
				"*.tmp",
				"*.temp",
				"*.swp",
				"*.lnk",
				"~*",
				"desktop.ini",
				".DS_Store",
				"Thumbs.db",
				"Icon\r",
			},
			DefaultExcludeDirs: []string{
				"@tmp",
				"@eadir",
				".SynologyWorkingDirectory",
				"#recycle",
				"$Recycle.Bin",
			},
		},
		Debris: DebrisConfig{
			FolderName: ".debris",
		},
		Notify: NotifyConfig{
			DebounceDeciseconds: 8, // matches the reference client's DIRNOTIFY period
			MaxQueuedBytes:      64 * 1024 * 1024,
		},
		StateCache: StateCacheConfig{
			Dir: filepath.Join(rootPath, ".localsync-cache"),
		},
		Hooks: HooksConfig{
			PreScan:  []string{},
			PostScan: []string{},
		},
	}
}

// Load attempts to load a configuration from ConfigFileName inside
// configBase. If the file doesn't exist, it returns defaults for rootPath
// without an error.
func Load(rootPath, configBase string) (Config, error) {
	absConfigBase, err := filepath.Abs(configBase)
	if err != nil {
		return Config{}, fmt.Errorf("could not determine absolute path for config directory %s: %w", configBase, err)
	}

	configPath := filepath.Join(absConfigBase, ConfigFileName)

	file, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := NewDefault(rootPath)
			cfg.ConfigBase = absConfigBase
			return cfg, nil
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", configPath, err)
	}
	defer file.Close()

	plog.Info("Loading configuration", "path", configPath)
	cfg := NewDefault(rootPath)
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}

	cfg.RootPath = rootPath
	cfg.ConfigBase = absConfigBase
	if cfg.Version != buildinfo.Version {
		cfg.Version = buildinfo.Version
	}
	return cfg, nil
}

// Generate creates or overwrites a default config file in configToGenerate.ConfigBase.
func Generate(configToGenerate Config) error {
	configPath := filepath.Join(configToGenerate.ConfigBase, ConfigFileName)
	jsonData, err := json.MarshalIndent(configToGenerate, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal default config to JSON: %w", err)
	}

	if err := os.WriteFile(configPath, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
