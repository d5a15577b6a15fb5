// Package metafile persists a small JSON sidecar next to a StateCache
// database so a reload can confirm the cache on disk actually belongs to
// the sync root that is about to open it.
package metafile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pixelgardenlabs.io/localsync/pkg/util"
)

// MetaFileName is the name of the state-cache sidecar file.
const MetaFileName = ".localsync.meta.json"

// MetafileInfo pairs a sidecar's parsed content with the cache directory it
// was found in.
type MetafileInfo struct {
	CacheDir string // Absolute path of the directory containing the sidecar.
	Metadata MetafileContent
}

// MetafileContent describes the StateCache database sitting next to it.
// RootFsid lets localsyncd's startup check (reconcileCacheMetafile) warn
// about a cache directory reused for a different sync root without trusting
// anything from the database itself, which may be sealed. RemoteRootSalt is
// recorded but not compared.
type MetafileContent struct {
	SchemaVersion  int       `json:"schemaVersion"`
	RootFsid       uint64    `json:"rootFsid"`
	RemoteRootSalt string    `json:"remoteRootSalt"`
	CreatedAtUTC   time.Time `json:"createdAtUTC"`
}

// Write creates and writes the .localsync.meta.json sidecar into dirPath.
func Write(dirPath string, content *MetafileContent) error {
	metaFilePath := filepath.Join(dirPath, MetaFileName)
	jsonData, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal cache metadata: %w", err)
	}

	if err := os.WriteFile(metaFilePath, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("could not write meta file %s: %w", metaFilePath, err)
	}

	return nil
}

// Read opens and parses the .localsync.meta.json sidecar in dirPath.
// It returns the parsed metadata or an error if the file cannot be read or
// parsed; the caller is expected to use os.IsNotExist on the returned error
// to distinguish "no cache here yet" from a real failure.
func Read(dirPath string) (MetafileContent, error) {
	metaFilePath := filepath.Join(dirPath, MetaFileName)
	metaFile, err := os.Open(metaFilePath)
	if err != nil {
		return MetafileContent{}, err
	}
	defer metaFile.Close()

	var content MetafileContent
	decoder := json.NewDecoder(metaFile)
	if err := decoder.Decode(&content); err != nil {
		return MetafileContent{}, fmt.Errorf("could not parse metafile %s: %w. It may be corrupt", metaFilePath, err)
	}

	return content, nil
}
