// Command localsyncd runs the local half of a bidirectional file-sync
// client: it watches a root directory, keeps a durable shadow tree of what
// it has seen, and emits addition/change/move events for whatever process
// is coordinating with the remote side.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pixelgardenlabs.io/localsync/pkg/buildinfo"
	"pixelgardenlabs.io/localsync/pkg/plog"
)

var rootFlags struct {
	rootPath   string
	configDir  string
	logLevel   string
	debug      bool
	inShare    bool
	tag        int
	userID     string
	remoteRoot string
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     buildinfo.Name,
		Short:   "Local reconciliation daemon for a bidirectional sync client",
		Version: buildinfo.Version,
	}

	cmd.PersistentFlags().StringVar(&rootFlags.rootPath, "root", "", "Directory to sync (required)")
	cmd.PersistentFlags().StringVar(&rootFlags.configDir, "config-dir", "", "Directory holding localsync.config.json (defaults to --root)")
	cmd.PersistentFlags().StringVar(&rootFlags.logLevel, "log-level", "info", "debug, info, or warn")
	cmd.PersistentFlags().BoolVar(&rootFlags.debug, "debug", false, "Emit debug-level reconciliation traces")
	cmd.PersistentFlags().BoolVar(&rootFlags.inShare, "in-share", false, "Mark the root as living inside a shared folder")
	cmd.PersistentFlags().IntVar(&rootFlags.tag, "tag", 0, "Opaque numeric tag stored alongside this sync relationship")
	cmd.PersistentFlags().StringVar(&rootFlags.userID, "user-id", "", "Opaque identity string for the account owning the remote tree")
	cmd.PersistentFlags().StringVar(&rootFlags.remoteRoot, "remote-root", "", "Opaque identifier for the paired remote tree")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newInitConfigCmd())

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		plog.Error(buildinfo.Name+" exited with error", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
