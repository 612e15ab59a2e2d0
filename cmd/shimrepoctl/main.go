// Command shimrepoctl is a thin administrative CLI over pkg/shimrepo:
// install/list/remove modules, read a datastore by XPath, and serve the
// Prometheus metrics endpoint. It follows a root cobra command with
// persistent --repo-root/--config/--log-level flags and one file per
// subcommand group.
package main

import (
	"fmt"
	"os"

	shimerrors "github.com/sr-shim/shimrepo/pkg/errors"
	"github.com/sr-shim/shimrepo/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	flagRepoRoot   string
	flagConfigFile string
	flagLogLevel   string

	log *zap.SugaredLogger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		printCLIError(err)
		os.Exit(1)
	}
}

// printCLIError reports an error the way an operator driving the CLI needs
// it: the type-specific context shimrepo's error taxonomy carries (which
// module/datastore a lock was contended for, which commit-pipeline state a
// failure happened in, which schema issues a validator rejected, ...) when
// the error is one of shimrepo's own types, falling back to its generic
// error code and detail map otherwise.
func printCLIError(err error) {
	switch {
	case shimerrors.IsLockError(err):
		le, _ := shimerrors.AsLockError(err)
		fmt.Fprintf(os.Stderr, "Error: %v (code=%s module=%s datastore=%s mode=%s retries=%d)\n",
			err, le.Code(), le.Module(), le.Datastore(), le.Mode(), le.Retries())

	case shimerrors.IsCommitError(err):
		ce, _ := shimerrors.AsCommitError(err)
		fmt.Fprintf(os.Stderr, "Error: %v (code=%s state=%s module=%s request=%s)\n",
			err, ce.Code(), ce.State(), ce.Module(), ce.RequestID())

	case shimerrors.IsSchemaValidationError(err):
		ve, _ := shimerrors.AsSchemaValidationError(err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		for _, issue := range ve.Issues() {
			fmt.Fprintf(os.Stderr, "  - %s (xpath=%s)\n", issue.Message, issue.XPath)
		}

	case shimerrors.IsValidationError(err):
		ve, _ := shimerrors.AsValidationError(err)
		fmt.Fprintf(os.Stderr, "Error: %v (code=%s field=%s rule=%s)\n", err, ve.Code(), ve.Field(), ve.Rule())

	case shimerrors.IsIndexError(err):
		ie, _ := shimerrors.AsIndexError(err)
		fmt.Fprintf(os.Stderr, "Error: %v (code=%s module=%s op=%s)\n", err, ie.Code(), ie.Key(), ie.Operation())

	case shimerrors.IsStorageError(err):
		se, _ := shimerrors.AsStorageError(err)
		fmt.Fprintf(os.Stderr, "Error: %v (code=%s path=%s file=%s)\n", err, se.Code(), se.Path(), se.FileName())

	default:
		fmt.Fprintf(os.Stderr, "Error: %v (code=%s)\n", err, shimerrors.GetErrorCode(err))
	}

	if details := shimerrors.GetErrorDetails(err); len(details) > 0 {
		for k, v := range details {
			fmt.Fprintf(os.Stderr, "    %s: %v\n", k, v)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "shimrepoctl",
	Short: "shimrepoctl administers a shimrepo deployment",
	Long: `shimrepoctl is the administrative CLI for a shimrepo deployment:
installing and inspecting schema modules, reading datastore content by
XPath, and serving the engine's Prometheus metrics.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRepoRoot, "repo-root", "/var/lib/shimrepo", "base directory for the shared segment and persisted data")
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "optional YAML tuning file (pkg/config)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")

	cobra.OnInitialize(func() {
		log = logger.NewDevelopment("shimrepoctl")
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(flagLogLevel)); err == nil {
			log = log.Desugar().WithOptions(zap.IncreaseLevel(lvl)).Sugar()
		}
	})

	rootCmd.AddCommand(moduleCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(serveCmd)
}
