// Package cli implements the chunk-uploader command line interface.
package cli

import (
	"context"
	"errors"

	"github.com/bitrise-io/chunk-uploader/chunkuploader"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/spf13/cobra"
)

const appName = "chunk-uploader"

type globalFlags struct {
	configFile string
	envFile    string
	verbose    bool
}

type app struct {
	logger  log.Logger
	envRepo env.Repository
	globals globalFlags
	// invocation is the full command line, used to print the resume command.
	invocation []string
}

// NewRootCommand builds the command tree.
func NewRootCommand(logger log.Logger, envRepo env.Repository, invocation []string) *cobra.Command {
	a := &app{logger: logger, envRepo: envRepo, invocation: invocation}

	root := &cobra.Command{
		Use:   appName,
		Short: "Upload large files in size-capped chunks",
		Long: `Splits a file into fixed-size chunks and submits them to a size-capped remote endpoint
(an Internet Computer canister through dfx, an HTTP endpoint or an S3 bucket), with bounded
concurrency, a throughput ceiling, per-chunk retries and resumable progress.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if a.globals.verbose || envRepo.Get("CHUNK_UPLOADER_VERBOSE") == "true" {
				logger.EnableDebugLog(true)
			}
		},
	}

	root.PersistentFlags().StringVar(&a.globals.configFile, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&a.globals.envFile, "env-file", ".env", "dotenv file loaded into the environment if it exists")
	root.PersistentFlags().BoolVarP(&a.globals.verbose, "verbose", "v", false, "Enable debug logs")

	root.AddCommand(
		a.newUploadCommand(),
		a.newStatusCommand(),
		a.newResetCommand(),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, logger log.Logger, envRepo env.Repository, args []string) int {
	root := NewRootCommand(logger, envRepo, args)
	if len(args) > 0 {
		root.SetArgs(args[1:])
	}

	if err := root.ExecuteContext(ctx); err != nil {
		var configErr *chunkuploader.ConfigurationError
		switch {
		case errors.As(err, &configErr):
			logger.Errorf("%s", configErr)
			return 2
		default:
			logger.Errorf("%s", err)
		}
		return 1
	}
	return 0
}
