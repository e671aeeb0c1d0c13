package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/bitrise-io/chunk-uploader/config"
	"github.com/bitrise-io/chunk-uploader/resume"
	"github.com/bitrise-io/chunk-uploader/source"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/spf13/cobra"
)

const targetArgsUsage = "[<canister> <method>] <file>"

// target is a resolved payload together with its resume record.
type target struct {
	opts     config.Options
	src      *source.Source
	stateDir string
	key      string
	store    resume.Store
}

func (t *target) Close() error {
	var errs []error
	if t.store != nil {
		errs = append(errs, t.store.Close())
	}
	if t.src != nil {
		errs = append(errs, t.src.Close())
	}
	return errors.Join(errs...)
}

func (t *target) failedChunksPath() string {
	if t.opts.FailedChunksOut != "" {
		return t.opts.FailedChunksOut
	}
	return filepath.Join(t.stateDir, t.key+".failed")
}

func validateTargetArgs(cmd *cobra.Command, args []string) error {
	if len(args) != 1 && len(args) != 3 {
		return fmt.Errorf("accepts %s, received %d argument(s)", targetArgsUsage, len(args))
	}
	return nil
}

// loadOptions merges all option sources with the positional arguments.
func (a *app) loadOptions(cmd *cobra.Command, args []string) (config.Options, error) {
	opts, err := config.Load(config.Sources{
		ConfigFile: a.globals.configFile,
		DotEnvFile: a.globals.envFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return config.Options{}, err
	}

	switch len(args) {
	case 3:
		opts.DFX.Canister = args[0]
		opts.DFX.Method = args[1]
		opts.File = args[2]
	case 1:
		opts.File = args[0]
	}
	if a.globals.verbose {
		opts.Verbose = true
	}

	if err := opts.Validate(); err != nil {
		return config.Options{}, err
	}
	return opts, nil
}

func (a *app) openTarget(ctx context.Context, cmd *cobra.Command, args []string) (*target, error) {
	opts, err := a.loadOptions(cmd, args)
	if err != nil {
		return nil, err
	}

	t := &target{opts: opts}

	t.src, err = source.NewResolver(a.logger).Resolve(ctx, opts.File)
	if err != nil {
		return nil, err
	}

	t.stateDir, err = pathutil.NewPathModifier().AbsPath(opts.StateDir)
	if err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("resolve state dir: %w", err)
	}

	t.key = resume.Key(opts.ResumeTarget(), t.src.Identity(opts.ChunkSizeBytes(), opts.OffsetBytes()))
	a.logger.Debugf("Resume key: %s", t.key)

	t.store, err = resume.Open(ctx, opts.ResumeOptions(t.stateDir))
	if err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("open resume store: %w", err)
	}

	return t, nil
}
