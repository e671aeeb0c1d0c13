package cli

import (
	"context"
	"os"

	"github.com/bitrise-io/chunk-uploader/chunkuploader"
	"github.com/bitrise-io/chunk-uploader/config"
	"github.com/bitrise-io/chunk-uploader/report"
	"github.com/bitrise-io/chunk-uploader/resume"
	"github.com/spf13/cobra"
)

func (a *app) newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status " + targetArgsUsage,
		Short: "Show the resume record of an upload",
		Args:  validateTargetArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.status(cmd.Context(), cmd, args)
		},
	}
	config.RegisterTargetFlags(cmd.Flags())
	return cmd
}

func (a *app) status(ctx context.Context, cmd *cobra.Command, args []string) error {
	t, err := a.openTarget(ctx, cmd, args)
	if err != nil {
		return err
	}
	defer func() {
		if err := t.Close(); err != nil {
			a.logger.Warnf("Failed to release resources: %s", err)
		}
	}()

	chunks, err := chunkuploader.SplitRange(t.opts.OffsetBytes(), t.src.Size, t.opts.ChunkSizeBytes())
	if err != nil {
		return err
	}

	recorded, err := t.store.Load(ctx, t.key)
	if err != nil {
		return err
	}

	done := map[uint32]bool{}
	var completedBytes, totalBytes int64
	for _, c := range chunks {
		totalBytes += c.Length
	}
	for _, index := range recorded {
		if int(index) < len(chunks) {
			done[index] = true
			completedBytes += chunks[index].Length
		}
	}
	var missing []uint32
	for _, c := range chunks {
		if !done[c.Index] {
			missing = append(missing, c.Index)
		}
	}

	a.logger.Infof("Resume record %s", t.key)
	a.logger.Printf("File: %s (%s)", t.src.Location, report.HumanSize(t.src.Size))
	a.logger.Printf("Chunks: %d/%d uploaded, %s of %s", len(done), len(chunks), report.HumanSize(completedBytes), report.HumanSize(totalBytes))
	a.logger.Printf("Uploaded: %s", resume.FormatRanges(recorded))
	if len(missing) == 0 {
		a.logger.Donef("Upload complete")
	} else {
		a.logger.Printf("Missing: %s", resume.FormatRanges(missing))
	}

	if _, err := os.Stat(t.failedChunksPath()); err == nil {
		a.logger.Printf("Unfinished chunks of the last run: %s", t.failedChunksPath())
	}
	return nil
}

func (a *app) newResetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset " + targetArgsUsage,
		Short: "Forget the uploaded chunks of an upload, the next run starts from scratch",
		Args:  validateTargetArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.reset(cmd.Context(), cmd, args)
		},
	}
	config.RegisterTargetFlags(cmd.Flags())
	return cmd
}

func (a *app) reset(ctx context.Context, cmd *cobra.Command, args []string) error {
	t, err := a.openTarget(ctx, cmd, args)
	if err != nil {
		return err
	}
	defer func() {
		if err := t.Close(); err != nil {
			a.logger.Warnf("Failed to release resources: %s", err)
		}
	}()

	if err := t.store.Reset(ctx, t.key); err != nil {
		return err
	}
	if err := os.Remove(t.failedChunksPath()); err != nil && !os.IsNotExist(err) {
		a.logger.Warnf("Failed to remove %s: %s", t.failedChunksPath(), err)
	}

	a.logger.Donef("Resume record %s removed", t.key)
	return nil
}
