package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/bitrise-io/chunk-uploader/chunkuploader"
	"github.com/bitrise-io/chunk-uploader/config"
	"github.com/bitrise-io/chunk-uploader/report"
	"github.com/bitrise-io/chunk-uploader/resume"
	"github.com/bitrise-io/chunk-uploader/transport/dfx"
	"github.com/bitrise-io/chunk-uploader/transport/httpchunk"
	"github.com/bitrise-io/chunk-uploader/transport/s3chunk"
	"github.com/bitrise-io/go-utils/v2/fileutil"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func (a *app) newUploadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload " + targetArgsUsage,
		Short: "Upload a file in chunks",
		Long: `Upload a file in chunks. The file can be a local path, a file:// URL or an http(s):// URL.
With the dfx transport the canister and its method are given as the first two arguments,
like "chunk-uploader upload my_canister upload_chunk ./model.bin".`,
		Args: validateTargetArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.upload(cmd.Context(), cmd, args)
		},
	}
	config.RegisterUploadFlags(cmd.Flags())
	return cmd
}

func (a *app) upload(ctx context.Context, cmd *cobra.Command, args []string) error {
	runID := uuid.NewString()
	a.logger.Infof("Upload %s", runID)
	a.logger.TDebugf("Resolving upload target")

	t, err := a.openTarget(ctx, cmd, args)
	if err != nil {
		return err
	}
	defer func() {
		if err := t.Close(); err != nil {
			a.logger.Warnf("Failed to release resources: %s", err)
		}
	}()
	opts := t.opts

	core, err := opts.Core()
	if err != nil {
		return err
	}
	core.OnProgress = report.NewProgress(a.logger, opts.ProgressInterval).Handle

	submitter, closeSubmitter, err := a.newSubmitter(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSubmitter.Close(); err != nil {
			a.logger.Warnf("Failed to clean up transport: %s", err)
		}
	}()

	job := chunkuploader.Job{
		Key:         t.key,
		Offset:      opts.OffsetBytes(),
		ChunkOffset: opts.ChunkOffset,
	}
	if opts.RetryChunksFile != "" {
		job.Only, err = resume.ReadIndexFile(fileutil.NewFileManager(), opts.RetryChunksFile)
		if err != nil {
			return &chunkuploader.ConfigurationError{Field: "retry_chunks_file", Reason: err.Error()}
		}
		a.logger.Printf("Retrying chunks: %s", resume.FormatRanges(job.Only))
	}

	provider, err := t.src.Open()
	if err != nil {
		return err
	}
	defer func() {
		if err := provider.Close(); err != nil {
			a.logger.Warnf("Failed to close %s: %s", t.src.Path, err)
		}
	}()
	job.Provider = provider

	uploader, err := chunkuploader.New(core, submitter, t.store, a.logger)
	if err != nil {
		return err
	}

	a.logger.Infof("Uploading %s (%s) with %s", t.src.Location, report.HumanSize(t.src.Size), opts.Transport)
	a.logger.Printf("Chunk size: %s, offset: %d, chunk offset: %d", report.HumanSize(core.ChunkSize), job.Offset, job.ChunkOffset)
	if core.Parallel {
		a.logger.Printf("Parallel: %d chunks in flight, %s ceiling", core.Concurrency, rateCeiling(core.TargetRate))
	} else {
		a.logger.Printf("Sequential, %s ceiling", rateCeiling(core.TargetRate))
	}
	if core.AutoResume {
		a.logger.Printf("Auto-resume enabled with %d max attempts per chunk", core.MaxRetryPerChunk)
	}
	a.logger.TDebugf("Starting upload")

	result, uploadErr := uploader.Upload(ctx, job)
	report.PrintSummary(a.logger, result, uploadErr)

	if pending := report.PendingIndices(result); len(pending) > 0 {
		a.printResumeHint(t, result, pending)
	}

	if uploadErr != nil {
		return fmt.Errorf("upload %s: %w", runID, uploadErr)
	}
	a.logger.TDebugf("Upload finished")
	return nil
}

func (a *app) printResumeHint(t *target, result *chunkuploader.UploadResult, pending []uint32) {
	retryFile := t.failedChunksPath()
	if err := resume.WriteIndexFile(fileutil.NewFileManager(), retryFile, pending); err != nil {
		a.logger.Warnf("Failed to write unfinished chunk indices: %s", err)
		retryFile = ""
	} else {
		a.logger.Printf("Unfinished chunk indices written to %s", retryFile)
	}

	a.logger.Println()
	a.logger.Infof("To resume from this point, run:")
	a.logger.Printf("%s", report.ResumeCommand(resumeArgs(a.invocation), result, retryFile))
}

func (a *app) newSubmitter(ctx context.Context, opts config.Options) (chunkuploader.Submitter, io.Closer, error) {
	switch strings.ToLower(opts.Transport) {
	case config.TransportDFX:
		client, err := dfx.NewClient(opts.DFXConfig(), dfx.NewCommandFactory(a.envRepo), a.logger)
		if err != nil {
			return nil, nil, err
		}
		return client, client, nil
	case config.TransportHTTP:
		httpConfig, err := opts.HTTPConfig()
		if err != nil {
			return nil, nil, err
		}
		client, err := httpchunk.NewClient(httpConfig, a.logger)
		if err != nil {
			return nil, nil, err
		}
		return client, nopCloser{}, nil
	case config.TransportS3:
		client, err := s3chunk.NewClient(ctx, opts.S3Config(), a.logger)
		if err != nil {
			return nil, nil, err
		}
		return client, nopCloser{}, nil
	default:
		return nil, nil, &chunkuploader.ConfigurationError{Field: "transport", Reason: fmt.Sprintf("unknown transport %q", opts.Transport)}
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func rateCeiling(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return "no throughput"
	}
	return report.HumanRate(bytesPerSecond)
}

// resumeArgs drops the options the resume command sets itself.
func resumeArgs(invocation []string) []string {
	if len(invocation) == 0 {
		return []string{appName, "upload"}
	}

	skipValue := map[string]bool{"--chunk-offset": true, "--retry-chunks-file": true}
	args := []string{appName}
	for i := 1; i < len(invocation); i++ {
		arg := invocation[i]
		name := arg
		if eq := strings.IndexByte(arg, '='); eq >= 0 {
			name = arg[:eq]
		}
		if !skipValue[name] {
			args = append(args, arg)
			continue
		}
		if name == arg {
			i++
		}
	}
	return args
}
