// Package dfx submits chunks to an Internet Computer canister through the dfx CLI.
package dfx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bitrise-io/chunk-uploader/chunkuploader"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/fileutil"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
)

const (
	DefaultBinary     = "dfx"
	DefaultListMethod = "parallel_chunk_ids"

	numListRetries = 3
)

var (
	_ chunkuploader.Submitter    = (*Client)(nil)
	_ chunkuploader.RemoteLister = (*Client)(nil)
)

// Config ...
type Config struct {
	Canister string
	Method   string
	// ListMethod is the query returning the chunk indices the canister holds.
	ListMethod string
	Network    string
	Binary     string
	// Indexed selects the (index : nat32, blob) argument shape used by parallel upload methods.
	// Otherwise only the blob is sent and the canister appends chunks in call order.
	Indexed bool
}

// Client calls `dfx canister call` once per chunk, passing the candid arguments through a file.
type Client struct {
	config         Config
	commandFactory command.Factory
	fileManager    fileutil.FileManager
	logger         log.Logger
	argDir         string
	seq            atomic.Uint64
	listWait       time.Duration
}

// NewClient ...
func NewClient(config Config, commandFactory command.Factory, logger log.Logger) (*Client, error) {
	if config.Canister == "" {
		return nil, &chunkuploader.ConfigurationError{Field: "canister", Reason: "must not be empty"}
	}
	if config.Method == "" {
		return nil, &chunkuploader.ConfigurationError{Field: "method", Reason: "must not be empty"}
	}
	if config.Binary == "" {
		config.Binary = DefaultBinary
	}
	if config.ListMethod == "" {
		config.ListMethod = DefaultListMethod
	}

	argDir, err := pathutil.NewPathProvider().CreateTempDir("dfx-args")
	if err != nil {
		return nil, fmt.Errorf("create argument dir: %w", err)
	}

	return &Client{
		config:         config,
		commandFactory: commandFactory,
		fileManager:    fileutil.NewFileManager(),
		logger:         logger,
		argDir:         argDir,
		listWait:       2 * time.Second,
	}, nil
}

// Submit uploads one chunk.
func (c *Client) Submit(ctx context.Context, index uint32, data []byte) error {
	argPath := filepath.Join(c.argDir, fmt.Sprintf("chunk-%d-%d.did", index, c.seq.Add(1)))
	if err := c.fileManager.WriteBytes(argPath, []byte(EncodeChunkArgs(index, data, c.config.Indexed))); err != nil {
		return chunkuploader.NewTransientError(fmt.Errorf("write candid argument file: %w", err))
	}
	defer func() {
		if err := c.fileManager.Remove(argPath); err != nil {
			c.logger.Debugf("Failed to remove %s: %s", argPath, err)
		}
	}()

	if _, err := c.call(ctx, c.config.Method, "--argument-file", argPath); err != nil {
		return fmt.Errorf("chunk %d: %w", index, err)
	}
	return nil
}

// ListChunks asks the canister which chunk indices it already holds.
func (c *Client) ListChunks(ctx context.Context) ([]uint32, error) {
	var indices []uint32
	err := retry.Times(numListRetries).Wait(c.listWait).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			c.logger.Debugf("Retrying %s (attempt %d)", c.config.ListMethod, attempt+1)
		}

		reply, err := c.call(ctx, c.config.ListMethod)
		if err != nil {
			return err, chunkuploader.IsPermanent(err) || ctx.Err() != nil
		}

		indices, err = ParseChunkIDs(reply)
		if err != nil {
			return err, true
		}
		return nil, true
	})
	if err != nil {
		return nil, fmt.Errorf("list chunks with %s: %w", c.config.ListMethod, err)
	}
	return indices, nil
}

// Close removes the argument file directory.
func (c *Client) Close() error {
	return c.fileManager.RemoveAll(c.argDir)
}

func (c *Client) call(ctx context.Context, method string, extraArgs ...string) (string, error) {
	args := []string{"canister", "call"}
	if c.config.Network != "" {
		args = append(args, "--network", c.config.Network)
	}
	args = append(args, c.config.Canister, method)
	args = append(args, extraArgs...)

	var stdout, stderr bytes.Buffer
	cmd := c.commandFactory.Create(c.config.Binary, args, &command.Opts{Stdout: &stdout, Stderr: &stderr})
	c.logger.Debugf("$ %s", cmd.PrintableCommandArgs())

	if err := cmd.Start(); err != nil {
		err = fmt.Errorf("start %s: %w", c.config.Binary, err)
		if errors.Is(err, exec.ErrNotFound) {
			return "", chunkuploader.NewPermanentError(err)
		}
		return "", chunkuploader.NewTransientError(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			return "", classifyFailure(cmd.PrintableCommandArgs(), err, stderr.String())
		}
		return strings.TrimSpace(stdout.String()), nil
	case <-ctx.Done():
	}

	// An append that reached the replica cannot be recalled, so sequential uploads run to completion.
	recallable := c.config.Indexed || method == c.config.ListMethod
	if killer, ok := cmd.(Killer); ok && recallable {
		if err := killer.Kill(); err != nil {
			c.logger.Debugf("Failed to kill %s: %s", c.config.Binary, err)
		}
	}
	if err := <-done; err != nil {
		return "", ctx.Err()
	}
	return strings.TrimSpace(stdout.String()), nil
}
