package dfx

import (
	"errors"
	"os/exec"
	"strings"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
)

// Killer is implemented by commands that can be stopped before they exit on their own.
type Killer interface {
	Kill() error
}

type commandFactory struct {
	envRepository env.Repository
}

// NewCommandFactory returns a command.Factory whose commands also implement Killer.
func NewCommandFactory(envRepository env.Repository) command.Factory {
	return commandFactory{envRepository: envRepository}
}

// Create ...
func (f commandFactory) Create(name string, args []string, opts *command.Opts) command.Command {
	cmd := exec.Command(name, args...)
	if opts != nil {
		cmd.Stdout = opts.Stdout
		cmd.Stderr = opts.Stderr
		cmd.Stdin = opts.Stdin
		cmd.Env = append(f.envRepository.List(), opts.Env...)
		cmd.Dir = opts.Dir
	}
	return &killableCommand{cmd: cmd}
}

type killableCommand struct {
	cmd *exec.Cmd
}

func (c *killableCommand) PrintableCommandArgs() string {
	return strings.Join(c.cmd.Args, " ")
}

func (c *killableCommand) Run() error {
	return c.cmd.Run()
}

func (c *killableCommand) RunAndReturnExitCode() (int, error) {
	err := c.cmd.Run()
	return c.cmd.ProcessState.ExitCode(), err
}

func (c *killableCommand) RunAndReturnTrimmedOutput() (string, error) {
	out, err := c.cmd.Output()
	return strings.TrimSpace(string(out)), err
}

func (c *killableCommand) RunAndReturnTrimmedCombinedOutput() (string, error) {
	out, err := c.cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (c *killableCommand) Start() error {
	return c.cmd.Start()
}

func (c *killableCommand) Wait() error {
	return c.cmd.Wait()
}

// Kill stops a started process. Wait still has to be called to reap it.
func (c *killableCommand) Kill() error {
	if c.cmd.Process == nil {
		return errors.New("process not started")
	}
	return c.cmd.Process.Kill()
}
