package dfx

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/command"
)

type fakeReply struct {
	stdout string
	stderr string
	err    error
	delay  time.Duration
}

type fakeCommandFactory struct {
	// killable makes the created commands implement Killer.
	killable bool

	mu         sync.Mutex
	calls      [][]string
	argFiles   []string
	replies    []fakeReply
	running    int
	maxRunning int
	landed     []string
}

func (f *fakeCommandFactory) Create(name string, args []string, opts *command.Opts) command.Command {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, append([]string{name}, args...))
	reply := fakeReply{}
	if len(f.replies) > 0 {
		reply = f.replies[0]
		if len(f.replies) > 1 {
			f.replies = f.replies[1:]
		}
	}
	cmd := &fakeCommand{factory: f, name: name, args: args, opts: opts, reply: reply, killed: make(chan struct{})}
	if f.killable {
		return &killableFakeCommand{fakeCommand: cmd}
	}
	return cmd
}

func (f *fakeCommandFactory) started(argFile string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if argFile != "" {
		f.argFiles = append(f.argFiles, argFile)
	}
	f.running++
	f.maxRunning = max(f.maxRunning, f.running)
}

func (f *fakeCommandFactory) finished(argFile string, landed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running--
	if landed && argFile != "" {
		f.landed = append(f.landed, argFile)
	}
}

func (f *fakeCommandFactory) snapshot() (maxRunning int, landed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxRunning, append([]string(nil), f.landed...)
}

type fakeCommand struct {
	factory *fakeCommandFactory
	name    string
	args    []string
	opts    *command.Opts
	reply   fakeReply
	argFile string
	killed  chan struct{}
	once    sync.Once
}

func (c *fakeCommand) PrintableCommandArgs() string {
	return strings.Join(append([]string{c.name}, c.args...), " ")
}
func (c *fakeCommand) Run() error                                         { return nil }
func (c *fakeCommand) RunAndReturnExitCode() (int, error)                 { return 0, nil }
func (c *fakeCommand) RunAndReturnTrimmedOutput() (string, error)         { return "", nil }
func (c *fakeCommand) RunAndReturnTrimmedCombinedOutput() (string, error) { return "", nil }

func (c *fakeCommand) Start() error {
	for i, arg := range c.args {
		if arg == "--argument-file" && i+1 < len(c.args) {
			content, err := os.ReadFile(c.args[i+1])
			if err != nil {
				return err
			}
			c.argFile = string(content)
		}
	}
	c.factory.started(c.argFile)
	return nil
}

func (c *fakeCommand) Wait() error {
	if c.reply.delay > 0 {
		select {
		case <-time.After(c.reply.delay):
		case <-c.killed:
			c.factory.finished(c.argFile, false)
			return errors.New("signal: killed")
		}
	}
	if c.opts != nil {
		write(c.opts.Stdout, c.reply.stdout)
		write(c.opts.Stderr, c.reply.stderr)
	}
	c.factory.finished(c.argFile, c.reply.err == nil)
	return c.reply.err
}

type killableFakeCommand struct {
	*fakeCommand
}

func (c *killableFakeCommand) Kill() error {
	c.once.Do(func() { close(c.killed) })
	return nil
}

func write(w io.Writer, s string) {
	if w != nil && s != "" {
		_, _ = io.WriteString(w, s)
	}
}
