// Package btrfs wraps the btrfs command line tool.
//
// Only three operations are needed: piping `btrfs send` into `btrfs receive`
// to replicate a snapshot, `btrfs subvolume delete` to prune one, and
// `btrfs --version` for diagnostics. Commands are reported as pass/fail;
// their output is kept only for error messages.
package btrfs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// DefaultBinary is the btrfs executable looked up on PATH.
const DefaultBinary = "btrfs"

// Transfer describes one send/receive operation. Parent is empty for a full
// transfer.
type Transfer struct {
	Snapshot    string
	Parent      string
	Destination string
}

// Incremental reports whether the transfer is relative to a parent snapshot.
func (t Transfer) Incremental() bool { return t.Parent != "" }

// SendArgs returns the arguments for the send side.
func (t Transfer) SendArgs() []string {
	if t.Incremental() {
		return []string{"send", "-p", t.Parent, t.Snapshot}
	}
	return []string{"send", t.Snapshot}
}

// ReceiveArgs returns the arguments for the receive side.
func (t Transfer) ReceiveArgs() []string {
	return []string{"receive", t.Destination}
}

// CommandLine renders the transfer as a shell pipeline for logs.
func (t Transfer) CommandLine(binary string) string {
	return binary + " " + strings.Join(t.SendArgs(), " ") + " | " +
		binary + " " + strings.Join(t.ReceiveArgs(), " ")
}

// CommandError is returned when a btrfs command exits unsuccessfully.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s failed: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += fmt.Sprintf(" (stderr: %s)", e.Stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Client runs btrfs commands.
type Client struct {
	binary string
	dryRun bool
	log    logrus.FieldLogger
}

// Option configures a Client.
type Option func(*Client)

// WithBinary overrides the btrfs executable.
func WithBinary(binary string) Option {
	return func(c *Client) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// WithDryRun makes the client log commands instead of running them.
func WithDryRun(dryRun bool) Option {
	return func(c *Client) { c.dryRun = dryRun }
}

// WithLogger sets the logger used for command logging.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		binary: DefaultBinary,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Binary returns the executable the client runs.
func (c *Client) Binary() string { return c.binary }

// DryRun reports whether commands are only logged.
func (c *Client) DryRun() bool { return c.dryRun }

// Transfer runs `btrfs send [-p parent] snapshot | btrfs receive destination`.
// Both processes must exit zero for the transfer to succeed.
func (c *Client) Transfer(ctx context.Context, t Transfer) error {
	log := c.log.WithFields(logrus.Fields{
		"snapshot":    t.Snapshot,
		"parent":      t.Parent,
		"destination": t.Destination,
	})

	if c.dryRun {
		log.Infof("Dry run, not executing: %s", t.CommandLine(c.binary))
		return nil
	}
	log.Infof("Running: %s", t.CommandLine(c.binary))

	r, w, pipeErr := os.Pipe()
	if pipeErr != nil {
		return fmt.Errorf("failed to create pipe: %w", pipeErr)
	}

	var sendErr, recvErr bytes.Buffer
	send := exec.CommandContext(ctx, c.binary, t.SendArgs()...)
	send.Stdout = w
	send.Stderr = &sendErr

	recv := exec.CommandContext(ctx, c.binary, t.ReceiveArgs()...)
	recv.Stdin = r
	recv.Stderr = &recvErr

	if err := recv.Start(); err != nil {
		r.Close()
		w.Close()
		return &CommandError{Args: c.args(t.ReceiveArgs()), Err: err}
	}
	if err := send.Start(); err != nil {
		r.Close()
		w.Close()
		_ = recv.Wait()
		return &CommandError{Args: c.args(t.SendArgs()), Err: err}
	}

	// The children hold their own copies of the pipe ends. Closing ours lets
	// receive see EOF once send exits.
	r.Close()
	w.Close()

	sendWait := send.Wait()
	recvWait := recv.Wait()

	var err error
	if sendWait != nil {
		err = multierr.Append(err, &CommandError{Args: c.args(t.SendArgs()), Stderr: strings.TrimSpace(sendErr.String()), Err: sendWait})
	}
	if recvWait != nil {
		err = multierr.Append(err, &CommandError{Args: c.args(t.ReceiveArgs()), Stderr: strings.TrimSpace(recvErr.String()), Err: recvWait})
	}
	if err != nil {
		log.WithError(err).Error("Transfer failed")
		return err
	}

	log.Info("Transfer complete")
	return nil
}

// Delete runs `btrfs subvolume delete path`.
func (c *Client) Delete(ctx context.Context, path string) error {
	args := []string{"subvolume", "delete", path}
	log := c.log.WithField("path", path)

	if c.dryRun {
		log.Infof("Dry run, not executing: %s %s", c.binary, strings.Join(args, " "))
		return nil
	}
	log.Infof("Running: %s %s", c.binary, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, c.binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		cmdErr := &CommandError{Args: c.args(args), Stderr: strings.TrimSpace(string(output)), Err: err}
		log.WithError(cmdErr).Error("Delete failed")
		return cmdErr
	}
	return nil
}

// Version returns the first line of `btrfs --version`.
func (c *Client) Version(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, c.binary, "--version")
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", &CommandError{Args: c.args([]string{"--version"}), Stderr: string(exitErr.Stderr), Err: err}
		}
		return "", &CommandError{Args: c.args([]string{"--version"}), Err: err}
	}

	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return "", fmt.Errorf("empty %s --version output", c.binary)
	}
	return lines[0], nil
}

func (c *Client) args(args []string) []string {
	return append([]string{c.binary}, args...)
}
