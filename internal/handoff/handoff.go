// Package handoff runs the downstream process (the article scorer) once a
// scheduling run has finished.
package handoff

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
)

// waitDelay bounds how long Run waits for output pipes after the process is
// killed
const waitDelay = 2 * time.Second

// Command is an external program run synchronously to completion
type Command struct {
	Args    []string
	Timeout time.Duration
	Dir     string
	log     *logrus.Entry
}

// New creates a hand-off command. Empty args make Run a logged no-op;
// timeout 0 means no limit beyond ctx.
func New(args []string, timeout time.Duration, log *logrus.Entry) *Command {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Command{Args: args, Timeout: timeout, log: log}
}

// Run executes the command and logs its combined output line by line
func (c *Command) Run(ctx context.Context) error {
	if len(c.Args) == 0 {
		c.log.Info("No hand-off command configured, skipping")
		return nil
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = waitDelay

	start := time.Now()
	c.log.Infof("Running hand-off: %v", c.Args)
	out, err := cmd.CombinedOutput()

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		c.log.WithField("handoff", c.Args[0]).Info(scanner.Text())
	}

	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("hand-off timed out after %v", c.Timeout)
	}
	if err != nil {
		return fmt.Errorf("hand-off %s failed: %w", c.Args[0], err)
	}
	c.log.Infof("Hand-off completed in %v", time.Since(start).Round(time.Millisecond))
	return nil
}
