package downstream

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/toques-bi/toques/pkg/config"
	"github.com/toques-bi/toques/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const tailLines = 10

// StepResult is the outcome of one external command.
type StepResult struct {
	Name     string        `json:"name"`
	Command  string        `json:"command"`
	OK       bool          `json:"ok"`
	Skipped  bool          `json:"skipped,omitempty"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Tail     []string      `json:"tail,omitempty"`
}

// Runner invokes the external aggregation tool (dbt by default) as opaque commands.
type Runner struct {
	config config.Downstream
	output io.Writer
	logger logger.Logger
}

func NewRunner(c config.Downstream, output io.Writer, l logger.Logger) *Runner {
	if output == nil {
		output = os.Stdout
	}
	return &Runner{config: c, output: output, logger: l}
}

// Run executes the run command and then the test command. The test command still runs when
// the run command fails.
func (r *Runner) Run(ctx context.Context) []StepResult {
	if r.config.Disabled {
		return []StepResult{
			{Name: "dbt-run", Command: commandLine(r.config.Run), Skipped: true, OK: true},
			{Name: "dbt-test", Command: commandLine(r.config.Test), Skipped: true, OK: true},
		}
	}

	return []StepResult{
		r.Step(ctx, "dbt-run", r.config.Run),
		r.Step(ctx, "dbt-test", r.config.Test),
	}
}

// Step runs a single command in the configured directory, streaming its output with a
// prefix and keeping the last lines for the report.
func (r *Runner) Step(ctx context.Context, name string, command config.Command) StepResult {
	res := StepResult{Name: name, Command: commandLine(command)}
	start := time.Now()

	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	r.logger.Infow("running downstream step", "step", name, "command", res.Command, "dir", r.config.Dir)

	tail := &tailWriter{max: tailLines}
	err := r.exec(ctx, command, io.MultiWriter(r.output, tail))
	res.Tail = tail.lines()
	res.Duration = time.Since(start)

	switch {
	case err == nil:
		res.OK = true
		r.logger.Infow("downstream step finished", "step", name, "duration", res.Duration.String())
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Error = "timed out after " + r.config.Timeout.String()
	default:
		res.Error = err.Error()
	}

	if !res.OK {
		r.logger.Warnw("downstream step failed", "step", name, "error", res.Error)
	}

	return res
}

func (r *Runner) exec(ctx context.Context, command config.Command, output io.Writer) error {
	cmd := exec.CommandContext(ctx, command.Name, command.Args...) //nolint:gosec
	cmd.Dir = r.config.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "failed to get stdout")
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrap(err, "failed to get stderr")
	}

	out := &lockedWriter{w: output}
	wg := new(errgroup.Group)
	wg.Go(func() error { return consumePipe(stdout, out) })
	wg.Go(func() error { return consumePipe(stderr, out) })

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "failed to start command")
	}

	pipeErr := wg.Wait()
	if err := cmd.Wait(); err != nil {
		return err
	}
	if pipeErr != nil {
		return errors.Wrap(pipeErr, "failed to consume pipe")
	}

	return nil
}

// consumePipe copies pipe to output line by line with a prefix. Lines have no length limit
// so a long line never stops the pipe from being drained.
func consumePipe(pipe io.Reader, output io.Writer) error {
	reader := bufio.NewReader(pipe)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			msg := make([]byte, 0, len(line)+4)
			msg = append(msg, ">> "...)
			msg = append(msg, bytes.TrimSuffix(line, []byte("\n"))...)
			msg = append(msg, '\n')
			if _, werr := output.Write(msg); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func commandLine(c config.Command) string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// tailWriter keeps the last max lines written to it.
type tailWriter struct {
	mu   sync.Mutex
	max  int
	buf  []string
	part string
}

func (t *tailWriter) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	chunks := strings.Split(t.part+string(p), "\n")
	t.part = chunks[len(chunks)-1]
	for _, line := range chunks[:len(chunks)-1] {
		t.buf = append(t.buf, strings.TrimPrefix(line, ">> "))
		if len(t.buf) > t.max {
			t.buf = t.buf[1:]
		}
	}
	return len(p), nil
}

func (t *tailWriter) lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.buf...)
}
