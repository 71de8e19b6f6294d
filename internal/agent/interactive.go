package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-shellwords"
)

// Interactive keeps one long-lived backend subprocess and exchanges turns
// over its stdin/stdout. A turn ends when the process prints the prompt
// marker on its own line. The process is started lazily on first use and
// reused across turns, which is what keeps follow-up latency low.
type Interactive struct {
	cmd    []string
	marker string
	grace  time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	proc  *exec.Cmd
	stdin io.WriteCloser
	out   *bufio.Reader
}

func NewInteractive(command, marker string, grace time.Duration, logger *slog.Logger) (*Interactive, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse agent command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("agent command empty")
	}
	return &Interactive{
		cmd:    args,
		marker: marker,
		grace:  grace,
		logger: logger.With(slog.String("component", "agent-interactive")),
	}, nil
}

func (i *Interactive) ensureStarted() error {
	if i.proc != nil {
		return nil
	}
	cmd := exec.Command(i.cmd[0], i.cmd[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("agent stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("agent stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start agent process: %w", err)
	}
	i.proc = cmd
	i.stdin = stdin
	i.out = bufio.NewReader(stdout)
	i.logger.Info("agent process started", slog.Int("pid", cmd.Process.Pid))
	return nil
}

// Exchange writes the prompt as one line and collects output lines until the
// prompt marker appears. History is ignored: the live process carries its own
// conversation state.
func (i *Interactive) Exchange(ctx context.Context, prompt string, _ []Turn) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.ensureStarted(); err != nil {
		return "", err
	}
	if _, err := fmt.Fprintln(i.stdin, prompt); err != nil {
		i.teardownLocked()
		return "", fmt.Errorf("write prompt: %w", err)
	}

	var lines []string
	for {
		if err := ctx.Err(); err != nil {
			i.teardownLocked()
			return "", err
		}
		line, err := i.out.ReadString('\n')
		if err != nil {
			i.teardownLocked()
			return "", fmt.Errorf("read agent output: %w", err)
		}
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, i.marker) {
			break
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "")), nil
}

// Close shuts the subprocess down: close stdin, wait up to the grace period,
// then kill.
func (i *Interactive) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.teardownLocked()
}

func (i *Interactive) teardownLocked() error {
	if i.proc == nil {
		return nil
	}
	proc := i.proc
	i.proc = nil
	i.out = nil

	_ = i.stdin.Close()
	i.stdin = nil
	_ = proc.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(i.grace):
		i.logger.Warn("agent process ignored SIGTERM, killing", slog.Int("pid", proc.Process.Pid))
		_ = proc.Process.Kill()
		return <-done
	}
}
