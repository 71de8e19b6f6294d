package agent

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// OneShot invokes the backend command once per exchange, passing a bounded
// textual rendering of recent history along with the prompt. Used as the
// fallback when the interactive channel is unavailable.
type OneShot struct {
	cmd          []string
	promptFlag   string
	contextTurns int
	timeout      time.Duration
}

func NewOneShot(command, promptFlag string, contextTurns int, timeout time.Duration) (*OneShot, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse agent command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("agent command empty")
	}
	return &OneShot{
		cmd:          args,
		promptFlag:   promptFlag,
		contextTurns: contextTurns,
		timeout:      timeout,
	}, nil
}

func (o *OneShot) Exchange(ctx context.Context, prompt string, history []Turn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	full := o.renderPrompt(prompt, history)
	args := append([]string{}, o.cmd[1:]...)
	if o.promptFlag != "" {
		args = append(args, o.promptFlag)
	}
	args = append(args, full)

	cmd := exec.CommandContext(ctx, o.cmd[0], args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("agent invocation timed out after %s", o.timeout)
		}
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			// Some backends report usable text on stderr.
			if msg := strings.TrimSpace(string(exitErr.Stderr)); msg != "" {
				return msg, nil
			}
		}
		return "", fmt.Errorf("agent invocation failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// renderPrompt concatenates the last contextTurns exchanges with role labels
// so a stateless backend still sees recent conversation.
func (o *OneShot) renderPrompt(prompt string, history []Turn) string {
	keep := o.contextTurns * 2
	if len(history) > keep {
		history = history[len(history)-keep:]
	}
	var b strings.Builder
	for _, turn := range history {
		label := "User"
		if turn.Role == RoleAssistant {
			label = "Assistant"
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(turn.Content)
	}
	if b.Len() == 0 {
		return prompt
	}
	b.WriteString("\n\nUser: ")
	b.WriteString(prompt)
	return b.String()
}
