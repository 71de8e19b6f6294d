package agent

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOneShotRendersBoundedContext(t *testing.T) {
	o, err := NewOneShot("echo", "", 2, 5*time.Second)
	require.NoError(t, err)

	history := []Turn{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "one"},
		{Role: RoleUser, Content: "second"},
		{Role: RoleAssistant, Content: "two"},
		{Role: RoleUser, Content: "third"},
		{Role: RoleAssistant, Content: "three"},
	}
	out, err := o.Exchange(context.Background(), "fourth", history)
	require.NoError(t, err)
	require.Contains(t, out, "User: second")
	require.Contains(t, out, "Assistant: three")
	require.Contains(t, out, "User: fourth")
	require.NotContains(t, out, "first", "history must be bounded to the last 2 exchanges")
}

func TestOneShotNoHistoryPassesPromptAlone(t *testing.T) {
	o, err := NewOneShot("echo", "", 3, 5*time.Second)
	require.NoError(t, err)

	out, err := o.Exchange(context.Background(), "hello", nil)
	require.NoError(t, err)
	require.Equal(t, "hello", out)
}

func TestOneShotTimeout(t *testing.T) {
	o, err := NewOneShot("sleep 10", "", 3, 100*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	_, err = o.Exchange(context.Background(), "hello", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "timed out")
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestOneShotRejectsEmptyCommand(t *testing.T) {
	_, err := NewOneShot("", "", 3, time.Second)
	require.Error(t, err)
}

func TestInteractiveExchange(t *testing.T) {
	// A tiny line-oriented agent: echoes each prompt back prefixed, then
	// prints the turn marker.
	script := `while read line; do echo "reply to $line"; echo ">"; done`
	i, err := NewInteractive("sh -c "+shellQuote(script), ">", time.Second, testLogger())
	require.NoError(t, err)
	defer i.Close()

	out, err := i.Exchange(context.Background(), "hello", nil)
	require.NoError(t, err)
	require.Equal(t, "reply to hello", out)

	// Channel is reused across turns.
	out, err = i.Exchange(context.Background(), "again", nil)
	require.NoError(t, err)
	require.Equal(t, "reply to again", out)
}

func TestInteractiveMultilineReply(t *testing.T) {
	script := `while read line; do echo "a"; echo "b"; echo ">"; done`
	i, err := NewInteractive("sh -c "+shellQuote(script), ">", time.Second, testLogger())
	require.NoError(t, err)
	defer i.Close()

	out, err := i.Exchange(context.Background(), "x", nil)
	require.NoError(t, err)
	require.Equal(t, "a\nb", out)
}

func TestInteractiveFailsWhenProcessExits(t *testing.T) {
	i, err := NewInteractive("true", ">", time.Second, testLogger())
	require.NoError(t, err)
	defer i.Close()

	_, err = i.Exchange(context.Background(), "hello", nil)
	require.Error(t, err)
}

func TestInteractiveCloseIsIdempotent(t *testing.T) {
	script := `while read line; do echo ">"; done`
	i, err := NewInteractive("sh -c "+shellQuote(script), ">", time.Second, testLogger())
	require.NoError(t, err)

	_, err = i.Exchange(context.Background(), "x", nil)
	require.NoError(t, err)
	require.NoError(t, ignoreExitError(i.Close()))
	require.NoError(t, i.Close())
}

func ignoreExitError(err error) error {
	if err == nil || strings.Contains(err.Error(), "exit") || strings.Contains(err.Error(), "signal") {
		return nil
	}
	return err
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
