// parley-ask asks a running gateway for one spoken utterance: it creates a
// voice request, waits for a capture device to claim and submit audio, and
// prints the transcript.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parleylabs/parley-core/internal/voicereq"
)

func main() {
	var (
		server   string
		language string
		timeout  time.Duration
	)

	flag.StringVar(&server, "server", "http://localhost:8765", "Gateway base URL")
	flag.StringVar(&language, "language", "", "Language code for transcription")
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "How long to wait for voice input")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poller := voicereq.NewPoller(server, nil)
	transcript, err := poller.GetVoiceInput(ctx, language, timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voice input failed: %v\n", err)
		os.Exit(1)
	}
	if transcript == "" {
		fmt.Fprintln(os.Stderr, "no speech detected")
		os.Exit(2)
	}
	fmt.Println(transcript)
}
