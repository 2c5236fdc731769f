// chatctl sends one question to a chat server and prints the streamed reply.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/pilotchat/internal/chat"
	"github.com/ashureev/pilotchat/internal/streamclient"
)

type options struct {
	server         string
	conversationID string
	token          string
	timeout        time.Duration
	verbose        bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "chatctl [message]",
		Short: "Ask the chat server a question and stream the answer",
		Long: `chatctl posts a message to /api/chat/stream and prints each chunk as it
arrives. Press Ctrl-C to abort the stream. With no message argument the
message is read from stdin.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")
			if message == "" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read message: %w", err)
				}
				message = string(b)
			}
			return ask(cmd.Context(), cmd.OutOrStdout(), opts, message)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.server, "server", envOr("PILOTCHAT_URL", "http://localhost:8080"), "chat server base URL")
	flags.StringVarP(&opts.conversationID, "conversation", "c", "", "conversation id (default conversation when empty)")
	flags.StringVar(&opts.token, "token", os.Getenv("PILOTCHAT_TOKEN"), "session token sent as a bearer credential")
	flags.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "give up after this long")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log stream lifecycle to stderr")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ask streams one exchange to out. An interrupt cancels the stream.
func ask(ctx context.Context, out io.Writer, opts *options, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return chat.ErrEmptyMessage
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	controllerOpts := []streamclient.Option{streamclient.WithLogger(logger)}
	if opts.token != "" {
		controllerOpts = append(controllerOpts, streamclient.WithHeader("Authorization", "Bearer "+opts.token))
	}
	controller := streamclient.NewController(controllerOpts...)

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	var streamErr error
	handle := controller.Start(ctx, strings.TrimRight(opts.server, "/")+"/api/chat/stream", chat.Request{
		Message:        message,
		ConversationID: opts.conversationID,
	}, streamclient.Handler{
		OnChunk: func(chunk string) {
			fmt.Fprint(out, chunk)
		},
		OnCompleted: func() {
			fmt.Fprintln(out)
		},
		OnError: func(reason string) {
			streamErr = errors.New(reason)
		},
	})

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	done := make(chan struct{})
	go func() {
		controller.Wait(handle)
		close(done)
	}()

	select {
	case <-done:
	case <-interrupts:
		logger.Debug("Interrupted, cancelling stream", "handle", handle)
		controller.Cancel(handle)
		<-done
	}

	if streamErr != nil {
		if streamclient.IsAborted(streamErr.Error()) {
			fmt.Fprintln(out)
		}
		return fmt.Errorf("stream failed: %w", streamErr)
	}
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: failed to load .env:", err)
	}

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
