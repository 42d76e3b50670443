package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"themis/internal/chatbot"
)

var (
	chatAPIURL string
	chatToken  string
)

// chatCmd runs the matching engine locally against a remote intent store
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the bot from the terminal",
	Long: `Fetches intents from the API on every message, matches locally, and
reports usage of store-backed answers back to the API.

Type a message per line; an empty line or EOF ends the session.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatAPIURL, "api", "", "Intents API base URL (default INTENTS_API_URL)")
	chatCmd.Flags().StringVar(&chatToken, "token", "", "Bearer token forwarded to the intents API")
}

func runChat(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateMatching(); err != nil {
		return err
	}
	baseURL := strings.TrimSpace(chatAPIURL)
	if baseURL == "" {
		baseURL = cfg.IntentsAPIURL
	}

	client := chatbot.NewHTTPClient(
		baseURL,
		time.Duration(cfg.HTTPTimeoutSeconds)*time.Second,
		chatbot.WithClientLogger(logger.Named("client")),
	)
	reporter := chatbot.NewUsageReporter(client, logger.Named("usage"), nil)
	defer reporter.Close()

	tieBreak, _ := chatbot.ParseTieBreak(cfg.MatchTieBreak)
	engine := chatbot.New(client, reporter,
		chatbot.WithThreshold(cfg.MatchThreshold),
		chatbot.WithTieBreak(tieBreak),
		chatbot.WithLogger(logger.Named("engine")),
	)
	return chatLoop(cmd.Context(), engine, chatToken, cmd.InOrStdin(), cmd.OutOrStdout())
}

type responder interface {
	Respond(ctx context.Context, message, token string) chatbot.MatchResult
}

func chatLoop(ctx context.Context, bot responder, token string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		if _, err := fmt.Fprint(out, "> "); err != nil {
			return err
		}
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			return nil
		}

		reply := bot.Respond(ctx, line, token)
		if _, err := fmt.Fprintln(out, reply.Text); err != nil {
			return err
		}
		if reply.File != nil {
			fmt.Fprintf(out, "  [adjunto] %s\n", *reply.File)
		}
	}
}
