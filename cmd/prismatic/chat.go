package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"prismatic/internal/adapter/chatstream"
	"prismatic/internal/domain"
	"prismatic/internal/usecase"
)

func runChat(flags cliFlags) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	cfg, log, cleanup, err := setup(ctx, flags, "client")
	if err != nil {
		return err
	}
	defer cleanup()

	client := chatstream.NewClient(cfg.Client, log)
	conv := usecase.NewConversation(client, cfg.Client.URL, cfg.Client.Diagnosis, log)
	log.Debug("conversation started", "conversation", conv.ID, "url", conv.URL)

	in := newTerminalInput()
	defer in.Close()
	return chatLoop(ctx, conv, in, os.Stdout, os.Stderr)
}

// chatLoop reads one message per line until EOF or /quit. Each request
// runs under its own context so Ctrl-C abandons the reply in flight without
// ending the session.
func chatLoop(ctx context.Context, conv *usecase.Conversation, in lineReader, out, errOut io.Writer) error {
	fmt.Fprintln(out, "Type a message. /history, /reset and /quit are commands.")

	for {
		input, err := in.ReadLine("> ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line := strings.TrimSpace(input)

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			conv.Reset()
			fmt.Fprintln(out, "(history cleared)")
			continue
		case "/history":
			for _, t := range conv.History() {
				fmt.Fprintf(out, "%s: %s\n", t.Role, t.Content)
			}
			continue
		}

		reqCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		res := conv.Send(reqCtx, line, func(s string) { fmt.Fprint(out, s) })
		stop()
		fmt.Fprintln(out)
		reportFailure(errOut, res)

		if ctx.Err() != nil {
			return nil
		}
	}
}

func runAsk(flags cliFlags) error {
	if len(flags.Args) == 0 {
		return fmt.Errorf("missing message")
	}
	message := strings.Join(flags.Args, " ")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, log, cleanup, err := setup(ctx, flags, "client")
	if err != nil {
		return err
	}
	defer cleanup()

	client := chatstream.NewClient(cfg.Client, log)

	if flags.NoStream {
		conv := usecase.NewConversation(client, completeURL(cfg.Client.URL), cfg.Client.Diagnosis, log)
		text, res := conv.Ask(ctx, message)
		if !res.OK {
			return fmt.Errorf("%s", res.ErrorMessage)
		}
		fmt.Println(text)
		return nil
	}

	conv := usecase.NewConversation(client, cfg.Client.URL, cfg.Client.Diagnosis, log)
	res := conv.Send(ctx, message, func(s string) { fmt.Print(s) })
	fmt.Println()
	if !res.OK {
		return fmt.Errorf("%s", res.ErrorMessage)
	}
	return nil
}

// completeURL maps a streaming endpoint to its non-streaming sibling.
func completeURL(streamURL string) string {
	return strings.TrimSuffix(streamURL, "/") + "/complete"
}

func reportFailure(w io.Writer, res domain.RequestResult) {
	if res.OK {
		return
	}
	fmt.Fprintf(w, "error: %s\n", res.ErrorMessage)
}
