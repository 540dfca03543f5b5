// Command relaychat is a line-oriented terminal client for the text relay.
// Each line read from stdin is sent as "<identity>|<line>"; every line the
// relay delivers is printed to stdout.
//
//	relaychat --identity alice
//	relaychat --identity bob --url ws://relay.example.com/ws
//
// Type "@alice hello" to send to alice only.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v3"
)

const closeWait = time.Second

func main() {
	cmd := &cli.Command{
		Name:  "relaychat",
		Usage: "Chat through a text relay server from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Value:   "ws://localhost:8080/ws",
				Usage:   "Relay WebSocket URL",
				Sources: cli.EnvVars("RELAY_URL"),
			},
			&cli.StringFlag{
				Name:     "identity",
				Aliases:  []string{"i"},
				Usage:    "Identity to register with the relay",
				Required: true,
				Sources:  cli.EnvVars("RELAY_IDENTITY"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
			defer stop()
			return chat(ctx, cmd.String("url"), cmd.String("identity"), os.Stdin, os.Stdout)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// dialURL returns rawURL with the identity query parameter set.
func dialURL(rawURL, identity string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid relay URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	q := u.Query()
	q.Set("identity", identity)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func formatOutbound(identity, line string) string {
	return identity + "|" + line
}

// chat relays lines between in/out and the server until in is exhausted, ctx
// is cancelled or the server closes the connection.
func chat(ctx context.Context, rawURL, identity string, in io.Reader, out io.Writer) error {
	if strings.Contains(identity, "|") {
		return errors.New("identity cannot contain '|'")
	}

	target, err := dialURL(rawURL, identity)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			fmt.Fprintln(out, string(data))
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return closeGracefully(conn, readErr)

		case err := <-readErr:
			return serverClosed(err, out)

		case line, ok := <-lines:
			if !ok {
				return closeGracefully(conn, readErr)
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(formatOutbound(identity, line))); err != nil {
				return fmt.Errorf("send failed: %w", err)
			}
		}
	}
}

// closeGracefully sends a close frame and waits briefly for the server's reply.
func closeGracefully(conn *websocket.Conn, readErr <-chan error) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait)); err != nil {
		return nil
	}
	select {
	case <-readErr:
	case <-time.After(closeWait):
	}
	return nil
}

func serverClosed(err error, out io.Writer) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Text != "" {
			fmt.Fprintf(out, "connection closed: %s\n", closeErr.Text)
		}
		if closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway {
			return nil
		}
	}
	return fmt.Errorf("connection lost: %w", err)
}
