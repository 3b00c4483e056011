// Command collabtext-agent is a headless collaboration client. It joins a
// document, keeps a local replica of its text in step with the server and,
// with --edit, appends each line read from stdin to the document.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"collabtext/internal/discovery"
	"collabtext/internal/logging"
	"collabtext/internal/protocol"
)

const discoverTimeout = 5 * time.Second

var (
	serverURL string
	docID     string
	userID    string
	userName  string
	token     string
	discover  bool
	edit      bool
	printText bool
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "collabtext-agent",
	Short: "Headless client for a collabtext document",
	Long: `collabtext-agent joins a document on a collabtext server and follows
every change to it. With --edit, lines read from stdin are appended to the
document. With --discover, the server is found over mDNS.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&serverURL, "server", "s", "ws://localhost:8081", "server websocket base URL")
	f.StringVarP(&docID, "doc", "d", "", "document id")
	f.StringVarP(&userID, "user", "u", "agent", "user id")
	f.StringVar(&userName, "name", "", "display name")
	f.StringVar(&token, "token", os.Getenv("COLLAB_TOKEN"), "bearer token for the document service")
	f.BoolVar(&discover, "discover", false, "find the server over mDNS")
	f.BoolVar(&edit, "edit", false, "append stdin lines to the document")
	f.BoolVar(&printText, "print", false, "print the document after every change")
	f.StringVar(&logLevel, "log-level", "info", "log level")
	_ = rootCmd.MarkFlagRequired("doc")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	log, err := logging.New(os.Stderr, logLevel, "console")
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	base := serverURL
	if discover {
		if base, err = discoverServer(ctx, log); err != nil {
			return err
		}
	}
	endpoint, err := documentURL(base, docID, userID, userName)
	if err != nil {
		return err
	}

	var lines <-chan string
	if edit {
		lines = readLines(ctx, bufio.NewScanner(os.Stdin))
	}

	replica := NewReplica(log)
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	err = backoff.RetryNotify(func() error {
		err := follow(ctx, endpoint, replica, lines, log)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Msg("connection lost")
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// documentURL builds the websocket endpoint for docID on the server at base.
func documentURL(base, docID, userID, name string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws/documents/" + docID
	q := url.Values{"user_id": {userID}}
	if name != "" {
		q.Set("username", name)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func discoverServer(ctx context.Context, log zerolog.Logger) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()

	found := make(chan discovery.Peer, 1)
	go func() {
		err := discovery.Browse(ctx, discovery.DefaultService, discovery.DefaultDomain, func(p discovery.Peer) {
			select {
			case found <- p:
			default:
			}
		})
		if err != nil {
			log.Warn().Err(err).Msg("mDNS browse")
		}
	}()

	select {
	case p := <-found:
		log.Info().Str("peer", p.Instance).Str("addr", p.Address()).Msg("mDNS discovered server")
		return "ws://" + p.Address(), nil
	case <-ctx.Done():
		return "", errors.New("no collabtext server found over mDNS")
	}
}

func readLines(ctx context.Context, sc *bufio.Scanner) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// follow runs one connection until it drops. Every message from the server
// is folded into replica; lines are appended to the document.
func follow(ctx context.Context, endpoint string, replica *Replica, lines <-chan string, log zerolog.Logger) error {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	defer conn.Close()
	log.Info().Str("url", endpoint).Msg("connected")

	var wmu sync.Mutex
	send := func(msg protocol.Inbound) error {
		data, err := protocol.EncodeInbound(msg)
		if err != nil {
			return err
		}
		wmu.Lock()
		defer wmu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go func() {
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					return
				}
				if err := send(replica.Append(line + "\n")); err != nil {
					log.Warn().Err(err).Msg("send edit")
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ev, err := protocol.DecodeOutbound(data)
		if err != nil {
			log.Debug().Err(err).Msg("skipping unknown event")
			continue
		}
		if replica.Apply(ev) {
			if err := send(protocol.SyncRequest{}); err != nil {
				return err
			}
		}
		if t := ev.Type(); printText && (t == protocol.TypeDocumentChange || t == protocol.TypeRecovery) {
			text, version := replica.Snapshot()
			fmt.Printf("--- v%d ---\n%s\n", version, text)
		}
	}
}
