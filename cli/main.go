// Package main provides a developer CLI for the chat gateway: issuing tokens,
// seeding users, connecting a WebSocket client and emitting message events.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/chatline/gateway/internal/auth"
	"github.com/chatline/gateway/internal/domain"
	"github.com/chatline/gateway/internal/events"
	"github.com/chatline/gateway/internal/protocol"
	"github.com/chatline/gateway/internal/repository"
	"github.com/chatline/gateway/internal/transport/rpc"
)

const usage = `Usage: chatctl <command> [flags]

Commands:
  token     Issue a bearer token for a user id
  user-add  Insert a user into the gateway database
  connect   Open a WebSocket session and chat from stdin
  emit      Publish the event of a stored message over RPC or NATS
`

func main() {
	log.SetFlags(log.Ltime)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "token":
		err = runToken(args)
	case "user-add":
		err = runUserAdd(args)
	case "connect":
		err = runConnect(args)
	case "emit":
		err = runEmit(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, flag.ErrHelp) {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userID := fs.Int64P("user", "u", 0, "User id to issue the token for")
	username := fs.String("username", "", "Optional username claim")
	secret := fs.String("secret", os.Getenv("JWT_SECRET"), "HMAC secret (defaults to $JWT_SECRET)")
	alg := fs.String("alg", "HS256", "Signing algorithm")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID <= 0 || *secret == "" {
		return errors.New("--user and --secret are required")
	}

	issuer, err := auth.NewIssuer([]byte(*secret), *alg)
	if err != nil {
		return err
	}
	token, exp, err := issuer.Issue(*userID, *username, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	log.Printf("expires at %s", exp.Format(time.RFC3339))
	return nil
}

func runUserAdd(args []string) error {
	fs := flag.NewFlagSet("user-add", flag.ContinueOnError)
	dsn := fs.String("db", envOr("DATABASE_URL", "file:chat.db?cache=shared&mode=rwc"), "SQLite DSN")
	email := fs.String("email", "", "Email address")
	first := fs.String("first-name", "", "First name")
	last := fs.String("last-name", "", "Last name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("--email is required")
	}

	store, err := repository.NewSQLiteStore(*dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	user := domain.User{FirstName: *first, LastName: *last, Email: *email}
	if err := store.CreateUser(context.Background(), &user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	fmt.Println(user.ID)
	return nil
}

func runEmit(args []string) error {
	fs := flag.NewFlagSet("emit", flag.ContinueOnError)
	dsn := fs.String("db", envOr("DATABASE_URL", "file:chat.db?cache=shared&mode=rwc"), "SQLite DSN")
	messageID := fs.Int64P("message", "m", 0, "Stored message id to emit")
	rpcAddr := fs.String("rpc", "", "Gateway JSON-RPC address, e.g. localhost:8092")
	natsURL := fs.String("nats", "", "NATS server URL")
	subject := fs.String("subject", "message.create", "NATS subject")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *messageID <= 0 {
		return errors.New("--message is required")
	}
	if (*rpcAddr == "") == (*natsURL == "") {
		return errors.New("exactly one of --rpc or --nats is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	evt, err := loadEvent(ctx, *dsn, *messageID)
	if err != nil {
		return err
	}

	var publisher events.Publisher
	if *rpcAddr != "" {
		client, err := rpc.Dial(ctx, *rpcAddr)
		if err != nil {
			return err
		}
		defer client.Close()
		publisher = publisherFunc(client.PublishMessage)
	} else {
		nc, err := events.ConnectNATS(*natsURL, "chatctl", zap.NewNop())
		if err != nil {
			return err
		}
		defer nc.Close()
		publisher = events.NewNATSPublisher(nc, *subject)
		defer nc.Flush()
	}

	if err := publisher.Publish(ctx, evt); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	log.Printf("emitted message %d of conversation %d", evt.ID, evt.Conversation.ID)
	return nil
}

type publisherFunc func(ctx context.Context, evt domain.MessageEvent) error

func (f publisherFunc) Publish(ctx context.Context, evt domain.MessageEvent) error { return f(ctx, evt) }

func loadEvent(ctx context.Context, dsn string, messageID int64) (domain.MessageEvent, error) {
	store, err := repository.NewSQLiteStore(dsn)
	if err != nil {
		return domain.MessageEvent{}, err
	}
	defer store.Close()

	msg, err := store.GetMessage(ctx, messageID)
	if err != nil {
		return domain.MessageEvent{}, err
	}
	if msg == nil {
		return domain.MessageEvent{}, fmt.Errorf("message %d not found", messageID)
	}
	conv, err := store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return domain.MessageEvent{}, err
	}
	if conv == nil {
		return domain.MessageEvent{}, fmt.Errorf("conversation %d not found", msg.ConversationID)
	}
	return domain.NewMessageEvent(*msg, *conv), nil
}

// Client is a WebSocket session against the gateway.
type Client struct {
	conn *websocket.Conn
	done chan struct{}
}

// NewClient dials addr presenting token as a bearer credential.
func NewClient(addr, token string) (*Client, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.Dial(addr, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &Client{conn: conn, done: make(chan struct{})}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	close(c.done)
	return c.conn.Close()
}

// Send writes one frame.
func (c *Client) Send(typ string, data interface{}) error {
	frame, err := protocol.Encode(typ, data)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// ReadMessages prints frames until the connection closes.
func (c *Client) ReadMessages() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					log.Printf("Closed by gateway: %d %s", ce.Code, ce.Text)
				} else {
					log.Printf("Read error: %v", err)
				}
			}
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			log.Printf("Unmarshal error: %v", err)
			continue
		}

		var pretty interface{}
		_ = json.Unmarshal(env.Data, &pretty)
		formatted, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Printf("\n[%s] Received:\n%s\n", env.Type, string(formatted))
	}
}

func runConnect(args []string) error {
	fs := flag.NewFlagSet("connect", flag.ContinueOnError)
	addr := fs.String("addr", "ws://localhost:8090/ws", "WebSocket server address")
	token := fs.StringP("token", "t", "", "Bearer token")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Printf("Connecting to %s...\n", *addr)
	client, err := NewClient(*addr, *token)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Println("Connected.")
	fmt.Println("\nCommands:")
	fmt.Println("  /msg <conversationId> <text>   post a message")
	fmt.Println("  /call <connectionId> <json>    relay a signal")
	fmt.Println("  /accept <connectionId> <json>  answer a call")
	fmt.Println("  /quit")
	fmt.Println()

	go client.ReadMessages()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Print("> ")
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			input := strings.TrimSpace(line)
			if input == "" {
				continue
			}
			if input == "/quit" {
				fmt.Println("Bye!")
				return nil
			}
			if err := client.handleInput(input); err != nil {
				log.Printf("Send error: %v", err)
			}
		}
	}
}

func (c *Client) handleInput(input string) error {
	cmd, rest, _ := strings.Cut(input, " ")
	target, payload, _ := strings.Cut(strings.TrimSpace(rest), " ")
	payload = strings.TrimSpace(payload)

	switch cmd {
	case "/msg":
		convID, err := strconv.ParseInt(target, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid conversation id %q", target)
		}
		return c.Send(protocol.TypeCreateMessage, protocol.CreateMessageData{ConversationID: convID, Content: payload})
	case "/call":
		return c.Send(protocol.TypeCallUser, protocol.CallUserData{UserToCall: target, SignalData: rawSignal(payload)})
	case "/accept":
		return c.Send(protocol.TypeAcceptCall, protocol.AcceptCallData{To: target, Signal: rawSignal(payload)})
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func rawSignal(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
