// Package main provides a CI-friendly WebSocket smoke test for a running courier server.
//
// It validates:
//   - handshake + subprotocol selection
//   - online_list seeding and user_online fanout
//   - send_message -> ack, message_sent to the sender, new_message (delivered) to the receiver
//   - mark_seen -> messages_seen to the sender
//   - user_offline when a session closes
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"courier/cmd/identity/ids"
	v1 "courier/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name   string
	userID string
	conn   *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		secret  = flag.String("secret", os.Getenv("COURIER_JWT_SECRET"), "HS256 secret shared with the server")
		issuer  = flag.String("issuer", "courier", "credential issuer")
		text    = flag.String("text", "hello courier 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	if len(*secret) < 32 {
		fatalf("credentials: secret must be at least 32 bytes (set -secret or COURIER_JWT_SECRET)")
	}
	mint := credentialMinter([]byte(*secret), *issuer)

	root := context.Background()

	a := mustConnect(root, mint, "A", *wsURL, *origin, *timeout)
	defer closeWS(a.conn)
	mustReadOnlineList(root, a, *timeout)

	b := mustConnect(root, mint, "B", *wsURL, *origin, *timeout)
	defer closeWS(b.conn)
	if others := mustReadOnlineList(root, b, *timeout); !slices.Contains(others, a.userID) {
		fatalf("online_list for B missing A: %v", others)
	}
	mustAssertPeer(root, a, v1.TypeUserOnline, b.userID, *timeout)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.userID, b.userID, *origin)
	}

	msgID := mustSendAndAssertAck(root, a, b.userID, *text, *timeout)
	mustAssertNew(root, b, msgID, a.userID, *text, *timeout)

	mustMarkSeen(root, b, a.userID, msgID, *timeout)
	mustAssertSeen(root, a, msgID, b.userID, *timeout)

	closeWS(b.conn)
	mustAssertPeer(root, a, v1.TypeUserOffline, b.userID, *timeout)

	fmt.Printf("OK: A=%s B=%s message=%s\n", a.userID, b.userID, msgID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

// credentialMinter signs HS256 credentials the way the server's resolver expects them.
func credentialMinter(secret []byte, issuer string) func(userID, name string, now time.Time) (string, error) {
	return func(userID, name string, now time.Time) (string, error) {
		claims := jwt.MapClaims{
			"id":   userID,
			"name": name,
			"iss":  issuer,
			"sub":  userID,
			"iat":  now.Unix(),
			"exp":  now.Add(5 * time.Minute).Unix(),
		}
		return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	}
}

func mustConnect(parent context.Context, mint func(userID, name string, now time.Time) (string, error), name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	now := time.Now().UTC()
	userID := ids.MustNewULID(now)
	raw, err := mint(userID, "smoke "+name, now)
	if err != nil {
		fatalf("issue credential %s: %v", name, err)
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer "+raw)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:   name,
		userID: userID,
		conn:   conn,
		inbox:  make(chan v1.Envelope, 512),
		errCh:  make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustReadOnlineList(parent context.Context, c *smokeClient, stepTimeout time.Duration) []string {
	env := c.mustReadUntilType(parent, v1.TypeOnlineList, stepTimeout, nil)

	var p v1.OnlineListPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal online_list payload (%s): %v", c.name, err)
	}
	if slices.Contains(p.UserIDs, c.userID) {
		fatalf("online_list includes the recipient itself (%s)", c.name)
	}
	return p.UserIDs
}

func mustAssertPeer(parent context.Context, c *smokeClient, typ, peerID string, stepTimeout time.Duration) {
	skip := map[string]struct{}{v1.TypeUserOnline: {}, v1.TypeUserOffline: {}}
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		env := c.mustReadUntilType(ctx, typ, stepTimeout, skip)

		var p v1.UserOfflinePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal %s payload (%s): %v", typ, c.name, err)
		}
		if p.UserID == peerID {
			return
		}
	}
}

func mustSendAndAssertAck(parent context.Context, c *smokeClient, receiverID, text string, stepTimeout time.Duration) string {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeSendMessage,
		ID:      fmt.Sprintf("%s-send-%d", c.name, time.Now().UnixNano()),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.SendMessagePayload{ReceiverID: receiverID, Content: text}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	skip := map[string]struct{}{v1.TypeMessageSent: {}, v1.TypeUserOnline: {}, v1.TypeUserOffline: {}}
	ack := c.mustReadUntilType(parent, v1.TypeAck, stepTimeout, skip)
	if ack.ReplyTo != env.ID {
		fatalf("ack reply_to mismatch (%s): got=%q want=%q", c.name, ack.ReplyTo, env.ID)
	}

	var p v1.SendMessageAck
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal ack payload (%s): %v", c.name, err)
	}
	if !p.Success || p.Message == nil {
		fatalf("send failed (%s): %q", c.name, p.Error)
	}
	if p.Message.ReceiverID != receiverID || p.Message.Content != text {
		fatalf("ack message mismatch (%s): %+v", c.name, *p.Message)
	}
	return p.Message.ID
}

func mustAssertNew(parent context.Context, c *smokeClient, msgID, senderID, text string, stepTimeout time.Duration) {
	skip := map[string]struct{}{v1.TypeUserOnline: {}, v1.TypeUserOffline: {}}
	env := c.mustReadUntilType(parent, v1.TypeNewMessage, stepTimeout, skip)

	var p v1.MessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal new_message payload (%s): %v", c.name, err)
	}
	if p.ID != msgID {
		fatalf("new_message id mismatch (%s): got=%q want=%q", c.name, p.ID, msgID)
	}
	if p.SenderID != senderID {
		fatalf("new_message sender mismatch (%s): got=%q want=%q", c.name, p.SenderID, senderID)
	}
	if p.Content != text {
		fatalf("new_message content mismatch (%s): got=%q want=%q", c.name, p.Content, text)
	}
	if p.Status != v1.StatusDelivered {
		fatalf("new_message status (%s): got=%q want=%q", c.name, p.Status, v1.StatusDelivered)
	}
	if p.CreatedAt.IsZero() {
		fatalf("new_message createdAt missing/zero (%s)", c.name)
	}
}

func mustMarkSeen(parent context.Context, c *smokeClient, senderID, msgID string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeMarkSeen,
		ID:      fmt.Sprintf("%s-seen", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.MarkSeenPayload{MessageIDs: []string{msgID}, SenderID: senderID}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
}

func mustAssertSeen(parent context.Context, c *smokeClient, msgID, readerID string, stepTimeout time.Duration) {
	skip := map[string]struct{}{v1.TypeMessageSent: {}, v1.TypeUserOnline: {}, v1.TypeUserOffline: {}}
	env := c.mustReadUntilType(parent, v1.TypeMessagesSeen, stepTimeout, skip)

	var p v1.MessagesSeenPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal messages_seen payload (%s): %v", c.name, err)
	}
	if p.SeenBy != readerID {
		fatalf("messages_seen seenBy mismatch (%s): got=%q want=%q", c.name, p.SeenBy, readerID)
	}
	if !slices.Contains(p.MessageIDs, msgID) {
		fatalf("messages_seen missing %s (%s): %v", msgID, c.name, p.MessageIDs)
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
