package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/legeling/xianyu-auto-reply/internal/credential"
	"github.com/legeling/xianyu-auto-reply/internal/livesession"
)

const inboundBuffer = 32

// Dialer opens live sessions against the gateway websocket endpoint.
type Dialer struct {
	wsURL  string
	apiKey string
}

var _ livesession.Dialer = (*Dialer)(nil)

func NewDialer(wsURL, apiKey string) *Dialer {
	return &Dialer{wsURL: wsURL, apiKey: apiKey}
}

// Dial returns an unconnected session; Connect does the network work.
func (d *Dialer) Dial(accountID string, cred credential.Blob) (livesession.Session, error) {
	if accountID == "" {
		return nil, errors.New("account id is required")
	}
	u, err := url.Parse(d.wsURL)
	if err != nil {
		return nil, fmt.Errorf("parsing gateway ws url: %w", err)
	}
	q := u.Query()
	q.Set("account_id", accountID)
	u.RawQuery = q.Encode()

	return &Session{
		url:       u.String(),
		apiKey:    d.apiKey,
		accountID: accountID,
		cred:      cred,
	}, nil
}

// Session is one account's websocket to the gateway.
type Session struct {
	url       string
	apiKey    string
	accountID string
	cred      credential.Blob

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

var (
	_ livesession.Session     = (*Session)(nil)
	_ livesession.ImageSender = (*Session)(nil)
)

func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return livesession.ErrClosed
	}
	s.mu.Unlock()

	header := http.Header{}
	if s.apiKey != "" {
		header.Set("Authorization", "Bearer "+s.apiKey)
	}

	conn, resp, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("dialing gateway: %w", livesession.ErrCredentialRejected)
		}
		return fmt.Errorf("dialing gateway: %w", err)
	}

	hello := frame{Type: frameHello, AccountID: s.accountID, Credential: s.cred.Raw()}
	if err := wsjson.Write(ctx, conn, hello); err != nil {
		conn.CloseNow() //nolint:errcheck
		return fmt.Errorf("sending hello: %w", err)
	}

	var reply frame
	if err := wsjson.Read(ctx, conn, &reply); err != nil {
		conn.CloseNow() //nolint:errcheck
		if websocket.CloseStatus(err) == statusCredentialRejected {
			return fmt.Errorf("reading hello reply: %w", livesession.ErrCredentialRejected)
		}
		return fmt.Errorf("reading hello reply: %w", err)
	}

	switch reply.Type {
	case frameReady:
	case frameRejected:
		conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck
		return fmt.Errorf("%s: %w", reply.Reason, livesession.ErrCredentialRejected)
	default:
		conn.CloseNow() //nolint:errcheck
		return fmt.Errorf("unexpected hello reply %q", reply.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		conn.CloseNow() //nolint:errcheck
		return livesession.ErrClosed
	}
	s.conn = conn
	return nil
}

func (s *Session) current() (*websocket.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, livesession.ErrClosed
	}
	if s.conn == nil {
		return nil, errors.New("live session not connected")
	}
	return s.conn, nil
}

// Listen reads frames until the socket drops or ctx is done. Frames other
// than inbound messages are logged and skipped.
func (s *Session) Listen(ctx context.Context) (<-chan livesession.InboundMessage, error) {
	conn, err := s.current()
	if err != nil {
		return nil, err
	}

	out := make(chan livesession.InboundMessage, inboundBuffer)
	go func() {
		defer close(out)
		for {
			var f frame
			if err := wsjson.Read(ctx, conn, &f); err != nil {
				if ctx.Err() == nil {
					slog.DebugContext(ctx, "live session read ended", "error", err, "close_status", int(websocket.CloseStatus(err)))
				}
				return
			}

			switch f.Type {
			case frameMessage:
				if f.Message == nil {
					continue
				}
				select {
				case out <- *f.Message:
				case <-ctx.Done():
					return
				}
			case frameError:
				slog.WarnContext(ctx, "gateway reported error", "reason", f.Reason)
			default:
				slog.DebugContext(ctx, "ignoring gateway frame", "type", f.Type)
			}
		}
	}()
	return out, nil
}

func (s *Session) Send(ctx context.Context, conversationID, recipientID, text string) error {
	return s.write(ctx, frame{
		Type:           frameSend,
		ConversationID: conversationID,
		RecipientID:    recipientID,
		Text:           text,
	})
}

func (s *Session) SendImage(ctx context.Context, conversationID, recipientID, imageURL string) error {
	return s.write(ctx, frame{
		Type:           frameSendImage,
		ConversationID: conversationID,
		RecipientID:    recipientID,
		ImageURL:       imageURL,
	})
}

func (s *Session) write(ctx context.Context, f frame) error {
	conn, err := s.current()
	if err != nil {
		return err
	}
	if err := wsjson.Write(ctx, conn, f); err != nil {
		return fmt.Errorf("writing %s frame: %w", f.Type, err)
	}
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		return fmt.Errorf("closing live session: %w", err)
	}
	return nil
}
