package client

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tutorhall/backend/internal/models"
)

const (
	reconnectMinBackoff = time.Second
	reconnectMaxBackoff = 30 * time.Second
)

type pushEnvelope struct {
	Type         string                    `json:"type"`
	Notification *models.NotificationEvent `json:"notification,omitempty"`
}

// PushConn maintains the push channel: it dials the notification endpoint
// with the tab's credential, decodes notification envelopes and redials
// with backoff when the connection drops. Every (re)connect fires the
// OnConnect hook so the owner can issue a catch-up poll for anything missed
// while disconnected.
type PushConn struct {
	wsURL     string
	store     *Store
	onEvent   func(models.NotificationEvent)
	onConnect func()
	logger    *zap.Logger
}

// NewPushConn creates a push connection. wsURL is the websocket endpoint,
// e.g. "wss://api.tutorhall.dev/ws".
func NewPushConn(wsURL string, store *Store, logger *zap.Logger) *PushConn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PushConn{wsURL: wsURL, store: store, logger: logger}
}

// OnEvent registers the notification callback.
func (p *PushConn) OnEvent(fn func(models.NotificationEvent)) { p.onEvent = fn }

// OnConnect registers the (re)connect hook.
func (p *PushConn) OnConnect(fn func()) { p.onConnect = fn }

func (p *PushConn) dialURL() (string, error) {
	cred := p.store.Credential()
	if cred.Token == "" {
		return "", fmt.Errorf("no credential in tab store")
	}
	u, err := url.Parse(p.wsURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", cred.Token)
	q.Set("tab", p.store.TabID())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run dials and reads until ctx is cancelled, reconnecting with backoff.
func (p *PushConn) Run(ctx context.Context) {
	backoff := reconnectMinBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		target, err := p.dialURL()
		if err != nil {
			p.logger.Warn("push dial skipped", zap.Error(err))
			if !sleepCtx(ctx, backoff) {
				return
			}
			continue
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
		if err != nil {
			p.logger.Warn("push dial failed", zap.Error(err))
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = minDuration(backoff*2, reconnectMaxBackoff)
			continue
		}
		backoff = reconnectMinBackoff
		p.logger.Debug("push channel connected")
		if p.onConnect != nil {
			p.onConnect()
		}

		p.readLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		p.logger.Debug("push channel dropped, reconnecting")
	}
}

func (p *PushConn) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var env pushEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		if env.Type != "notification" || env.Notification == nil {
			continue
		}
		if p.onEvent != nil {
			p.onEvent(*env.Notification)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
