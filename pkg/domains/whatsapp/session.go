package whatsapp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wabridge/pkg/constant"
	"github.com/wabridge/pkg/protocol"
	"go.uber.org/zap"
)

// Session is the per-tenant connection state machine. Transitions are driven
// by driver events and always written through to the database, so API reads
// never depend on this process staying up.
type Session struct {
	tenantID uint
	mgr      *Manager

	mu          sync.Mutex
	driver      protocol.Driver
	creds       protocol.Credentials
	state       string
	qrCode      string
	phone       string
	attempts    int
	retryTimer  *time.Timer
	intentional bool
	echo        *echoCache
}

func (s *Session) TenantID() uint { return s.tenantID }

func (s *Session) Phone() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phone
}

func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) QRCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.qrCode
}

func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == constant.SessionConnected && s.driver != nil && s.driver.IsConnected()
}

func (s *Session) Driver() protocol.Driver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driver
}

// RecordEcho marks content as just-sent so the inbound pipeline can swallow
// the server's echoed copy. Recorded before the send goes out.
func (s *Session) RecordEcho(recipientJID, content string) {
	s.echo.Record(recipientJID, content)
}

// open loads or provisions credentials, builds the driver and kicks off the
// first connect. A failed first connect is transient: the reconnect loop
// takes over and open still succeeds.
func (s *Session) open(ctx context.Context) error {
	creds, err := s.mgr.creds.Load(ctx, s.tenantID)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	fresh := creds == nil
	if fresh {
		creds, err = s.mgr.creds.Provision(ctx, s.tenantID)
		if err != nil {
			return fmt.Errorf("provision credentials: %w", err)
		}
	}
	driver, err := s.mgr.factory(creds)
	if err != nil {
		return fmt.Errorf("build driver: %w", err)
	}

	s.mu.Lock()
	if s.intentional {
		// Stop raced the startup; the fresh driver must not outlive it.
		s.mu.Unlock()
		driver.Disconnect()
		return nil
	}
	s.driver = driver
	s.creds = creds
	s.state = constant.SessionIdle
	s.mu.Unlock()
	s.persistState()

	driver.AddEventHandler(s.handleEvent)

	zap.L().Info("whatsapp: starting session",
		zap.Uint("tenant_id", s.tenantID), zap.Bool("fresh_pairing", fresh))

	if err := s.connectWithTimeout(); err != nil {
		zap.L().Warn("whatsapp: initial connect failed",
			zap.Uint("tenant_id", s.tenantID), zap.Error(err))
		s.scheduleReconnect()
	}

	// Stop may also land while the socket is opening. shutdown already
	// disconnected whatever it saw; cover the connect that finished after.
	s.mu.Lock()
	stopped := s.intentional
	s.mu.Unlock()
	if stopped {
		driver.Disconnect()
	}
	return nil
}

func (s *Session) connectWithTimeout() error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.driver.Connect() }()
	select {
	case err := <-errCh:
		return err
	case <-time.After(s.mgr.connectTimeout):
		s.driver.Disconnect()
		return fmt.Errorf("connect timed out after %s", s.mgr.connectTimeout)
	}
}

func (s *Session) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *protocol.PairingEvent:
		s.mu.Lock()
		s.state = constant.SessionPairing
		s.qrCode = v.Code
		s.mu.Unlock()
		s.persistState()
	case *protocol.ConnectedEvent:
		s.mu.Lock()
		s.state = constant.SessionConnected
		s.phone = v.Phone
		s.qrCode = ""
		s.attempts = 0
		creds := s.creds
		s.mu.Unlock()
		s.persistState()
		if err := s.mgr.creds.Persist(context.Background(), creds); err != nil {
			zap.L().Warn("whatsapp: failed to persist credentials",
				zap.Uint("tenant_id", s.tenantID), zap.Error(err))
		}
		zap.L().Info("whatsapp: session connected",
			zap.Uint("tenant_id", s.tenantID), zap.String("phone", v.Phone))
		go s.mgr.syncGroups(context.Background(), s)
	case *protocol.DisconnectedEvent:
		s.handleDisconnect(v)
	case *protocol.MessageEvent:
		s.mgr.handleInbound(context.Background(), s, v)
	case *protocol.ReceiptEvent:
		s.mgr.handleReceipt(context.Background(), s, v)
	}
}

func (s *Session) handleDisconnect(evt *protocol.DisconnectedEvent) {
	s.mu.Lock()
	if s.intentional {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if evt.Terminal {
		zap.L().Warn("whatsapp: terminal disconnect, purging credentials",
			zap.Uint("tenant_id", s.tenantID), zap.String("reason", evt.Reason))
		if err := s.mgr.creds.Purge(context.Background(), s.tenantID); err != nil {
			zap.L().Error("whatsapp: credential purge failed",
				zap.Uint("tenant_id", s.tenantID), zap.Error(err))
		}
		s.mu.Lock()
		s.state = constant.SessionDisconnected
		s.qrCode = ""
		if s.retryTimer != nil {
			s.retryTimer.Stop()
			s.retryTimer = nil
		}
		driver := s.driver
		s.mu.Unlock()
		s.persistState()
		s.mgr.remove(s.tenantID, s)
		if driver != nil {
			driver.Disconnect()
		}
		return
	}

	zap.L().Info("whatsapp: transient disconnect",
		zap.Uint("tenant_id", s.tenantID), zap.String("reason", evt.Reason))
	s.scheduleReconnect()
}

func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	if s.intentional {
		s.mu.Unlock()
		return
	}
	s.attempts++
	attempt := s.attempts
	if attempt > s.mgr.maxAttempts {
		s.state = constant.SessionReconnecting
		s.mu.Unlock()
		s.persistState()
		zap.L().Error("whatsapp: reconnect attempts exhausted",
			zap.Uint("tenant_id", s.tenantID), zap.Int("attempts", attempt-1))
		return
	}
	delay := backoffDelay(attempt, s.mgr.baseDelay, s.mgr.maxDelay)
	s.state = constant.SessionReconnecting
	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}
	s.retryTimer = time.AfterFunc(delay, s.retryConnect)
	s.mu.Unlock()
	s.persistState()
	zap.L().Info("whatsapp: reconnect scheduled",
		zap.Uint("tenant_id", s.tenantID), zap.Int("attempt", attempt), zap.Duration("delay", delay))
}

func (s *Session) retryConnect() {
	s.mu.Lock()
	if s.intentional {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	if err := s.connectWithTimeout(); err != nil {
		zap.L().Warn("whatsapp: reconnect attempt failed",
			zap.Uint("tenant_id", s.tenantID), zap.Error(err))
		s.scheduleReconnect()
	}
	// Success resets the counter via the Connected event.
}

// shutdown is the intentional-stop path. Best effort on every step so a
// flaky socket cannot leave credentials behind.
func (s *Session) shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.intentional = true
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	driver := s.driver
	s.state = constant.SessionIdle
	s.qrCode = ""
	s.phone = ""
	s.mu.Unlock()

	if driver != nil {
		if err := driver.Logout(ctx); err != nil {
			zap.L().Warn("whatsapp: graceful logout failed",
				zap.Uint("tenant_id", s.tenantID), zap.Error(err))
		}
		driver.Disconnect()
	}
	if err := s.mgr.creds.Purge(ctx, s.tenantID); err != nil {
		zap.L().Error("whatsapp: credential purge failed on stop",
			zap.Uint("tenant_id", s.tenantID), zap.Error(err))
	}
	if err := s.mgr.repo.ReleaseOwnedGroups(ctx, s.tenantID); err != nil {
		zap.L().Warn("whatsapp: failed to release owned groups",
			zap.Uint("tenant_id", s.tenantID), zap.Error(err))
	}
	s.persistState()
	zap.L().Info("whatsapp: session stopped", zap.Uint("tenant_id", s.tenantID))
	return nil
}

// persistState writes the current session row through to the database. A
// failed write is logged and retried implicitly on the next transition.
func (s *Session) persistState() {
	s.mu.Lock()
	state, qr, phone := s.state, s.qrCode, s.phone
	s.mu.Unlock()
	if err := s.mgr.repo.UpsertSessionStatus(context.Background(), s.tenantID, state, qr, phone); err != nil {
		zap.L().Error("whatsapp: failed to persist session state",
			zap.Uint("tenant_id", s.tenantID), zap.String("state", state), zap.Error(err))
	}
}
