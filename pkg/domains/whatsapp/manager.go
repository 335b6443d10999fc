package whatsapp

import (
	"context"
	"sync"
	"time"

	"github.com/wabridge/pkg/blob"
	"github.com/wabridge/pkg/constant"
	"github.com/wabridge/pkg/protocol"
	"go.uber.org/zap"
)

// DriverFactory builds one protocol driver from stored credentials.
type DriverFactory func(creds protocol.Credentials) (protocol.Driver, error)

// Manager owns every live tenant session. All registry mutations go through
// its mutex, which is what guarantees the at-most-one-driver-per-tenant
// invariant under concurrent Start/Stop calls.
type Manager struct {
	mu       sync.Mutex
	sessions map[uint]*Session

	repo    Repository
	creds   CredentialProvider
	media   *mediaPipeline
	factory DriverFactory

	connectTimeout time.Duration
	baseDelay      time.Duration
	maxDelay       time.Duration
	maxAttempts    int
	echoTTL        time.Duration
}

// Policy carries configured overrides of the session lifecycle timing.
// Zero valued fields keep the built-in defaults.
type Policy struct {
	ConnectTimeout       time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int
	EchoCacheTTL         time.Duration
}

func NewManager(repo Repository, creds CredentialProvider, store *blob.Store, factory DriverFactory) *Manager {
	return &Manager{
		sessions:       make(map[uint]*Session),
		repo:           repo,
		creds:          creds,
		media:          newMediaPipeline(store),
		factory:        factory,
		connectTimeout: constant.ConnectTimeout,
		baseDelay:      constant.ReconnectBaseDelay,
		maxDelay:       constant.ReconnectMaxDelay,
		maxAttempts:    constant.ReconnectMaxAttempts,
		echoTTL:        constant.EchoCacheTTL,
	}
}

// ApplyPolicy installs configured overrides. Call before any session
// starts; the echo TTL only affects sessions created afterwards.
func (m *Manager) ApplyPolicy(p Policy) {
	if p.ConnectTimeout > 0 {
		m.connectTimeout = p.ConnectTimeout
	}
	if p.ReconnectBaseDelay > 0 {
		m.baseDelay = p.ReconnectBaseDelay
	}
	if p.ReconnectMaxDelay > 0 {
		m.maxDelay = p.ReconnectMaxDelay
	}
	if p.ReconnectMaxAttempts > 0 {
		m.maxAttempts = p.ReconnectMaxAttempts
	}
	if p.EchoCacheTTL > 0 {
		m.echoTTL = p.EchoCacheTTL
	}
}

// Start opens (or resumes) the session for a tenant. Idempotent: when a live
// instance already exists, concurrent and repeated calls collapse onto it
// without creating a second driver.
func (m *Manager) Start(ctx context.Context, tenantID uint) error {
	m.mu.Lock()
	if _, exists := m.sessions[tenantID]; exists {
		m.mu.Unlock()
		return nil
	}
	session := &Session{
		tenantID: tenantID,
		mgr:      m,
		state:    constant.SessionIdle,
		echo:     newEchoCache(m.echoTTL),
	}
	m.sessions[tenantID] = session
	m.mu.Unlock()

	if err := session.open(ctx); err != nil {
		m.remove(tenantID, session)
		return err
	}
	return nil
}

// Stop tears a session down intentionally: graceful logout, credential
// purge, owned-group release, reconnect suppression. Idempotent.
func (m *Manager) Stop(ctx context.Context, tenantID uint) error {
	m.mu.Lock()
	session, exists := m.sessions[tenantID]
	if exists {
		delete(m.sessions, tenantID)
	}
	m.mu.Unlock()
	if !exists {
		return nil
	}
	return session.shutdown(ctx)
}

// Session returns the live session for a tenant, or nil.
func (m *Manager) Session(tenantID uint) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[tenantID]
}

// ConnectedSessions snapshots every live session currently connected, for
// best-effort dispatch scans.
func (m *Manager) ConnectedSessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.IsConnected() {
			out = append(out, s)
		}
	}
	return out
}

// Resume starts a session for every tenant with stored credentials. Called
// once at boot so paired tenants come back without a new pairing.
func (m *Manager) Resume(ctx context.Context) {
	tenants, err := m.creds.Tenants(ctx)
	if err != nil {
		zap.L().Error("whatsapp: failed to list stored tenants for resume", zap.Error(err))
		return
	}
	for _, tenantID := range tenants {
		if err := m.Start(ctx, tenantID); err != nil {
			zap.L().Warn("whatsapp: failed to resume session", zap.Uint("tenant_id", tenantID), zap.Error(err))
		}
	}
	if len(tenants) > 0 {
		zap.L().Info("whatsapp: resumed stored sessions", zap.Int("count", len(tenants)))
	}
}

// remove drops a session from the registry only if it is still the
// registered instance; a replacement created in the meantime stays.
func (m *Manager) remove(tenantID uint, session *Session) {
	m.mu.Lock()
	if current, exists := m.sessions[tenantID]; exists && current == session {
		delete(m.sessions, tenantID)
	}
	m.mu.Unlock()
}

// backoffDelay doubles from base per attempt, capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
