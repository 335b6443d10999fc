package whatsapp

import (
	"strings"
	"sync"
	"time"

	"github.com/wabridge/pkg/protocol"
)

// echoCache remembers recently sent (recipient, content) pairs so that
// protocol-level multi-device echoes of our own outbound messages are not
// mirrored back as inbound rows. Entries expire after a short TTL and are
// consumed on first match.
type echoCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

func newEchoCache(ttl time.Duration) *echoCache {
	return &echoCache{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (c *echoCache) key(recipient string, content string) string {
	return normalizePhone(recipient) + "|" + normalizeContent(content)
}

// Record is called at the moment of every outbound send, regardless of the
// send outcome.
func (c *echoCache) Record(recipient string, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	c.entries[c.key(recipient, content)] = c.now().Add(c.ttl)
}

// Consume reports whether a live entry exists for the pair and removes it.
func (c *echoCache) Consume(recipient string, content string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	key := c.key(recipient, content)
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

func (c *echoCache) sweepLocked() {
	now := c.now()
	for key, deadline := range c.entries {
		if now.After(deadline) {
			delete(c.entries, key)
		}
	}
}

// normalizePhone reduces a phone or JID to its trailing run of digits
// (at most ten), tolerating country-code prefix variance.
func normalizePhone(s string) string {
	if at := strings.IndexByte(s, '@'); at >= 0 {
		s = s[:at]
	}
	var digits []byte
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			digits = append(digits, s[i])
		}
	}
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	return string(digits)
}

// normalizeContent folds whitespace runs only. The echoed copy of an
// outbound send comes back byte-identical, so case folding would just
// widen the match (and ASCII lowering mangles non-ASCII letters anyway).
func normalizeContent(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Echo-suppression chain: ordered, first match wins, each predicate
// independently sufficient to classify an event as a reflection of our own
// outbound traffic rather than genuine inbound.
type echoPredicate struct {
	name  string
	match func(ev *protocol.MessageEvent, ownPhone string, cache *echoCache) bool
}

const echoByCache = "echo-cache"

var echoChain = []echoPredicate{
	{
		name: "self-flag",
		match: func(ev *protocol.MessageEvent, _ string, _ *echoCache) bool {
			return ev.IsFromMe
		},
	},
	{
		name: "own-id-prefix",
		match: func(ev *protocol.MessageEvent, _ string, _ *echoCache) bool {
			return strings.HasPrefix(ev.ID, protocol.OutboundIDPrefix)
		},
	},
	{
		name: "own-phone",
		match: func(ev *protocol.MessageEvent, ownPhone string, _ *echoCache) bool {
			if ownPhone == "" {
				return false
			}
			sender := ev.SenderJID
			if !ev.IsGroup {
				sender = ev.ChatJID
			}
			return normalizePhone(sender) == normalizePhone(ownPhone)
		},
	},
	{
		name: echoByCache,
		match: func(ev *protocol.MessageEvent, _ string, cache *echoCache) bool {
			return cache != nil && cache.Consume(ev.ChatJID, ev.Text)
		},
	},
}

// detectEcho runs the chain and returns the name of the first matching
// predicate, or empty when the event is genuinely inbound.
func detectEcho(ev *protocol.MessageEvent, ownPhone string, cache *echoCache) string {
	for _, p := range echoChain {
		if p.match(ev, ownPhone, cache) {
			return p.name
		}
	}
	return ""
}
