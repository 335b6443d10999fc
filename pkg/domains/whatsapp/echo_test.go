package whatsapp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wabridge/pkg/protocol"
)

func TestNormalizePhone(t *testing.T) {
	req := require.New(t)

	req.Equal("5551112233", normalizePhone("+905551112233"))
	req.Equal("5551112233", normalizePhone("905551112233@s.whatsapp.net"))
	req.Equal("5551112233", normalizePhone("0 555 111 22 33"))
	req.Equal("5551112233", normalizePhone("5551112233"))
	req.Equal("", normalizePhone("not-a-number"))
}

func TestDetectEcho_SelfFlagWinsFirst(t *testing.T) {
	req := require.New(t)

	// Every predicate would match; the chain must report the first one.
	cache := newEchoCache(10 * time.Second)
	cache.Record("905551112233@s.whatsapp.net", "hello")
	ev := &protocol.MessageEvent{
		ID:       "3EB0AABBCC",
		ChatJID:  "905551112233@s.whatsapp.net",
		IsFromMe: true,
		Text:     "hello",
	}

	req.Equal("self-flag", detectEcho(ev, "5551112233", cache))
}

func TestDetectEcho_OwnIDPrefix(t *testing.T) {
	req := require.New(t)

	ev := &protocol.MessageEvent{
		ID:      "3EB0FFEE0011",
		ChatJID: "905551112233@s.whatsapp.net",
		Text:    "hello",
	}

	req.Equal("own-id-prefix", detectEcho(ev, "", nil))
}

func TestDetectEcho_OwnPhoneToleratesCountryCode(t *testing.T) {
	req := require.New(t)

	ev := &protocol.MessageEvent{
		ID:      "ABCDEF",
		ChatJID: "905554443322@s.whatsapp.net",
		Text:    "note to self",
	}

	req.Equal("own-phone", detectEcho(ev, "+90 555 444 33 22", nil))
	// In groups the participant, not the chat, identifies the sender.
	group := &protocol.MessageEvent{
		ID:        "ABCDEF",
		ChatJID:   "12036304684@g.us",
		SenderJID: "905554443322@s.whatsapp.net",
		IsGroup:   true,
		Text:      "note",
	}
	req.Equal("own-phone", detectEcho(group, "905554443322", nil))
}

func TestDetectEcho_CacheHitConsumesEntry(t *testing.T) {
	req := require.New(t)

	cache := newEchoCache(10 * time.Second)
	cache.Record("905551112233@s.whatsapp.net", "Teklif hazır")

	ev := &protocol.MessageEvent{
		ID:      "SRV123",
		ChatJID: "905551112233@s.whatsapp.net",
		Text:    "  Teklif   hazır ",
	}

	req.Equal(echoByCache, detectEcho(ev, "905554443322", cache))
	// Consumed on first hit: an identical later message is genuine inbound.
	req.Equal("", detectEcho(ev, "905554443322", cache))
}

func TestDetectEcho_CacheMatchIsCaseExact(t *testing.T) {
	req := require.New(t)

	cache := newEchoCache(10 * time.Second)
	cache.Record("905551112233@s.whatsapp.net", "Teklif hazır")

	// A case variant is someone typing the same words, not our echo; only
	// whitespace differences fold.
	ev := &protocol.MessageEvent{
		ID:      "SRV124",
		ChatJID: "905551112233@s.whatsapp.net",
		Text:    "teklif HAZIR",
	}
	req.Equal("", detectEcho(ev, "905554443322", cache))
	req.True(cache.Consume("905551112233@s.whatsapp.net", "Teklif  hazır"))
}

func TestDetectEcho_GenuineInbound(t *testing.T) {
	req := require.New(t)

	ev := &protocol.MessageEvent{
		ID:      "SRV456",
		ChatJID: "905551112233@s.whatsapp.net",
		Text:    "Merhaba",
	}

	req.Equal("", detectEcho(ev, "905554443322", newEchoCache(10*time.Second)))
}

func TestEchoCache_Expiry(t *testing.T) {
	req := require.New(t)

	now := time.Now()
	cache := newEchoCache(10 * time.Second)
	cache.now = func() time.Time { return now }

	cache.Record("905551112233", "hello")
	now = now.Add(9 * time.Second)
	req.True(cache.Consume("905551112233", "hello"))

	cache.Record("905551112233", "hello")
	now = now.Add(11 * time.Second)
	req.False(cache.Consume("905551112233", "hello"))
}

func TestEchoCache_RecordedRegardlessOfOutcome(t *testing.T) {
	req := require.New(t)

	// Recording twice for the same pair keeps a single consumable entry.
	cache := newEchoCache(10 * time.Second)
	cache.Record("905551112233", "hello")
	cache.Record("905551112233", "hello")

	req.True(cache.Consume("905551112233", "hello"))
	req.False(cache.Consume("905551112233", "hello"))
}
