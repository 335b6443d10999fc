package whatsapp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wabridge/pkg/blob"
	"github.com/wabridge/pkg/constant"
	"github.com/wabridge/pkg/entities"
	"github.com/wabridge/pkg/protocol"
)

func testBlobStore(t *testing.T) *blob.Store {
	t.Helper()
	store, err := blob.New(t.TempDir(), "http://localhost:8000/media")
	require.NoError(t, err)
	return store
}

func TestMediaPipeline_SucceedsAfterTransientFailures(t *testing.T) {
	req := require.New(t)

	var slept []time.Duration
	pipeline := &mediaPipeline{
		store:       testBlobStore(t),
		maxAttempts: 5,
		retryDelay:  2 * time.Second,
		sleep:       func(d time.Duration) { slept = append(slept, d) },
	}

	calls := 0
	media := &protocol.MediaPayload{
		Kind:     constant.TypeImage,
		Mimetype: "image/jpeg",
		Download: func(context.Context) ([]byte, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("cdn timeout")
			}
			return []byte{0xFF, 0xD8, 0xFF, 0xE0}, nil
		},
	}

	url, err := pipeline.Fetch(context.Background(), 1, "SRV100", media)
	req.NoError(err)
	req.Contains(url, "http://localhost:8000/media/1/")
	req.Equal(3, calls)
	// Delay grows linearly between attempts.
	req.Equal([]time.Duration{2 * time.Second, 4 * time.Second}, slept)
}

func TestMediaPipeline_ExhaustsAttempts(t *testing.T) {
	req := require.New(t)

	pipeline := &mediaPipeline{
		store:       testBlobStore(t),
		maxAttempts: 5,
		retryDelay:  time.Millisecond,
		sleep:       func(time.Duration) {},
	}

	calls := 0
	media := &protocol.MediaPayload{
		Kind:     constant.TypeDocument,
		Mimetype: "application/pdf",
		Download: func(context.Context) ([]byte, error) {
			calls++
			return nil, errors.New("expired media key")
		},
	}

	_, err := pipeline.Fetch(context.Background(), 1, "SRV101", media)
	req.Error(err)
	req.Equal(5, calls)
}

func TestPersistWithMedia_DegradesToPlaceholder(t *testing.T) {
	req := require.New(t)
	h := newTestHarness()
	h.mgr.media = &mediaPipeline{
		store:       testBlobStore(t),
		maxAttempts: 2,
		retryDelay:  time.Millisecond,
		sleep:       func(time.Duration) {},
	}
	session := h.connect(1)

	row := &entities.WhatsAppMessage{
		TenantID:    1,
		MessageID:   "SRV102",
		ChatJID:     "905551112233@s.whatsapp.net",
		Direction:   constant.DirectionInbound,
		MessageType: constant.TypeImage,
		Status:      constant.StatusReceived,
	}
	media := &protocol.MediaPayload{
		Kind:     constant.TypeImage,
		Mimetype: "image/jpeg",
		Download: func(context.Context) ([]byte, error) {
			return nil, errors.New("gone")
		},
	}

	h.mgr.persistWithMedia(context.Background(), session, row, media)

	rows := h.repo.messagesFor(1)
	req.Len(rows, 1)
	req.Equal(constant.TypeText, rows[0].MessageType)
	req.Contains(rows[0].Content, "media unavailable")
	req.Empty(rows[0].MediaURL)
}

func TestPersistWithMedia_KeepsCaptionOnFailure(t *testing.T) {
	req := require.New(t)
	h := newTestHarness()
	h.mgr.media = &mediaPipeline{
		store:       testBlobStore(t),
		maxAttempts: 1,
		retryDelay:  time.Millisecond,
		sleep:       func(time.Duration) {},
	}
	session := h.connect(1)

	row := &entities.WhatsAppMessage{
		TenantID:    1,
		MessageID:   "SRV103",
		Direction:   constant.DirectionInbound,
		MessageType: constant.TypeImage,
		Content:     "fatura ektedir",
		Status:      constant.StatusReceived,
	}
	media := &protocol.MediaPayload{
		Kind:     constant.TypeImage,
		Mimetype: "image/jpeg",
		Download: func(context.Context) ([]byte, error) {
			return nil, errors.New("gone")
		},
	}

	h.mgr.persistWithMedia(context.Background(), session, row, media)

	rows := h.repo.messagesFor(1)
	req.Len(rows, 1)
	req.Equal("fatura ektedir", rows[0].Content)
}

func TestPersistWithMedia_StoresURLOnSuccess(t *testing.T) {
	req := require.New(t)
	h := newTestHarness()
	h.mgr.media = &mediaPipeline{
		store:       testBlobStore(t),
		maxAttempts: 5,
		retryDelay:  time.Millisecond,
		sleep:       func(time.Duration) {},
	}
	session := h.connect(1)

	row := &entities.WhatsAppMessage{
		TenantID:    1,
		MessageID:   "SRV104",
		Direction:   constant.DirectionInbound,
		MessageType: constant.TypeImage,
		Status:      constant.StatusReceived,
	}
	media := &protocol.MediaPayload{
		Kind:     constant.TypeImage,
		Mimetype: "image/jpeg",
		Download: func(context.Context) ([]byte, error) {
			return []byte{0xFF, 0xD8, 0xFF, 0xE0}, nil
		},
	}

	h.mgr.persistWithMedia(context.Background(), session, row, media)

	rows := h.repo.messagesFor(1)
	req.Len(rows, 1)
	req.Equal(constant.TypeImage, rows[0].MessageType)
	req.NotEmpty(rows[0].MediaURL)
}
