package whatsapp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wabridge/pkg/blob"
	"github.com/wabridge/pkg/constant"
	"github.com/wabridge/pkg/protocol"
	"go.uber.org/zap"
)

// mediaPipeline downloads attachments with bounded retry and uploads them to
// blob storage. A failed attachment never aborts message processing; the
// caller degrades the message to a text placeholder instead.
type mediaPipeline struct {
	store       *blob.Store
	maxAttempts int
	retryDelay  time.Duration
	sleep       func(time.Duration)
}

func newMediaPipeline(store *blob.Store) *mediaPipeline {
	return &mediaPipeline{
		store:       store,
		maxAttempts: constant.MediaMaxAttempts,
		retryDelay:  constant.MediaRetryDelay,
		sleep:       time.Sleep,
	}
}

// Fetch downloads the payload and stores it under a per-message unique path,
// returning the durable URL. Delay between attempts grows linearly.
func (m *mediaPipeline) Fetch(ctx context.Context, tenantID uint, messageID string, media *protocol.MediaPayload) (string, error) {
	var data []byte
	var err error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		data, err = media.Download(ctx)
		if err == nil {
			break
		}
		zap.L().Warn("whatsapp: media download attempt failed",
			zap.Uint("tenant_id", tenantID),
			zap.String("message_id", messageID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < m.maxAttempts {
			m.sleep(time.Duration(attempt) * m.retryDelay)
		}
	}
	if err != nil {
		return "", fmt.Errorf("media download exhausted %d attempts: %w", m.maxAttempts, err)
	}

	path := fmt.Sprintf("%d/%s-%s", tenantID, sanitizeID(messageID), uuid.NewString())
	url, err := m.store.Put(path, media.Mimetype, data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", constant.MEDIA_UPLOAD_FAILED, err)
	}
	return url, nil
}

func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
