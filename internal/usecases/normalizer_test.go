package usecases

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wa_automation/internal/entities"
)

func TestNormalizeNumber(t *testing.T) {
	tests := map[string]string{
		"+62 812-3456":                "628123456",
		"628123456@s.whatsapp.net":    "628123456",
		"628123456:12@s.whatsapp.net": "628123456",
		" (021) 555-0100 ":            "0215550100",
		"+1.415.555.0100":             "14155550100",
		"":                            "",
		"ABCdef":                      "abcdef",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeNumber(in), "input %q", in)
	}
}

func TestNormalize(t *testing.T) {
	n := NewNormalizer()
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("WIB", 7*3600))

	msg, err := n.Normalize(entities.InboundEvent{
		ConnectionID: "conn-1",
		From:         "+62 812-3456",
		To:           "628999@s.whatsapp.net",
		Body:         "  Hello WORLD  ",
		ReceivedAt:   fixed,
	})
	require.NoError(t, err)
	assert.Equal(t, "conn-1", msg.ConnectionID)
	assert.Equal(t, "628123456", msg.Sender)
	assert.Equal(t, "628999", msg.Recipient)
	assert.Equal(t, "Hello WORLD", msg.Body)
	assert.Equal(t, "hello world", msg.MatchText)
	assert.Equal(t, entities.KindText, msg.Kind)
	assert.True(t, msg.Timestamp.Equal(fixed))
	assert.Equal(t, time.UTC, msg.Timestamp.Location())
	assert.Equal(t, uint64(1), msg.Sequence)
}

func TestNormalizeInfersKind(t *testing.T) {
	n := NewNormalizer()

	msg, err := n.Normalize(entities.InboundEvent{ConnectionID: "c", From: "1", MediaURL: "https://cdn/x.pdf"})
	require.NoError(t, err)
	assert.Equal(t, entities.KindDocument, msg.Kind)

	msg, err = n.Normalize(entities.InboundEvent{ConnectionID: "c", From: "1", Body: "caption", MediaURL: "https://cdn/x.jpg"})
	require.NoError(t, err)
	assert.Equal(t, entities.KindText, msg.Kind)

	msg, err = n.Normalize(entities.InboundEvent{ConnectionID: "c", From: "1", Kind: entities.KindImage, MediaURL: "https://cdn/x.jpg"})
	require.NoError(t, err)
	assert.Equal(t, entities.KindImage, msg.Kind)
}

func TestNormalizeRejectsInvalid(t *testing.T) {
	n := NewNormalizer()

	_, err := n.Normalize(entities.InboundEvent{From: "1", Body: "x"})
	assert.ErrorIs(t, err, entities.ErrInvalidEvent)

	_, err = n.Normalize(entities.InboundEvent{ConnectionID: "c", Body: "x"})
	assert.ErrorIs(t, err, entities.ErrInvalidEvent)

	_, err = n.Normalize(entities.InboundEvent{ConnectionID: "c", From: "1", Kind: "sticker"})
	assert.ErrorIs(t, err, entities.ErrInvalidEvent)
}

func TestNormalizeDefaultsTimestamp(t *testing.T) {
	n := NewNormalizer()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	n.now = func() time.Time { return now }

	msg, err := n.Normalize(entities.InboundEvent{ConnectionID: "c", From: "1", Body: "x"})
	require.NoError(t, err)
	assert.Equal(t, now, msg.Timestamp)
}

func TestNormalizeSequenceIsUniqueUnderConcurrency(t *testing.T) {
	n := NewNormalizer()
	const workers, each = 8, 200

	var mu sync.Mutex
	seen := make(map[uint64]bool, workers*each)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				msg, err := n.Normalize(entities.InboundEvent{ConnectionID: "c", From: "1", Body: "x"})
				if err != nil {
					continue
				}
				mu.Lock()
				seen[msg.Sequence] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*each)
	for seq := uint64(1); seq <= workers*each; seq++ {
		assert.True(t, seen[seq])
	}
}
