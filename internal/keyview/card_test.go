package keyview

import (
	"testing"
	"time"

	"github.com/marcogenualdo/keyconsole/internal/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMask(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"sk_live_1234567890abcdef", "sk_live_....cdef"},
		{"abcdefghijklm", "abcdefgh....jklm"},
		{"abcdefghijkl", "••••••••••••"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Mask(tt.key), tt.key)
	}
}

func TestNewCardClassifiesExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(24 * time.Hour)

	card := NewCard(&backend.Credential{Key: "sk_live_1234567890abcdef", ExpiresAt: &past}, now)
	require.NotNil(t, card)
	assert.Equal(t, Expired, card.Status)
	assert.True(t, card.Expired())

	card = NewCard(&backend.Credential{Key: "sk_live_1234567890abcdef", ExpiresAt: &future}, now)
	assert.Equal(t, Active, card.Status)

	card = NewCard(&backend.Credential{Key: "sk_live_1234567890abcdef"}, now)
	assert.Equal(t, Active, card.Status)
	assert.Nil(t, card.ExpiresAt)

	assert.Nil(t, NewCard(nil, now))
	assert.Nil(t, NewCard(&backend.Credential{}, now))
}
