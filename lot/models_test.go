package lot_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xraph/tally/lot"
)

func TestRemaining(t *testing.T) {
	tests := []struct {
		name                       string
		granted, consumed, revoked int64
		want                       int64
	}{
		{"untouched", 600, 0, 0, 600},
		{"partly consumed", 600, 100, 0, 500},
		{"revoked rest", 600, 100, 500, 0},
		{"over drawn clamps", 600, 500, 500, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &lot.Lot{GrantedSeconds: tt.granted, ConsumedSeconds: tt.consumed, RevokedSeconds: tt.revoked}
			assert.Equal(t, tt.want, l.Remaining())
		})
	}
}

func TestIsExpiredAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Second), now.Add(time.Second)

	assert.False(t, (&lot.Lot{}).IsExpiredAt(now), "no expiry")
	assert.True(t, (&lot.Lot{ExpiresAt: &past}).IsExpiredAt(now))
	assert.True(t, (&lot.Lot{ExpiresAt: &now}).IsExpiredAt(now), "boundary counts as expired")
	assert.False(t, (&lot.Lot{ExpiresAt: &future}).IsExpiredAt(now))
}
