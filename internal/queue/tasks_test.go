package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelayLadder(t *testing.T) {
	cases := []struct {
		n    int
		want time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, time.Minute},
		{4, 10 * time.Minute},
		{5, 30 * time.Minute},
		{6, time.Hour},
		{7, 12 * time.Hour},
		// Out-of-range retry numbers clamp to the ladder ends.
		{0, 5 * time.Second},
		{8, 12 * time.Hour},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RetryDelay(tc.n, nil, nil), "retry %d", tc.n)
	}
}

func TestMaxRetriesMatchesLadder(t *testing.T) {
	assert.Equal(t, len(retryDelays), MaxRetries)
}
