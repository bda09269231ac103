package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProxy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"10.0.0.1:8080", "http://10.0.0.1:8080", true},
		{" socks5://proxy:1080 ", "socks5://proxy:1080", true},
		{"https://p.example.com:443", "https://p.example.com:443", true},
		{"ftp://p:21", "", false},
		{"http://", "", false},
	}
	for _, tt := range tests {
		u, err := ParseProxy(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, u.String())
	}
}

// -----------------------------------------------------------------------------

func TestProxyPool_Rotation(t *testing.T) {
	t.Parallel()
	pp := NewProxyPool([]string{"a:1", "bad://x", "b:2", "c:3"}, "")
	now := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	pp.now = func() time.Time { return now }

	require.True(t, pp.HasProxies())
	assert.Equal(t, DefaultUserAgent, pp.GetUserAgent())
	cur, _ := pp.GetCurrentProxy()
	assert.Equal(t, "http://a:1", cur)

	pp.RotateProxy()
	cur, _ = pp.GetCurrentProxy()
	assert.Equal(t, "http://b:2", cur)

	pp.RotateProxy()
	pp.RotateProxy()
	cur, _ = pp.GetCurrentProxy()
	assert.Equal(t, "http://a:1", cur, "every proxy benched: the earliest cooldown wins")

	now = now.Add(2 * time.Minute)
	pp.RotateProxy()
	cur, _ = pp.GetCurrentProxy()
	assert.Equal(t, "http://b:2", cur, "cooldown over")
}

func TestProxyPool_Empty(t *testing.T) {
	t.Parallel()
	pp := NewProxyPool(nil, "custom/1.0")
	assert.False(t, pp.HasProxies())
	pp.RotateProxy()
	cur, err := pp.GetCurrentProxy()
	require.NoError(t, err)
	assert.Empty(t, cur)
	assert.Equal(t, "custom/1.0", pp.GetUserAgent())
}

// -----------------------------------------------------------------------------

func TestRecommendedLimitMB(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 512, recommendedLimitMB(0))
	assert.Equal(t, 256, recommendedLimitMB(256))
	assert.Equal(t, 512, recommendedLimitMB(600))
	assert.Equal(t, 6144, recommendedLimitMB(8192))
	assert.Positive(t, ReadSystemResources().RecommendedLimitMB)
}
