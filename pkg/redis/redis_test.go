package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpen_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("empty URL", func(t *testing.T) {
		t.Parallel()

		client, err := Open(ctx, Config{})
		require.ErrorIs(t, err, ErrEmptyConnectionURL)
		require.Nil(t, client)
	})

	t.Run("invalid scheme", func(t *testing.T) {
		t.Parallel()

		for _, url := range []string{"http://localhost:6379", "localhost:6379", "postgresql://localhost:6379"} {
			client, err := Open(ctx, Config{URL: url})
			require.ErrorIs(t, err, ErrFailedToParseURL, url)
			require.Nil(t, client)
		}
	})

	t.Run("unreachable server", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		_, err := Open(ctx, Config{
			URL:           "redis://127.0.0.1:1/0",
			RetryAttempts: 2,
			RetryInterval: 10 * time.Millisecond,
			DialTimeout:   100 * time.Millisecond,
		})
		require.ErrorIs(t, err, ErrConnectionFailed)
	})
}

func TestHealthcheck_NilClient(t *testing.T) {
	t.Parallel()

	err := Healthcheck(nil)(context.Background())
	require.True(t, errors.Is(err, ErrHealthcheckFailed))
}

func TestConfig_Enabled(t *testing.T) {
	t.Parallel()

	require.False(t, Config{}.Enabled())
	require.True(t, Config{URL: "redis://localhost:6379"}.Enabled())
}
