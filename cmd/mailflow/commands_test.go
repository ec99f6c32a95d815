package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatsOptionsFilter(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	f := statsOptions{Since: 2 * time.Hour, Template: "welcome", Recipient: "ada@example.com"}.filter(now)
	require.Equal(t, now.Add(-2*time.Hour), f.From)
	require.True(t, f.To.IsZero())
	require.Equal(t, "welcome", f.TemplateType)
	require.Equal(t, "ada@example.com", f.Recipient)

	require.True(t, statsOptions{}.filter(now).From.IsZero())
}
