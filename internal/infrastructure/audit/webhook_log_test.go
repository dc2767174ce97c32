package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookLog_Save(t *testing.T) {
	dir := t.TempDir()
	l := NewWebhookLog(dir)
	l.now = func() time.Time { return time.Date(2023, time.November, 14, 22, 13, 20, 0, time.UTC) }

	first, err := l.Save([]byte(`{"txRef":"alto-1"}`))
	require.NoError(t, err)
	second, err := l.Save([]byte(`{"txRef":"alto-1"}`))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, filepath.Join(dir, "14-11-2023"), filepath.Dir(first))
	assert.True(t, strings.HasPrefix(filepath.Base(first), "22-13-20-"))

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.JSONEq(t, `{"txRef":"alto-1"}`, string(data))
}

func TestWebhookLog_SaveFailsOnUnwritableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	_, err := NewWebhookLog(file).Save([]byte(`{}`))
	assert.Error(t, err)
}
