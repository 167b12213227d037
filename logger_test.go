package fatstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferLogger(buf *bytes.Buffer) *Logger {
	return NewLogger(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := bufferLogger(&buf).WithFile(9)

	l.LogWrite(3, 100, 10, 4, errors.New("boom"))
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "write failed", rec["msg"])
	assert.Equal(t, "ERROR", rec["level"])
	assert.EqualValues(t, 9, rec["ino"])
	assert.EqualValues(t, 3, rec["head"])
	assert.EqualValues(t, 4, rec["written"])
	assert.Equal(t, "boom", rec["error"])

	buf.Reset()
	l.LogRead(3, 0, 42, nil)
	rec = nil
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "read completed", rec["msg"])
	assert.EqualValues(t, 42, rec["bytes"])
}

func TestEngineLogs(t *testing.T) {
	var buf bytes.Buffer
	vol, err := NewMemVolume(WithBlockSize(BlockSize512), WithBlockCount(2), WithLogger(bufferLogger(&buf)))
	require.NoError(t, err)
	f, err := vol.Create(0o644)
	require.NoError(t, err)

	_, err = f.WriteAt(make([]byte, 1500), 600)
	require.ErrorIs(t, err, ErrOutOfSpace)

	out := buf.String()
	assert.Contains(t, out, `"msg":"file created"`)
	assert.Contains(t, out, `"msg":"extending chain"`)
	assert.Contains(t, out, `"msg":"write failed"`)
	assert.Equal(t, 1, strings.Count(out, `"msg":"write failed"`))
}

func TestNoopLogger(t *testing.T) {
	l := NoopLogger()
	assert.False(t, l.Enabled(t.Context(), slog.LevelError))
	l.LogWrite(0, 0, 1, 0, errors.New("ignored"))
}
