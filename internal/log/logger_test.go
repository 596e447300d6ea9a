package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected logrus.Level
		wantErr  bool
	}{
		{"debug", logrus.DebugLevel, false},
		{"DEBUG", logrus.DebugLevel, false},
		{"info", logrus.InfoLevel, false},
		{"warn", logrus.WarnLevel, false},
		{"warning", logrus.WarnLevel, false},
		{"error", logrus.ErrorLevel, false},
		{"trace", logrus.TraceLevel, false},
		{"", logrus.InfoLevel, false},
		{"verbose", logrus.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestFormatterPattern(t *testing.T) {
	f := &formatter{pattern: "%time [%level] %field: %msg\n", time: "15:04:05"}
	entry := logrus.NewEntry(logrus.New())
	entry.Time = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	entry.Level = logrus.WarnLevel
	entry.Message = "server lost"
	entry.Data = logrus.Fields{"conn": "a -> b", "attempt": 2}

	out, err := f.Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "03:04:05 [warning] attempt=2,conn=a -> b: server lost\n", string(out))
}

func TestFormatterWithoutCaller(t *testing.T) {
	f := &formatter{pattern: "%caller %func %msg", time: time.RFC3339}
	entry := logrus.NewEntry(logrus.New())
	entry.Message = "x"

	out, err := f.Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "- - x", string(out))
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("disk full") }

func TestMultiWriter(t *testing.T) {
	var a, b bytes.Buffer
	w := NewMultiWriter().Add(&a).Add(failingWriter{}).Add(&b)

	n, err := w.Write([]byte("hello"))
	assert.Equal(t, 5, n)
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, "hello", a.String())
	assert.Equal(t, "hello", b.String())
}

func TestNewLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resmeter.log")
	l, err := newLogger(Config{
		Level:   "debug",
		Pattern: "[%level] %msg",
		File:    FileAppenderOpt{Filename: path, MaxSize: 1},
	})
	require.NoError(t, err)
	assert.True(t, l.IsDebugEnabled())
	assert.False(t, l.IsTraceEnabled())

	l.WithField("uid", 42).Debug("player appeared")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "[debug] player appeared\n"))
}

func TestNewLoggerInvalidLevel(t *testing.T) {
	_, err := newLogger(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestGetLoggerBeforeInit(t *testing.T) {
	assert.NotNil(t, GetLogger())
	assert.True(t, GetLogger().IsInfoEnabled())
}

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { _ = SetLevel("info") })

	require.NoError(t, SetLevel("debug"))
	assert.True(t, GetLogger().IsDebugEnabled())
	require.NoError(t, SetLevel("warn"))
	assert.False(t, GetLogger().IsInfoEnabled())
	assert.Error(t, SetLevel("loud"))
}
