package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer guards a bytes.Buffer for concurrent readers in tests.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func capture(t *testing.T, level string) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	prev := GetLevel()
	SetOutput(buf)
	SetLevel(level)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		currentLevel.Store(int32(prev))
	})
	return buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warn", LevelWarn},
		{"WARNING", LevelWarn},
		{"error", LevelError},
		{"FATAL", LevelFatal},
		{"none", LevelNone},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, "WARN")

	Debug("debug line")
	Info("info line")
	Warn("warn line %d", 1)
	Error("error line %s", "x")

	out := buf.String()
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "warn line 1")
	assert.Contains(t, out, "error line x")
}

func TestFatalDoesNotExit(t *testing.T) {
	buf := capture(t, "INFO")

	Fatal("cannot bind %d", 8000)

	out := buf.String()
	assert.Contains(t, out, "cannot bind 8000")
	assert.Contains(t, out, "level=fatal")
}

func TestCallerLocation(t *testing.T) {
	buf := capture(t, "DEBUG")

	Info("where am I")

	assert.Contains(t, buf.String(), "caller=\"logger_test.go:")
}

func TestTaggedEvents(t *testing.T) {
	t.Run("EmittedAboveInfo", func(t *testing.T) {
		buf := capture(t, "ERROR")

		Create("listener up")
		Destroy("listener down")
		Send("sent %d bytes", 5)
		Recv("got %d bytes", 5)
		Auth("guest")

		out := buf.String()
		for _, tag := range []Tag{TagCreate, TagDestroy, TagSend, TagRecv, TagAuth} {
			assert.Contains(t, out, fmt.Sprintf("event=%q", string(tag)))
		}
		assert.Contains(t, out, "sent 5 bytes")
	})

	t.Run("SilencedByNone", func(t *testing.T) {
		buf := capture(t, "NONE")

		Create("listener up")
		Error("boom")

		assert.Empty(t, buf.String())
	})
}

func TestConcurrentLinesDoNotInterleave(t *testing.T) {
	buf := capture(t, "INFO")

	const writers = 20
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				Info("writer=%d seq=%d payload=%s", id, i, strings.Repeat("x", 64))
			}
		}(w)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, writers*perWriter)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "time="), "malformed line: %q", line)
		assert.Equal(t, 1, strings.Count(line, "payload="), "interleaved line: %q", line)
	}
}

func TestConfigureFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "server.log")
	prev := GetLevel()

	require.NoError(t, Configure(Config{Level: "DEBUG", Format: "json", Output: path}))
	t.Cleanup(func() {
		_ = Close()
		currentLevel.Store(int32(prev))
	})

	Debug("hello %s", "file")
	Create("conn %d", 7)

	content, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "hello file", first["msg"])
	assert.Equal(t, "debug", first["level"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "[+]", second["event"])
}

func TestConfigureWhileLogging(t *testing.T) {
	dir := t.TempDir()
	prev := GetLevel()
	t.Cleanup(func() {
		_ = Close()
		currentLevel.Store(int32(prev))
	})

	const writers = 8
	const perWriter = 200
	const swaps = 10

	require.NoError(t, Configure(Config{Level: "INFO", Output: filepath.Join(dir, "0.log")}))

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				Info("writer=%d seq=%d", id, i)
			}
		}(w)
	}
	for i := 1; i <= swaps; i++ {
		require.NoError(t, Configure(Config{Level: "INFO", Output: filepath.Join(dir, fmt.Sprintf("%d.log", i))}))
	}
	wg.Wait()
	require.NoError(t, Close())

	// Every line lands in one of the files, none on a closed writer.
	total := 0
	for i := 0; i <= swaps; i++ {
		content, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("%d.log", i)))
		require.NoError(t, err)
		total += strings.Count(string(content), "writer=")
	}
	assert.Equal(t, writers*perWriter, total)
}
