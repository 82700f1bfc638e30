package chat

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// dayBoundaryHour is when a new log day starts; conversations after
// midnight but before 3 AM belong to the previous day.
const dayBoundaryHour = 3

// LogDate returns the log day for t.
func LogDate(t time.Time) string {
	if t.Hour() < dayBoundaryHour {
		t = t.AddDate(0, 0, -1)
	}
	return t.Format("2006-01-02")
}

// DialogEntry is one line of the dialog log.
type DialogEntry struct {
	Time      time.Time  `json:"time"`
	RequestID string     `json:"request_id,omitempty"`
	Model     string     `json:"model,omitempty"`
	Messages  []Message  `json:"messages"`
	Response  string     `json:"response,omitempty"`
	Error     string     `json:"error,omitempty"`
	DebugInfo *DebugInfo `json:"debug_info,omitempty"`
}

// DialogLog appends JSON lines to <dir>/<YYYY-MM-DD>.jsonl.
type DialogLog struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// NewDialogLog creates a log under dir. An empty dir disables logging.
func NewDialogLog(dir string) *DialogLog {
	return &DialogLog{dir: dir, now: time.Now}
}

// Append writes one entry, stamping its time when unset.
func (l *DialogLog) Append(entry DialogEntry) error {
	if l == nil || l.dir == "" {
		return nil
	}
	if entry.Time.IsZero() {
		entry.Time = l.now()
	}
	// Image payloads are large and already on the client side.
	msgs := make([]Message, len(entry.Messages))
	for i, m := range entry.Messages {
		msgs[i] = Message{Role: m.Role, Content: m.Content}
		if n := len(m.Images); n > 0 {
			msgs[i].Images = []string{fmt.Sprintf("<%d image(s) omitted>", n)}
		}
	}
	entry.Messages = msgs

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode dialog entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create dialog log dir: %w", err)
	}
	path := filepath.Join(l.dir, LogDate(entry.Time)+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open dialog log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write dialog log: %w", err)
	}
	return f.Close()
}

// Today renders the current log day as "role: content" lines, one user turn
// and its reply per entry, keeping the last limit runes. Failed calls are
// skipped. A missing file yields "".
func (l *DialogLog) Today(limit int) (string, error) {
	if l == nil || l.dir == "" || limit <= 0 {
		return "", nil
	}
	path := filepath.Join(l.dir, LogDate(l.now())+".jsonl")

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open dialog log: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		var e DialogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return "", fmt.Errorf("decode dialog entry: %w", err)
		}
		if e.Error != "" || len(e.Messages) == 0 {
			continue
		}
		last := e.Messages[len(e.Messages)-1]
		lines = append(lines, last.Role+": "+last.Content, "assistant: "+e.Response)
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read dialog log: %w", err)
	}

	runes := []rune(strings.Join(lines, "\n"))
	if len(runes) > limit {
		runes = runes[len(runes)-limit:]
	}
	return string(runes), nil
}
