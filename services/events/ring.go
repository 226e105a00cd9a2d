package events

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Entry is one recorded log event
type Entry struct {
	Time      time.Time              `json:"time"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Sink receives zerolog JSON lines and keeps them for inspection
type Sink interface {
	Write(p []byte) (int, error)
	Recent(n int) []Entry
}

// Ring is a bounded in-memory Sink. Oldest entries are overwritten first.
type Ring struct {
	mu   sync.Mutex
	buf  []Entry
	next int
	full bool
}

// DefaultSize is used when a non-positive size is requested
const DefaultSize = 500

// NewRing creates a ring buffer holding at most size entries
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultSize
	}
	return &Ring{buf: make([]Entry, size)}
}

// Write implements io.Writer so the ring can sit behind a zerolog logger.
// Lines that are not JSON objects are kept verbatim as the message.
func (r *Ring) Write(p []byte) (int, error) {
	r.add(parseEntry(p))
	return len(p), nil
}

// Recent returns up to n entries, oldest first. n <= 0 returns everything held.
func (r *Ring) Recent(n int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.buf)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]Entry, 0, n)
	start := r.next - n
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Len returns the number of entries currently held
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}

func (r *Ring) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func parseEntry(p []byte) Entry {
	var raw map[string]interface{}
	if err := json.Unmarshal(p, &raw); err != nil {
		return Entry{
			Time:    time.Now(),
			Level:   zerolog.NoLevel.String(),
			Message: strings.TrimSpace(string(p)),
		}
	}

	e := Entry{Time: time.Now()}
	for k, v := range raw {
		switch k {
		case zerolog.TimestampFieldName:
			if s, ok := v.(string); ok {
				if t, err := time.Parse(time.RFC3339, s); err == nil {
					e.Time = t
				}
			}
		case zerolog.LevelFieldName:
			e.Level, _ = v.(string)
		case zerolog.MessageFieldName:
			e.Message, _ = v.(string)
		case "component":
			e.Component, _ = v.(string)
		default:
			if e.Fields == nil {
				e.Fields = make(map[string]interface{})
			}
			e.Fields[k] = v
		}
	}
	return e
}
