// internal/perception/bridge.go
package perception

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"
)

// BridgeCapacity is how many extension logs are kept.
const BridgeCapacity = 100

// ExtensionLog is one report from the browser extension.
type ExtensionLog struct {
	Timestamp float64         `json:"timestamp"` // milliseconds since epoch
	Domain    string          `json:"domain"`
	Activity  string          `json:"activity"`
	URL       string          `json:"url"`
	Title     string          `json:"title"`
	Elements  json.RawMessage `json:"elements,omitempty"`
}

// ExtensionMessage is the body the extension POSTs to /extension-data.
type ExtensionMessage struct {
	EventType string `json:"event_type"`
	Data      struct {
		Domain   string          `json:"domain"`
		Activity string          `json:"activity"`
		URL      string          `json:"url"`
		Title    string          `json:"title"`
		Elements json.RawMessage `json:"elements,omitempty"`
	} `json:"data"`
}

// BridgeStatus summarizes the extension connection.
type BridgeStatus struct {
	Connected bool      `json:"connected"`
	Received  int       `json:"received"`
	LastSeen  time.Time `json:"last_seen,omitempty"`
}

// Bridge buffers the latest extension logs.
type Bridge struct {
	mu       sync.Mutex
	logs     []ExtensionLog
	received int
	lastSeen time.Time
	now      func() time.Time
}

func NewBridge() *Bridge {
	return &Bridge{now: time.Now}
}

// Record stores a message, deriving the domain from the URL when missing.
func (b *Bridge) Record(msg ExtensionMessage) (ExtensionLog, error) {
	d := msg.Data
	if d.Domain == "" && d.URL != "" {
		if u, err := url.Parse(d.URL); err == nil {
			d.Domain = u.Hostname()
		}
	}
	if d.Domain == "" && d.Activity == "" {
		return ExtensionLog{}, errors.New("extension message has neither domain nor activity")
	}

	now := b.now()
	log := ExtensionLog{
		Timestamp: float64(now.UnixMilli()),
		Domain:    strings.TrimPrefix(strings.ToLower(d.Domain), "www."),
		Activity:  d.Activity,
		URL:       d.URL,
		Title:     d.Title,
		Elements:  d.Elements,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs = append(b.logs, log)
	if len(b.logs) > BridgeCapacity {
		b.logs = append([]ExtensionLog(nil), b.logs[len(b.logs)-BridgeCapacity:]...)
	}
	b.received++
	b.lastSeen = now
	return log, nil
}

// Latest returns the newest log if it is younger than maxAge.
func (b *Bridge) Latest(maxAge time.Duration) (ExtensionLog, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.logs) == 0 || b.now().Sub(b.lastSeen) > maxAge {
		return ExtensionLog{}, false
	}
	return b.logs[len(b.logs)-1], true
}

// Recent returns up to n logs, newest first.
func (b *Bridge) Recent(n int) []ExtensionLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.logs) {
		n = len(b.logs)
	}
	out := make([]ExtensionLog, 0, n)
	for i := len(b.logs) - 1; i >= len(b.logs)-n; i-- {
		out = append(out, b.logs[i])
	}
	return out
}

// Status reports whether the extension has been heard from within maxAge.
func (b *Bridge) Status(maxAge time.Duration) BridgeStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BridgeStatus{
		Connected: !b.lastSeen.IsZero() && b.now().Sub(b.lastSeen) <= maxAge,
		Received:  b.received,
		LastSeen:  b.lastSeen,
	}
}
