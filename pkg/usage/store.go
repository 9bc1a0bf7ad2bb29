// Package usage keeps token accounting for gateway calls.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mudscribe/mudscribe/pkg/gateway"
	"github.com/mudscribe/mudscribe/pkg/logger"
)

// Retention bounds how long records are kept in the file.
const Retention = 30 * 24 * time.Hour

type Record struct {
	Timestamp        time.Time `json:"timestamp"`
	DayKey           string    `json:"day_key"`
	SessionID        string    `json:"session_id"`
	Kind             string    `json:"kind"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	UsageKnown       bool      `json:"usage_known"`
}

type Filter struct {
	SessionID string
	DayKey    string
	Kind      string
	Limit     int
}

type Aggregate struct {
	Calls            int
	KnownCalls       int
	UnknownCalls     int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func (a *Aggregate) add(r Record) {
	a.Calls++
	if !r.UsageKnown {
		a.UnknownCalls++
		return
	}
	a.KnownCalls++
	a.PromptTokens += r.PromptTokens
	a.CompletionTokens += r.CompletionTokens
	a.TotalTokens += r.TotalTokens
}

// Store holds records in memory and mirrors them to a JSON file when a path
// is given.
type Store struct {
	mu        sync.RWMutex
	records   []Record
	path      string
	sessionID string
	now       func() time.Time
}

var _ gateway.UsageRecorder = (*Store)(nil)

// NewStore opens the store. An empty path keeps records in memory only; a
// missing or unreadable file starts empty.
func NewStore(path, sessionID string) *Store {
	s := &Store{
		records:   make([]Record, 0, 256),
		path:      path,
		sessionID: sessionID,
		now:       func() time.Time { return time.Now().UTC() },
	}
	s.load()
	return s
}

// SetSession switches the session that later records are filed under.
func (s *Store) SetSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = id
}

func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

func (s *Store) TodayKey() string {
	return s.now().Format("2006-01-02")
}

// RecordChat stores one gateway chat call for the store's session.
func (s *Store) RecordChat(kind, model string, u gateway.Usage) {
	err := s.Append(Record{
		Kind:             kind,
		Model:            model,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		UsageKnown:       u.Known,
	})
	if err != nil {
		logger.WarnCF("usage", "Failed to persist usage", map[string]any{"error": err.Error()})
	}
}

func (s *Store) Append(r Record) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now()
	}
	if r.DayKey == "" {
		r.DayKey = r.Timestamp.UTC().Format("2006-01-02")
	}
	if r.SessionID == "" {
		r.SessionID = s.SessionID()
	}
	if r.TotalTokens == 0 {
		r.TotalTokens = r.PromptTokens + r.CompletionTokens
	}

	s.mu.Lock()
	s.records = append(s.records, r)
	s.pruneLocked()
	s.mu.Unlock()

	return s.save()
}

func (s *Store) pruneLocked() {
	cutoff := s.now().Add(-Retention)
	kept := s.records[:0]
	for _, r := range s.records {
		if r.Timestamp.After(cutoff) {
			kept = append(kept, r)
		}
	}
	s.records = kept
}

func (s *Store) Query(f Filter) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if f.SessionID != "" && r.SessionID != f.SessionID {
			continue
		}
		if f.DayKey != "" && r.DayKey != f.DayKey {
			continue
		}
		if f.Kind != "" && !strings.EqualFold(r.Kind, f.Kind) {
			continue
		}
		out = append(out, r)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

func AggregateRecords(records []Record) Aggregate {
	var agg Aggregate
	for _, r := range records {
		agg.add(r)
	}
	return agg
}

// KindBreakdown groups records by call kind.
func KindBreakdown(records []Record) map[string]Aggregate {
	out := map[string]Aggregate{}
	for _, r := range records {
		k := strings.TrimSpace(r.Kind)
		if k == "" {
			k = "unknown"
		}
		agg := out[k]
		agg.add(r)
		out[k] = agg
	}
	return out
}

func sortedKinds(m map[string]Aggregate) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) load() {
	if s.path == "" {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WarnCF("usage", "Cannot read usage file", map[string]any{"path": s.path, "error": err.Error()})
		}
		return
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		logger.WarnCF("usage", "Ignoring corrupt usage file", map[string]any{"path": s.path, "error": err.Error()})
		return
	}
	s.records = records
	s.pruneLocked()
}

func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	s.mu.RLock()
	data, err := json.MarshalIndent(s.records, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode usage: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create usage dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write usage: %w", err)
	}
	return os.Rename(tmp, s.path)
}
