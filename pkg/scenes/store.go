// Package scenes archives generated background images on disk.
package scenes

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Record struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	StoredPath string    `json:"stored_path"`
	MIMEType   string    `json:"mime_type,omitempty"`
	SizeBytes  int64     `json:"size_bytes"`
	SHA256     string    `json:"sha256"`
	CreatedAt  time.Time `json:"created_at"`
}

type stateFile struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

// Store keeps image files under root/YYYY/MM/DD with a JSON index at
// root/index.json. Identical images are stored once.
type Store struct {
	mu        sync.RWMutex
	rootPath  string
	statePath string
	records   map[string]Record
	bySum     map[string]string
}

func NewStore(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("scene archive directory not set")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create scene archive: %w", err)
	}

	s := &Store{
		rootPath:  root,
		statePath: filepath.Join(root, "index.json"),
		records:   map[string]Record{},
		bySum:     map[string]string{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) RootPath() string {
	return s.rootPath
}

// Save writes img and indexes it. An image already in the archive returns
// the existing record.
func (s *Store) Save(sessionID string, img []byte) (Record, error) {
	if len(img) == 0 {
		return Record{}, fmt.Errorf("empty image")
	}

	sum := sha256.Sum256(img)
	hexSum := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.bySum[hexSum]; ok {
		return s.records[id], nil
	}

	now := time.Now().UTC()
	dayPath := filepath.Join(s.rootPath, now.Format("2006"), now.Format("01"), now.Format("02"))
	if err := os.MkdirAll(dayPath, 0755); err != nil {
		return Record{}, fmt.Errorf("mkdir scene day path: %w", err)
	}

	mimeType := http.DetectContentType(img)
	name := fmt.Sprintf("%s_%s%s", now.Format("150405"), uuid.NewString()[:8], extensionFor(mimeType))
	dest := filepath.Join(dayPath, name)
	if err := os.WriteFile(dest, img, 0644); err != nil {
		return Record{}, fmt.Errorf("write scene: %w", err)
	}

	rec := Record{
		ID:         "scn_" + uuid.NewString(),
		SessionID:  sessionID,
		StoredPath: dest,
		MIMEType:   mimeType,
		SizeBytes:  int64(len(img)),
		SHA256:     hexSum,
		CreatedAt:  now,
	}
	s.records[rec.ID] = rec
	s.bySum[hexSum] = rec.ID
	if err := s.saveLocked(); err != nil {
		delete(s.records, rec.ID)
		delete(s.bySum, hexSum)
		_ = os.Remove(dest)
		return Record{}, err
	}
	return rec, nil
}

func (s *Store) GetByID(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// List returns records oldest first.
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".bin"
	}
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read scene index: %w", err)
	}
	var st stateFile
	if err := json.Unmarshal(data, &st); err != nil {
		return nil
	}
	for _, r := range st.Records {
		s.records[r.ID] = r
		s.bySum[r.SHA256] = r.ID
	}
	return nil
}

func (s *Store) saveLocked() error {
	records := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })

	data, err := json.MarshalIndent(stateFile{Version: 1, Records: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal scene index: %w", err)
	}
	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write scene index temp: %w", err)
	}
	if err := os.Rename(tmp, s.statePath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace scene index: %w", err)
	}
	return nil
}
