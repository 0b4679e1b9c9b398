package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/hyperjump/reqai/internal/models"
	"github.com/hyperjump/reqai/pkg/utils"
	"go.uber.org/zap"
)

// DefaultTypes are the collections of a fresh document.
var DefaultTypes = []string{
	"stakeholders",
	"goals_and_objectives",
	"business_processes",
	"requirements",
	"systems_and_applications",
	"data_entities",
	"risks_and_constraints",
	"metrics_and_kpis",
}

var idPrefixes = map[string]string{
	"stakeholders":             "STK",
	"goals_and_objectives":     "GOAL",
	"business_processes":       "BP",
	"requirements":             "REQ",
	"systems_and_applications": "SYS",
	"data_entities":            "DE",
	"risks_and_constraints":    "RISK",
	"metrics_and_kpis":         "KPI",
}

var idPattern = regexp.MustCompile(`^([a-zA-Z]+)(\d+)`)

// FileStore keeps every collection in one JSON document on disk. The document
// is loaded once; Reload picks up edits made by other processes.
type FileStore struct {
	path   string
	logger *zap.Logger

	mu   sync.RWMutex
	data *models.Collections
	raw  []byte
}

// NewFileStore opens the document at path. A missing or unreadable document
// starts as the default empty collections.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store: data path is required")
	}
	s := &FileStore{path: path, logger: utils.LoggerOrNop(logger)}
	if _, err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the document path.
func (s *FileStore) Path() string { return s.path }

// Reload rereads the document and reports whether its content changed since
// the last load or write.
func (s *FileStore) Reload() (bool, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("read %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data != nil && bytes.Equal(raw, s.raw) {
		return false, nil
	}

	data := emptyCollections()
	if len(raw) > 0 {
		decoded, err := models.DecodeCollections(raw)
		if err != nil {
			s.logger.Warn("record document unreadable, starting empty", zap.String("path", s.path), zap.Error(err))
		} else {
			data = decoded
		}
	} else if os.IsNotExist(err) {
		s.logger.Warn("record document not found, starting empty", zap.String("path", s.path))
	}
	s.data = data
	s.raw = raw
	return true, nil
}

func emptyCollections() *models.Collections {
	c := &models.Collections{Types: append([]string(nil), DefaultTypes...), Records: make(map[string][]*models.Entity)}
	for _, t := range DefaultTypes {
		c.Records[t] = []*models.Entity{}
	}
	return c
}

// ListTypes returns the document's types in file order.
func (s *FileStore) ListTypes(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.data.Types...), nil
}

// List returns copies of all records of entityType.
func (s *FileStore) List(ctx context.Context, entityType string) ([]*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records, ok := s.data.Records[entityType]
	if !ok {
		return nil, notFound("list "+entityType, "Entity type '%s' not found.", entityType)
	}
	out := make([]*models.Entity, len(records))
	for i, e := range records {
		out[i] = e.Clone()
	}
	return out, nil
}

// Get returns a copy of one record.
func (s *FileStore) Get(ctx context.Context, entityType, id string) (*models.Entity, error) {
	op := fmt.Sprintf("get %s %s", entityType, id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	records, ok := s.data.Records[entityType]
	if !ok {
		return nil, notFound(op, "Entity type '%s' not found.", entityType)
	}
	if i := indexOf(records, id); i >= 0 {
		return records[i].Clone(), nil
	}
	return nil, notFound(op, "Item with ID '%s' not found in '%s'.", id, entityType)
}

// Create appends a record with the next id for its type.
func (s *FileStore) Create(ctx context.Context, entityType string, payload map[string]interface{}) (*models.Entity, error) {
	op := "create " + entityType
	if len(payload) == 0 {
		return nil, badRequest(op, "Invalid or empty JSON data received for new item.")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records, ok := s.data.Records[entityType]
	if !ok {
		return nil, notFound(op, "Entity type '%s' not found.", entityType)
	}

	id := nextID(entityType, records)
	e := models.NewEntity(entityType)
	for _, k := range sortedKeys(payload) {
		if k == models.IDField {
			continue
		}
		e.Set(k, payload[k])
	}
	e.Set(models.IDField, id)

	s.data.Records[entityType] = append(records, e)
	if err := s.flush(op); err != nil {
		s.data.Records[entityType] = records
		return nil, err
	}
	return e.Clone(), nil
}

// Update merges payload into the record; the id cannot change.
func (s *FileStore) Update(ctx context.Context, entityType, id string, payload map[string]interface{}) (*models.Entity, error) {
	op := fmt.Sprintf("update %s %s", entityType, id)
	s.mu.Lock()
	defer s.mu.Unlock()
	records, ok := s.data.Records[entityType]
	if !ok {
		return nil, notFound(op, "Entity type '%s' not found.", entityType)
	}
	i := indexOf(records, id)
	if i < 0 {
		return nil, notFound(op, "Item with ID '%s' not found in '%s'.", id, entityType)
	}
	if len(payload) == 0 {
		return nil, badRequest(op, "Invalid or empty JSON data received for update.")
	}

	original := records[i]
	updated := original.Clone()
	for _, k := range sortedKeys(payload) {
		if k == models.IDField {
			continue
		}
		updated.Set(k, payload[k])
	}
	records[i] = updated
	if err := s.flush(op); err != nil {
		records[i] = original
		return nil, err
	}
	return updated.Clone(), nil
}

// Delete removes a record. Deleting an unknown id is a not-found error.
func (s *FileStore) Delete(ctx context.Context, entityType, id string) error {
	op := fmt.Sprintf("delete %s %s", entityType, id)
	s.mu.Lock()
	defer s.mu.Unlock()
	records, ok := s.data.Records[entityType]
	if !ok {
		return notFound(op, "Entity type '%s' not found.", entityType)
	}
	i := indexOf(records, id)
	if i < 0 {
		return notFound(op, "Item with ID '%s' not found in '%s' for deletion.", id, entityType)
	}
	kept := make([]*models.Entity, 0, len(records)-1)
	kept = append(kept, records[:i]...)
	kept = append(kept, records[i+1:]...)
	s.data.Records[entityType] = kept
	if err := s.flush(op); err != nil {
		s.data.Records[entityType] = records
		return err
	}
	return nil
}

// flush writes the document atomically. Callers hold s.mu.
func (s *FileStore) flush(op string) error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return &StoreError{Op: op, Status: 500, Message: "Failed to save data.", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return &StoreError{Op: op, Status: 500, Message: "Failed to save data.", Err: err}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return &StoreError{Op: op, Status: 500, Message: "Failed to save data.", Err: err}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return &StoreError{Op: op, Status: 500, Message: "Failed to save data.", Err: err}
	}
	s.raw = raw
	return nil
}

func indexOf(records []*models.Entity, id string) int {
	for i, e := range records {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// nextID continues the numbering of the first id prefix found in records,
// e.g. REQ004 after REQ003. Empty collections start at 001 with the type's prefix.
func nextID(entityType string, records []*models.Entity) string {
	prefix := ""
	maxNum := 0
	for _, e := range records {
		m := idPattern.FindStringSubmatch(e.ID)
		if m != nil {
			if prefix == "" {
				prefix = m[1]
			}
			if m[1] == prefix {
				if n, err := strconv.Atoi(m[2]); err == nil && n > maxNum {
					maxNum = n
				}
			}
		} else if prefix == "" && e.ID != "" {
			prefix = strings.Map(func(r rune) rune {
				if unicode.IsLetter(r) {
					return r
				}
				return -1
			}, e.ID)
		}
	}
	if prefix == "" {
		prefix = defaultPrefix(entityType)
	}
	return fmt.Sprintf("%s%03d", prefix, maxNum+1)
}

func defaultPrefix(entityType string) string {
	if p, ok := idPrefixes[entityType]; ok {
		return p
	}
	runes := []rune(entityType)
	if len(runes) > 3 {
		runes = runes[:3]
	}
	return strings.ToUpper(string(runes))
}

// sortedKeys gives payload maps a stable field order for new keys.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
