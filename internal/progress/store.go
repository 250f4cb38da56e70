package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"docket-harvester/internal/domain"
)

// Store persists the transfer checkpoint as a single JSON file. The file is
// the resumption anchor across process restarts; it is overwritten whole on
// every save via a temp file and rename so a crash never leaves a torn
// checkpoint behind.
type Store struct {
	path   string
	logger *logrus.Logger
}

func NewStore(path string, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{path: path, logger: logger}
}

// Load returns the prior checkpoint, or zero progress when no checkpoint
// exists or it cannot be parsed. Corruption means "start fresh", never a
// fatal error: the on-disk files themselves make re-processing idempotent.
func (s *Store) Load() domain.TransferProgress {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warnf("read checkpoint %s: %v", s.path, err)
		}
		return domain.TransferProgress{}
	}

	var prog domain.TransferProgress
	if err := json.Unmarshal(data, &prog); err != nil {
		s.logger.Warnf("corrupt checkpoint %s, starting fresh: %v", s.path, err)
		return domain.TransferProgress{}
	}
	if prog.LastProcessedIndex < 0 {
		s.logger.Warnf("checkpoint %s has negative index, starting fresh", s.path)
		return domain.TransferProgress{}
	}

	return prog
}

// Save writes the checkpoint atomically. Failures are reported, not fatal:
// the in-memory progress stays authoritative for the current process.
func (s *Store) Save(prog domain.TransferProgress) error {
	prog.LastUpdateTime = time.Now().UTC()

	data, err := json.MarshalIndent(prog, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace checkpoint: %w", err)
	}

	return nil
}

// Path is the checkpoint location, for status reporting.
func (s *Store) Path() string {
	return s.path
}
