package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kirillm/orb-bot/internal/domain"
)

// FileLedgerStore хранит леджер в JSON файле.
// Запись атомарна: временный файл, fsync, rename, fsync каталога.
type FileLedgerStore struct {
	path     string
	defaults func() *domain.LedgerState
	logger   *zap.Logger

	mu        sync.Mutex
	lastBytes []byte
}

// NewFileLedgerStore создает хранилище. defaults вызывается, когда файла нет
// или он поврежден.
func NewFileLedgerStore(path string, defaults func() *domain.LedgerState, logger *zap.Logger) *FileLedgerStore {
	return &FileLedgerStore{
		path:     path,
		defaults: defaults,
		logger:   logger,
	}
}

// Path возвращает путь к файлу леджера
func (s *FileLedgerStore) Path() string {
	return s.path
}

// Load читает леджер.
// Нет файла: значения по умолчанию без ошибки.
// Файл не проходит валидацию: значения по умолчанию и ошибка domain.ErrStateCorrupt.
// Носитель недоступен: ошибка domain.ErrStateUnavailable, состояние nil.
func (s *FileLedgerStore) Load(ctx context.Context) (*domain.LedgerState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("ledger not found, starting from defaults", zap.String("path", s.path))
		s.lastBytes = nil
		return s.defaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrStateUnavailable, s.path, err)
	}

	state, verr := decodeLedger(data)
	if verr != nil {
		quarantined := s.quarantine(data)
		s.logger.Error("ledger failed validation, using defaults",
			zap.String("path", s.path),
			zap.String("quarantined", quarantined),
			zap.Error(verr))
		s.lastBytes = nil
		return s.defaults(), fmt.Errorf("%w: %v", domain.ErrStateCorrupt, verr)
	}

	s.lastBytes = data
	return state, nil
}

func decodeLedger(data []byte) (*domain.LedgerState, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var state domain.LedgerState
	if err := dec.Decode(&state); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	return &state, nil
}

// quarantine сохраняет копию поврежденного файла для разбора оператором
func (s *FileLedgerStore) quarantine(data []byte) string {
	name := fmt.Sprintf("%s.corrupt-%s", s.path, time.Now().UTC().Format("20060102T150405"))
	if err := os.WriteFile(name, data, 0o600); err != nil {
		s.logger.Warn("failed to quarantine corrupt ledger", zap.Error(err))
		return ""
	}
	return name
}

// Save атомарно записывает леджер. Запись тех же байтов ничего не делает.
func (s *FileLedgerStore) Save(ctx context.Context, state *domain.LedgerState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := state.Validate(); err != nil {
		return fmt.Errorf("%w: refusing to save invalid ledger: %v", domain.ErrInvalidInput, err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastBytes != nil && bytes.Equal(s.lastBytes, data) {
		return nil
	}
	if s.lastBytes == nil {
		if onDisk, err := os.ReadFile(s.path); err == nil && bytes.Equal(onDisk, data) {
			s.lastBytes = data
			return nil
		}
	}

	if err := writeAtomic(s.path, data); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStateUnavailable, err)
	}

	s.lastBytes = data
	s.logger.Debug("ledger saved",
		zap.String("path", s.path),
		zap.Int("positions", len(state.OpenPositions)))
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename: %w", err)
	}

	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir: %w", err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("fsync dir: %w", err)
	}
	return nil
}

// Reset перезаписывает леджер значениями по умолчанию (команда оператора)
func (s *FileLedgerStore) Reset(ctx context.Context) (*domain.LedgerState, error) {
	state := s.defaults()
	if err := s.Save(ctx, state); err != nil {
		return nil, err
	}
	s.logger.Warn("ledger reset to defaults", zap.String("path", s.path))
	return state, nil
}

var _ domain.LedgerStore = (*FileLedgerStore)(nil)
