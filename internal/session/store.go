package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// MetadataFileName 元数据文件名
const MetadataFileName = "metadata.json"

var (
	// ErrSessionNotFound 会话不存在
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists 会话目录已存在
	ErrSessionExists = errors.New("session already exists")
)

// Store 文件存储的会话库。每个会话一个目录，metadata.json为唯一可信记录，
// 内存缓存仅作为读优化，进程重启后以磁盘为准。
type Store struct {
	root string

	mu    sync.RWMutex
	cache map[string]*Metadata
}

// NewStore 创建会话存储，必要时创建根目录
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("session storage root must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session root: %w", err)
	}
	return &Store{
		root:  root,
		cache: make(map[string]*Metadata),
	}, nil
}

// Root 返回存储根目录
func (s *Store) Root() string {
	return s.root
}

// Path 返回会话目录路径，纯路径计算，无IO
func (s *Store) Path(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

// ModelPath 返回会话内模型产物目录路径
func (s *Store) ModelPath(sessionID string) string {
	return filepath.Join(s.root, sessionID, "model")
}

// Create 为新会话分配独占目录。目录已存在时返回ErrSessionExists。
func (s *Store) Create(sessionID string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("session id must not be empty")
	}
	path := s.Path(sessionID)
	if err := os.Mkdir(path, 0o755); err != nil {
		if os.IsExist(err) {
			return "", fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
		}
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}
	return path, nil
}

// Save 原子落盘元数据：先写临时文件再rename，读方不会看到半写状态
func (s *Store) Save(sessionID string, meta *Metadata) error {
	path := s.Path(sessionID)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session metadata: %w", err)
	}

	tmp, err := os.CreateTemp(path, ".metadata-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp metadata file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write session metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp metadata file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(path, MetadataFileName)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace session metadata: %w", err)
	}

	s.mu.Lock()
	s.cache[sessionID] = meta.Clone()
	s.mu.Unlock()
	return nil
}

// Load 读取最近一次保存的元数据。缓存命中直接返回副本，否则回源磁盘。
func (s *Store) Load(sessionID string) (*Metadata, error) {
	s.mu.RLock()
	if cached, ok := s.cache[sessionID]; ok {
		s.mu.RUnlock()
		return cached.Clone(), nil
	}
	s.mu.RUnlock()

	meta, err := s.loadFromDisk(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[sessionID] = meta.Clone()
	s.mu.Unlock()
	return meta, nil
}

// loadFromDisk 从磁盘读取元数据
func (s *Store) loadFromDisk(sessionID string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(s.Path(sessionID), MetadataFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to read session metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse session metadata: %w", err)
	}
	return &meta, nil
}

// List 枚举所有会话ID
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate sessions: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// Delete 删除会话目录及全部产物
func (s *Store) Delete(sessionID string) error {
	if err := os.RemoveAll(s.Path(sessionID)); err != nil {
		return fmt.Errorf("failed to delete session directory: %w", err)
	}
	s.mu.Lock()
	delete(s.cache, sessionID)
	s.mu.Unlock()
	return nil
}
