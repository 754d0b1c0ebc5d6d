// Package auth provides agent registration and API-key authentication.
//
// Authentication model:
// - Public endpoints (reads, reputation lookups): no auth required
// - Mutations (escrow ops, bids, ratings): require an API key
// - API keys are issued on agent registration and resolve to the
//   agent's base58 address
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ghostspeak/ghostspeak/internal/events"
	"github.com/ghostspeak/ghostspeak/internal/validation"
)

var (
	ErrNoAPIKey       = errors.New("API key required")
	ErrInvalidAPIKey  = errors.New("invalid or expired API key")
	ErrKeyNotFound    = errors.New("API key not found")
	ErrAgentExists    = errors.New("agent already registered")
	ErrAgentNotFound  = errors.New("agent not found")
	ErrInvalidAddress = errors.New("invalid agent address")
)

// Agent is a registered participant identified by its base58 address.
// Addresses are case-sensitive.
type Agent struct {
	Address      string    `json:"address"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// APIKey represents an issued API key. Only the SHA-256 hash is stored.
type APIKey struct {
	ID        string     `json:"id"`
	Hash      string     `json:"-"`
	AgentAddr string     `json:"agentAddr"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	LastUsed  time.Time  `json:"lastUsed,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Revoked   bool       `json:"revoked"`
}

// Store persists agents and their API keys.
type Store interface {
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, addr string) (*Agent, error)
	CreateKey(ctx context.Context, key *APIKey) error
	GetKeyByHash(ctx context.Context, hash string) (*APIKey, error)
	GetKeysByAgent(ctx context.Context, addr string) ([]*APIKey, error)
	UpdateKey(ctx context.Context, key *APIKey) error
}

// Manager handles registration and authentication.
type Manager struct {
	store   Store
	emitter *events.Emitter
	logger  *slog.Logger
}

// NewManager creates a new auth manager.
func NewManager(store Store, emitter *events.Emitter, logger *slog.Logger) *Manager {
	return &Manager{store: store, emitter: emitter, logger: logger}
}

// RegisterAgent registers a new agent and issues its first API key.
// The raw key is shown exactly once.
func (m *Manager) RegisterAgent(ctx context.Context, addr, name, description string) (rawKey string, agent *Agent, err error) {
	if !validation.IsValidAddress(addr) {
		return "", nil, ErrInvalidAddress
	}

	existing, err := m.store.GetAgent(ctx, addr)
	if err != nil && !errors.Is(err, ErrAgentNotFound) {
		return "", nil, err
	}
	if existing != nil {
		return "", nil, ErrAgentExists
	}

	agent = &Agent{
		Address:      addr,
		Name:         name,
		Description:  description,
		RegisteredAt: time.Now(),
	}
	if err := m.store.CreateAgent(ctx, agent); err != nil {
		return "", nil, err
	}

	rawKey, _, err = m.GenerateKey(ctx, addr, "Registration key")
	if err != nil {
		return "", nil, err
	}

	m.emitter.EmitAgentRegistered(addr, name)
	m.logger.Info("agent registered", "address", addr, "name", name)
	return rawKey, agent, nil
}

// GetAgent fetches a registered agent.
func (m *Manager) GetAgent(ctx context.Context, addr string) (*Agent, error) {
	return m.store.GetAgent(ctx, addr)
}

// GenerateKey creates a new API key for an agent.
// Returns the raw key (shown once) and the stored metadata.
func (m *Manager) GenerateKey(ctx context.Context, agentAddr, name string) (rawKey string, key *APIKey, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, err
	}

	rawKey = "sk_" + hex.EncodeToString(b)
	key = &APIKey{
		ID:        "ak_" + hex.EncodeToString(b[:8]),
		Hash:      hashKey(rawKey),
		AgentAddr: agentAddr,
		Name:      name,
		CreatedAt: time.Now(),
	}
	if err := m.store.CreateKey(ctx, key); err != nil {
		return "", nil, err
	}
	return rawKey, key, nil
}

// ValidateKey validates an API key and returns the key metadata.
func (m *Manager) ValidateKey(ctx context.Context, rawKey string) (*APIKey, error) {
	if rawKey == "" {
		return nil, ErrNoAPIKey
	}

	rawKey = strings.TrimPrefix(rawKey, "Bearer ")
	rawKey = strings.TrimSpace(rawKey)
	if !strings.HasPrefix(rawKey, "sk_") {
		return nil, ErrInvalidAPIKey
	}

	key, err := m.store.GetKeyByHash(ctx, hashKey(rawKey))
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	if key.Revoked {
		return nil, ErrInvalidAPIKey
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return nil, ErrInvalidAPIKey
	}

	// Update last used (fire and forget)
	go func() {
		key.LastUsed = time.Now()
		m.store.UpdateKey(context.Background(), key)
	}()

	return key, nil
}

// ListKeys returns all keys for an agent.
func (m *Manager) ListKeys(ctx context.Context, agentAddr string) ([]*APIKey, error) {
	return m.store.GetKeysByAgent(ctx, agentAddr)
}

// RevokeKey revokes an API key owned by the agent.
func (m *Manager) RevokeKey(ctx context.Context, keyID, agentAddr string) error {
	keys, err := m.store.GetKeysByAgent(ctx, agentAddr)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.ID == keyID {
			k.Revoked = true
			return m.store.UpdateKey(ctx, k)
		}
	}
	return ErrKeyNotFound
}

func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	keys   map[string]*APIKey // by ID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents: make(map[string]*Agent),
		keys:   make(map[string]*APIKey),
	}
}

func (s *MemoryStore) CreateAgent(ctx context.Context, agent *Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agent.Address]; ok {
		return ErrAgentExists
	}
	s.agents[agent.Address] = agent
	return nil
}

func (s *MemoryStore) GetAgent(ctx context.Context, addr string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[addr]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return agent, nil
}

func (s *MemoryStore) CreateKey(ctx context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.ID] = key
	return nil
}

func (s *MemoryStore) GetKeyByHash(ctx context.Context, hash string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.Hash == hash {
			return k, nil
		}
	}
	return nil, ErrKeyNotFound
}

func (s *MemoryStore) GetKeysByAgent(ctx context.Context, addr string) ([]*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*APIKey
	for _, k := range s.keys {
		if k.AgentAddr == addr {
			result = append(result, k)
		}
	}
	return result, nil
}

func (s *MemoryStore) UpdateKey(ctx context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.ID] = key
	return nil
}
