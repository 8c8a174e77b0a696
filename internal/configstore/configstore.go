// Package configstore holds per-user runtime state: provider configuration,
// session flags, and verification codes. Everything lives in memory behind
// three locks; provider config is additionally snapshotted to the database
// by the caller.
package configstore

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrConfigMissing reports that a user has not configured a provider yet.
var ErrConfigMissing = errors.New("provider configuration missing")

// DefaultCodeTTL is how long a verification code stays valid.
const DefaultCodeTTL = 360 * time.Second

// UserConfig is a user's provider configuration. API keys are held in
// plaintext only here; snapshots at rest are encrypted.
type UserConfig struct {
	LLMBaseURL       string    `json:"llm_base_url,omitempty"`
	LLMAPIKey        string    `json:"llm_api_key,omitempty"`
	LLMModel         string    `json:"llm_model,omitempty"`
	EmbeddingBaseURL string    `json:"embedding_base_url,omitempty"`
	EmbeddingAPIKey  string    `json:"embedding_api_key,omitempty"`
	EmbeddingModel   string    `json:"embedding_model,omitempty"`
	WebSearchAPIKey  string    `json:"web_search_api_key,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// SessionState is transient per-conversation state.
type SessionState struct {
	DocumentsLoaded bool
	LastActive      time.Time
}

type codeEntry struct {
	code string
	exp  time.Time
}

// Store is safe for concurrent use. Stats acquires locks in a fixed order
// (configs, sessions, codes) to stay deadlock free.
type Store struct {
	configsMu sync.RWMutex
	configs   map[int64]UserConfig

	sessionsMu sync.RWMutex
	sessions   map[string]SessionState

	codesMu sync.Mutex
	codes   map[string]codeEntry

	codeTTL time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// New builds an empty store. codeTTL <= 0 selects DefaultCodeTTL.
func New(codeTTL time.Duration, logger *zap.Logger) *Store {
	if codeTTL <= 0 {
		codeTTL = DefaultCodeTTL
	}
	return &Store{
		configs:  make(map[int64]UserConfig),
		sessions: make(map[string]SessionState),
		codes:    make(map[string]codeEntry),
		codeTTL:  codeTTL,
		now:      time.Now,
		logger:   logger,
	}
}

// GetConfig returns the user's provider config.
func (s *Store) GetConfig(userID int64) (UserConfig, error) {
	s.configsMu.RLock()
	defer s.configsMu.RUnlock()
	cfg, ok := s.configs[userID]
	if !ok {
		return UserConfig{}, ErrConfigMissing
	}
	return cfg, nil
}

// SetConfig replaces the user's provider config.
func (s *Store) SetConfig(userID int64, cfg UserConfig) {
	cfg.UpdatedAt = s.now()
	s.configsMu.Lock()
	s.configs[userID] = cfg
	s.configsMu.Unlock()
}

// DeleteConfig drops the user's provider config.
func (s *Store) DeleteConfig(userID int64) {
	s.configsMu.Lock()
	delete(s.configs, userID)
	s.configsMu.Unlock()
}

// GetSession returns transient state for a conversation.
func (s *Store) GetSession(conversationID string) (SessionState, bool) {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	st, ok := s.sessions[conversationID]
	return st, ok
}

// MarkDocumentsLoaded flags that a conversation has indexed documents.
func (s *Store) MarkDocumentsLoaded(conversationID string) {
	s.sessionsMu.Lock()
	st := s.sessions[conversationID]
	st.DocumentsLoaded = true
	st.LastActive = s.now()
	s.sessions[conversationID] = st
	s.sessionsMu.Unlock()
}

// TouchSession bumps a conversation's last-active time.
func (s *Store) TouchSession(conversationID string) {
	s.sessionsMu.Lock()
	st := s.sessions[conversationID]
	st.LastActive = s.now()
	s.sessions[conversationID] = st
	s.sessionsMu.Unlock()
}

// DropSession removes transient state for a conversation.
func (s *Store) DropSession(conversationID string) {
	s.sessionsMu.Lock()
	delete(s.sessions, conversationID)
	s.sessionsMu.Unlock()
}

// SetCode stores a verification code for an email, replacing any previous
// one. Expired codes are swept on every write.
func (s *Store) SetCode(email, code string) {
	s.codesMu.Lock()
	defer s.codesMu.Unlock()
	s.sweepCodesLocked()
	s.codes[email] = codeEntry{code: code, exp: s.now().Add(s.codeTTL)}
}

// VerifyCode checks a code and consumes it on success.
func (s *Store) VerifyCode(email, code string) bool {
	s.codesMu.Lock()
	defer s.codesMu.Unlock()
	s.sweepCodesLocked()
	ent, ok := s.codes[email]
	if !ok || ent.code != code {
		return false
	}
	delete(s.codes, email)
	return true
}

func (s *Store) sweepCodesLocked() {
	now := s.now()
	for email, ent := range s.codes {
		if !ent.exp.After(now) {
			delete(s.codes, email)
		}
	}
}

// Stats reports entry counts per map.
func (s *Store) Stats() map[string]int {
	s.configsMu.RLock()
	configs := len(s.configs)
	s.configsMu.RUnlock()

	s.sessionsMu.RLock()
	sessions := len(s.sessions)
	s.sessionsMu.RUnlock()

	s.codesMu.Lock()
	s.sweepCodesLocked()
	codes := len(s.codes)
	s.codesMu.Unlock()

	return map[string]int{
		"configs":  configs,
		"sessions": sessions,
		"codes":    codes,
	}
}
