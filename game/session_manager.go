package game

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"idealtype-bot/llm"
)

// SessionManager maps session IDs to live conversation sessions
type SessionManager struct {
	sessions map[string]*ConversationSession
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewSessionManager creates a new session manager
func NewSessionManager(logger *zap.Logger) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*ConversationSession),
		logger:   logger.Named("sessions"),
	}
}

// Create registers a fresh session for record with an empty history
func (sm *SessionManager) Create(record CharacterRecord, provider llm.ChatProvider) *ConversationSession {
	session := NewConversationSession(uuid.New().String(), record, provider, sm.logger)

	sm.mu.Lock()
	sm.sessions[session.ID] = session
	sm.mu.Unlock()

	sm.logger.Info("Added session", zap.String("session_id", session.ID), zap.String("character", record.Name))
	return session
}

// Get retrieves a session by ID
func (sm *SessionManager) Get(id string) (*ConversationSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[id]
	return session, exists
}

// Remove closes and unregisters a session. It reports whether the session existed.
func (sm *SessionManager) Remove(id string) bool {
	sm.mu.Lock()
	session, exists := sm.sessions[id]
	delete(sm.sessions, id)
	sm.mu.Unlock()

	if !exists {
		return false
	}
	session.Close()
	sm.logger.Info("Removed session", zap.String("session_id", id))
	return true
}

// Len returns the number of live sessions
func (sm *SessionManager) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CloseAll closes every session, used on shutdown
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	sessions := sm.sessions
	sm.sessions = make(map[string]*ConversationSession)
	sm.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
}
