// Package memory persists conversation history, user facts, and recorded
// intents in SQLite, and caches assembled conversation context with a TTL.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Store manages conversation memory in SQLite.
type Store struct {
	db     *sql.DB
	config Config
}

// Config configures the memory store.
type Config struct {
	// MaxFactsPerUser caps stored facts to prevent unbounded growth
	MaxFactsPerUser int `json:"max_facts_per_user"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxFactsPerUser: 100,
	}
}

// Turn is a single message in a conversation.
type Turn struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// Excerpt is a fragment of past conversation matched by keyword search.
type Excerpt struct {
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// Fact is a durable statement about a user.
type Fact struct {
	Fact      string
	Source    string
	CreatedAt time.Time
}

// NewStore creates a memory store over an open database handle.
func NewStore(db *sql.DB, config Config) (*Store, error) {
	store := &Store{db: db, config: config}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	log.Info().Msg("memory store initialized")
	return store, nil
}

// migrate creates the required database tables.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversation_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_conversation_log_turn
		ON conversation_log(user_id, conversation_id, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS user_facts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			fact TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT 'conversation',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(user_id, fact)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_user_facts_user
		ON user_facts(user_id, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS recorded_intents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			intent TEXT NOT NULL,
			confidence REAL DEFAULT 0.0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}

// AppendTurn records a conversation message.
func (s *Store) AppendTurn(ctx context.Context, userID, conversationID, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_log (user_id, conversation_id, role, content) VALUES (?, ?, ?, ?)`,
		userID, conversationID, role, content)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// RecentHistory returns the most recent turns of a conversation in
// chronological order, at most limit entries.
func (s *Store) RecentHistory(ctx context.Context, userID, conversationID string, limit int) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM conversation_log
		 WHERE user_id = ? AND conversation_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse from newest-first to chronological.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}

	return turns, nil
}

// SearchExcerpts finds past messages across all of a user's conversations
// matching any keyword in the query. Short words are skipped; they match
// everything and bury the useful excerpts.
func (s *Store) SearchExcerpts(ctx context.Context, userID, query string, limit int) ([]Excerpt, error) {
	keywords := extractKeywords(query)
	if len(keywords) == 0 {
		return nil, nil
	}

	var clauses []string
	args := []interface{}{userID}
	for _, kw := range keywords {
		clauses = append(clauses, "content LIKE ?")
		args = append(args, "%"+kw+"%")
	}
	args = append(args, limit)

	q := fmt.Sprintf(
		`SELECT conversation_id, role, content, created_at FROM conversation_log
		 WHERE user_id = ? AND (%s)
		 ORDER BY created_at DESC LIMIT ?`,
		strings.Join(clauses, " OR "))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search excerpts: %w", err)
	}
	defer rows.Close()

	var excerpts []Excerpt
	for rows.Next() {
		var e Excerpt
		if err := rows.Scan(&e.ConversationID, &e.Role, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan excerpt: %w", err)
		}
		excerpts = append(excerpts, e)
	}
	return excerpts, rows.Err()
}

// SaveFact stores a durable fact about a user. Re-saving an identical fact
// is a no-op. Oldest facts are evicted beyond the per-user cap.
func (s *Store) SaveFact(ctx context.Context, userID, fact, source string) error {
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return fmt.Errorf("empty fact")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_facts (user_id, fact, source) VALUES (?, ?, ?)`,
		userID, fact, source)
	if err != nil {
		return fmt.Errorf("save fact: %w", err)
	}

	if s.config.MaxFactsPerUser > 0 {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM user_facts WHERE user_id = ? AND id NOT IN (
				SELECT id FROM user_facts WHERE user_id = ?
				ORDER BY created_at DESC, id DESC LIMIT ?
			)`,
			userID, userID, s.config.MaxFactsPerUser)
		if err != nil {
			return fmt.Errorf("trim facts: %w", err)
		}
	}

	return nil
}

// Facts returns the most recent facts for a user.
func (s *Store) Facts(ctx context.Context, userID string, limit int) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fact, source, created_at FROM user_facts
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		var f Fact
		if err := rows.Scan(&f.Fact, &f.Source, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// RecordIntent stores a classified intent for later analysis.
func (s *Store) RecordIntent(ctx context.Context, userID, conversationID, intent string, confidence float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recorded_intents (user_id, conversation_id, intent, confidence) VALUES (?, ?, ?, ?)`,
		userID, conversationID, intent, confidence)
	if err != nil {
		return fmt.Errorf("record intent: %w", err)
	}
	return nil
}

// extractKeywords splits a query into searchable keywords, dropping words
// of three characters or fewer.
func extractKeywords(query string) []string {
	var keywords []string
	for _, word := range strings.Fields(query) {
		word = strings.Trim(word, ".,!?;:\"'")
		if len(word) > 3 {
			keywords = append(keywords, word)
		}
	}
	return keywords
}
