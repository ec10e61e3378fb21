package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/pavelanni/assessor/internal/model"
)

const (
	tokenScheme    = "ast"
	tokenPrefixLen = 8
	createAttempts = 3
)

// ErrTokenConflict is returned when a new token shares its lookup prefix with
// a stored one.
var ErrTokenConflict = errors.New("token prefix already in use")

// tokenSecret produces the random part of generated tokens.
var tokenSecret = generateToken

// CreateAPIToken generates a new bearer token, stores its bcrypt hash and
// returns the plaintext. The plaintext is never stored. A generated token
// whose prefix is taken is discarded and generated again.
func (s *Store) CreateAPIToken(label string) (string, error) {
	for attempt := 1; ; attempt++ {
		secret, err := tokenSecret()
		if err != nil {
			return "", err
		}
		token := tokenScheme + "_" + secret
		err = s.InsertAPIToken(label, token)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, ErrTokenConflict) || attempt == createAttempts {
			return "", err
		}
		slog.Warn("generated token prefix already in use, retrying", "attempt", attempt)
	}
}

// InsertAPIToken stores the hash of a caller-chosen token, such as an admin
// token supplied through configuration. A token whose prefix matches a stored
// token is rejected with ErrTokenConflict and the stored token is kept.
func (s *Store) InsertAPIToken(label, token string) error {
	prefix, ok := tokenPrefix(token)
	if !ok {
		return fmt.Errorf("token too short: need at least %d characters", tokenPrefixLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash token: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO api_tokens (label, prefix, token_hash, created_at) VALUES (?, ?, ?, ?)`,
		label, prefix, string(hash), time.Now(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrTokenConflict, prefix)
	}
	if err != nil {
		slog.Error("failed to store api token", "label", label, "error", err)
		return err
	}
	slog.Info("created api token", "label", label, "prefix", prefix)
	return nil
}

// isUniqueViolation matches the extended UNIQUE code and, for connections
// without extended result codes, the primary CONSTRAINT code. prefix is the
// only constrained column the token insert can violate.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

// VerifyAPIToken returns the stored token matching the plaintext, or nil if
// none does.
func (s *Store) VerifyAPIToken(token string) (*model.APIToken, error) {
	prefix, ok := tokenPrefix(token)
	if !ok {
		return nil, nil
	}
	var t model.APIToken
	err := s.db.QueryRow(
		`SELECT id, label, prefix, token_hash, created_at, last_used_at FROM api_tokens WHERE prefix = ?`, prefix,
	).Scan(&t.ID, &t.Label, &t.Prefix, &t.TokenHash, &t.CreatedAt, &t.LastUsedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(t.TokenHash), []byte(token)); err != nil {
		return nil, nil
	}
	if _, err := s.db.Exec(`UPDATE api_tokens SET last_used_at = ? WHERE id = ?`, time.Now(), t.ID); err != nil {
		slog.Warn("failed to record token use", "id", t.ID, "error", err)
	}
	return &t, nil
}

// ListAPITokens returns all tokens without their hashes.
func (s *Store) ListAPITokens() ([]model.APIToken, error) {
	rows, err := s.db.Query(
		`SELECT id, label, prefix, created_at, last_used_at FROM api_tokens ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tokens []model.APIToken
	for rows.Next() {
		var t model.APIToken
		if err := rows.Scan(&t.ID, &t.Label, &t.Prefix, &t.CreatedAt, &t.LastUsedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// RevokeAPIToken deletes a token by id. It returns sql.ErrNoRows when no
// such token exists.
func (s *Store) RevokeAPIToken(id int64) error {
	res, err := s.db.Exec(`DELETE FROM api_tokens WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// TokenCount returns the number of stored tokens.
func (s *Store) TokenCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM api_tokens`).Scan(&count)
	return count, err
}

// tokenPrefix returns the lookup prefix of a token: the first characters of
// the part after the scheme, or of the whole token when it has none.
func tokenPrefix(token string) (string, bool) {
	body := strings.TrimPrefix(token, tokenScheme+"_")
	if len(body) < tokenPrefixLen {
		return "", false
	}
	return body[:tokenPrefixLen], true
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
