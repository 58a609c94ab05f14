// Package usage records per-request token consumption for billing analysis,
// separately from the quota counters that gate requests.
package usage

import (
	"database/sql"
	"time"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Record appends one usage row. Rows are append-only; totals are derived.
func (r *Repository) Record(userID int, provider, model string, promptTokens, completionTokens int) error {
	_, err := r.db.Exec(`INSERT INTO api_usage (user_id, provider, model, prompt_tokens, completion_tokens, total_tokens)
		VALUES (?,?,?,?,?,?)`,
		userID, provider, model, promptTokens, completionTokens, promptTokens+completionTokens)
	return err
}

// CountSince returns the number of requests a user made to a provider since
// the given time.
func (r *Repository) CountSince(userID int, provider string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(1) FROM api_usage WHERE user_id=? AND provider=? AND created_at>=?`,
		userID, provider, since).Scan(&n)
	return n, err
}

// TotalTokensSince sums token consumption for a user across all providers.
func (r *Repository) TotalTokensSince(userID int, since time.Time) (int, error) {
	var n sql.NullInt64
	err := r.db.QueryRow(`SELECT SUM(total_tokens) FROM api_usage WHERE user_id=? AND created_at>=?`,
		userID, since).Scan(&n)
	if err != nil {
		return 0, err
	}
	return int(n.Int64), nil
}

func isCJK(r rune) bool {
	switch {
	case r >= 0x3040 && r <= 0x309F: // hiragana
		return true
	case r >= 0x30A0 && r <= 0x30FF: // katakana
		return true
	case r >= 0x4E00 && r <= 0x9FAF: // unified ideographs
		return true
	case r >= 0x3400 && r <= 0x4DBF: // ideograph extension A
		return true
	}
	return false
}

// EstimateTokens approximates the token count of a text when the vendor
// response does not report one. CJK text tokenizes much denser than Latin
// text, so any CJK content switches the divisor.
func EstimateTokens(text string) int {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return 0
	}
	for _, r := range runes {
		if isCJK(r) {
			// ceil(n / 1.5)
			return (2*n + 2) / 3
		}
	}
	// ceil(n / 4)
	return (n + 3) / 4
}
