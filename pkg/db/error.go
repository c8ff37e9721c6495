package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}

	msg := err.Error()
	// postgres via text, mysql 1062, sqlite 2067
	return strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "Error 1062") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// LikeEscape pairs with EscapeLike. Backslash is a string escape in MySQL literals.
const LikeEscape = "!"

// EscapeLike escapes LIKE wildcards so user input matches literally with ESCAPE '!'.
func EscapeLike(value string) string {
	replacer := strings.NewReplacer(LikeEscape, LikeEscape+LikeEscape, `%`, LikeEscape+`%`, `_`, LikeEscape+`_`)
	return replacer.Replace(value)
}
