package database

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// IsDuplicateKeyError reports whether err represents a unique constraint
// violation on any of the supported drivers.
func IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint"):
		return true
	case strings.Contains(msg, "duplicate key"):
		return true
	case strings.Contains(msg, "duplicate entry"):
		return true
	case strings.Contains(msg, "sqlstate 23505"):
		return true
	case strings.Contains(msg, "error 1062"):
		return true
	}
	return false
}
