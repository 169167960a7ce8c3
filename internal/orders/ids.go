// Package orders defines the client-identifier convention binding the
// entry, take-profit and stop-loss orders of one position together.
// The identifier is the only classifier that survives a process
// restart, so recovery leans entirely on its shape.
package orders

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Roles prefix the shared token: entry_<token>, tp_<token>, sl_<token>.
const (
	RoleEntry = "entry"
	RoleTP    = "tp"
	RoleSL    = "sl"
)

// MaxClientIDLength is the exchange's limit for client order ids.
const MaxClientIDLength = 36

var (
	ErrInvalidClientID = errors.New("invalid client order id")
	ErrClientIDTooLong = errors.New("client order id too long")
)

var idPattern = regexp.MustCompile(`^(entry|tp|sl)_([0-9a-f]{8})$`)

// NewToken returns the 8-hex token shared by one position's orders.
func NewToken() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based if crypto/rand fails
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xFFFFFFFF)
	}
	return hex.EncodeToString(b)
}

// EntryID builds the entry order identifier for a token.
func EntryID(token string) string { return RoleEntry + "_" + token }

// TPID builds the take-profit identifier for a token.
func TPID(token string) string { return RoleTP + "_" + token }

// SLID builds the stop-loss identifier for a token.
func SLID(token string) string { return RoleSL + "_" + token }

// Parse splits a client identifier into role and token. ok is false
// for identifiers that do not follow the convention, such as manual
// orders or other bots sharing the account.
func Parse(id string) (role, token string, ok bool) {
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// IsEntry reports whether id carries the entry role prefix.
func IsEntry(id string) bool { return strings.HasPrefix(id, RoleEntry+"_") }

// IsTP reports whether id carries the take-profit role prefix.
func IsTP(id string) bool { return strings.HasPrefix(id, RoleTP+"_") }

// IsSL reports whether id carries the stop-loss role prefix.
func IsSL(id string) bool { return strings.HasPrefix(id, RoleSL+"_") }

// Validate checks the exchange length limit and the role_token shape.
func Validate(id string) error {
	if id == "" {
		return ErrInvalidClientID
	}
	if len(id) > MaxClientIDLength {
		return fmt.Errorf("%w: %q is %d characters (max %d)", ErrClientIDTooLong, id, len(id), MaxClientIDLength)
	}
	if _, _, ok := Parse(id); !ok {
		return fmt.Errorf("%w: %q does not match role_token", ErrInvalidClientID, id)
	}
	return nil
}
