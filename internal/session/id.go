package session

import (
	"elogbook-sso/internal/utils"
)

// GenerateID generates a cryptographically secure session ID.
// 32 bytes = 256 bits of entropy.
func GenerateID() (string, error) {
	return utils.RandomToken(32)
}
