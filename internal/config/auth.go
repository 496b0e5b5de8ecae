package config

import "golang.org/x/crypto/bcrypt"

// CheckAuthToken verifies a dashboard login token against the configured
// plaintext token or bcrypt hash. An empty candidate never matches.
func CheckAuthToken(cfg *Config, candidate string) bool {
	if cfg == nil || candidate == "" {
		return false
	}
	if cfg.AuthToken != "" && candidate == cfg.AuthToken {
		return true
	}
	if cfg.AuthTokenHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(cfg.AuthTokenHash), []byte(candidate)); err == nil {
			return true
		}
	}
	return false
}
