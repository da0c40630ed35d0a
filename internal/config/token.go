package config

import zxcvbn "github.com/ccojocar/zxcvbn-go"

// Tokens scoring below this zxcvbn level are rejected at startup.
const weakTokenScoreThreshold = 3

// IsWeakToken reports whether the admin token is too guessable to guard
// the API. An empty token disables auth and is handled elsewhere.
func IsWeakToken(token string) bool {
	if token == "" {
		return false
	}
	return zxcvbn.PasswordStrength(token, nil).Score < weakTokenScoreThreshold
}
