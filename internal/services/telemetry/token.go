package telemetry

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var ErrUnauthorized = errors.New("unauthorized")

// minTokenLength: i token sono UUID, qualunque cosa di 10 caratteri o meno è scartata subito.
const minTokenLength = 11

func tokenSyntaxValid(token string) bool {
	return len(strings.TrimSpace(token)) >= minTokenLength
}

// tokenMatches è il controllo autoritativo contro il token del registry.
func tokenMatches(presented, stored string) bool {
	if !tokenSyntaxValid(presented) || stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) == 1
}
