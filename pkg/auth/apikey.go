// Package auth provides API key generation and format validation.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// keyPrefix marks every CastRelay API key so leaked keys are identifiable
// in logs and secret scanners.
const keyPrefix = "crk"

// Word lists for human-readable API keys. Both lists hold 32 entries so the
// byte-modulo selection below is unbiased.
var (
	keyAdjectives = []string{
		"amber", "bright", "calm", "clear", "deep", "dusky", "early", "faint",
		"fresh", "gentle", "golden", "grand", "keen", "late", "light", "lively",
		"lucid", "mellow", "misty", "pale", "quiet", "rapid", "sharp", "silent",
		"slow", "soft", "solid", "steady", "still", "swift", "vivid", "warm",
	}

	keyNouns = []string{
		"aerial", "antenna", "beacon", "booth", "cable", "camera", "channel", "chorus",
		"dial", "echo", "encore", "fader", "frame", "lens", "mixer", "monitor",
		"pixel", "reel", "relay", "scene", "screen", "signal", "splice", "stage",
		"studio", "take", "tape", "tower", "track", "tuner", "uplink", "wave",
	}
)

// GenerateAPIKey generates a human-readable API key.
// Format: crk-{adjective}-{noun}-{32-char-hex}. The hex component alone
// carries 128 bits of entropy; the words exist for readability only.
func GenerateAPIKey() (string, error) {
	random := make([]byte, 18)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	adjective := keyAdjectives[int(random[0])%len(keyAdjectives)]
	noun := keyNouns[int(random[1])%len(keyNouns)]
	secret := hex.EncodeToString(random[2:])

	return fmt.Sprintf("%s-%s-%s-%s", keyPrefix, adjective, noun, secret), nil
}

var keySecretPattern = regexp.MustCompile(`^[a-f0-9]{32}$`)

// ValidateAPIKeyFormat reports whether a string has the shape of a generated
// API key. It is a fast pre-check; possession of a valid key is established
// by the hash lookup, not by this function.
func ValidateAPIKeyFormat(apiKey string) bool {
	parts := strings.Split(apiKey, "-")
	if len(parts) != 4 {
		return false
	}
	if parts[0] != keyPrefix {
		return false
	}
	if !containsWord(keyAdjectives, parts[1]) || !containsWord(keyNouns, parts[2]) {
		return false
	}
	return keySecretPattern.MatchString(parts[3])
}

func containsWord(words []string, candidate string) bool {
	for _, word := range words {
		if word == candidate {
			return true
		}
	}
	return false
}
