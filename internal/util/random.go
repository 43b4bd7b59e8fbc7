// Package util provides utility functions for the TrialConsent application.
package util

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// TrackingCodePrefix prefixes every submission tracking code handed to participants.
const TrackingCodePrefix = "NS-"

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Not suitable for secrets.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// GenerateTrackingCode builds the human-facing reference for a submission:
// "NS-" + the last 8 digits of the unix millisecond timestamp + "-" + 4 random digits.
func GenerateTrackingCode(now time.Time) string {
	ms := fmt.Sprintf("%d", now.UnixMilli())
	if len(ms) > 8 {
		ms = ms[len(ms)-8:]
	}
	return fmt.Sprintf("%s%s-%04d", TrackingCodePrefix, ms, rand.IntN(10000))
}

// GenerateSessionID generates a form session ID with "fs_" prefix.
func GenerateSessionID() string {
	return GenerateRandomID("fs_", 24)
}

// GenerateChatID generates a chat session ID with "chat_" prefix.
func GenerateChatID() string {
	return GenerateRandomID("chat_", 24)
}
