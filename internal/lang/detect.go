// Package lang provides language handling for customer conversations:
// Sinhala script detection and English-to-Sinhala translation.
package lang

import "unicode"

// Supported language codes.
const (
	English = "en"
	Sinhala = "si"
)

// sinhalaRatioThreshold is the fraction of alphabetic characters that must be
// Sinhala for a message to be classified as Sinhala. Mixed Singlish messages
// below this ratio are handled as English.
const sinhalaRatioThreshold = 0.3

// isSinhalaRune reports whether r falls in the Sinhala Unicode block (U+0D80-U+0DFF).
func isSinhalaRune(r rune) bool {
	return r >= 0x0D80 && r <= 0x0DFF
}

// Detect classifies text as Sinhala or English by script ratio.
// Non-alphabetic characters (digits, punctuation, emoji) are ignored, so a
// phone number or price list does not skew the decision. Empty input and
// input with no letters default to English.
func Detect(text string) string {
	var letters, sinhala int

	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if isSinhalaRune(r) {
				sinhala++
			}
		}
	}

	if letters == 0 {
		return English
	}

	if float64(sinhala)/float64(letters) > sinhalaRatioThreshold {
		return Sinhala
	}
	return English
}

// ContainsSinhala reports whether text contains at least one Sinhala character.
// Used to decide whether a generated response still needs translation.
func ContainsSinhala(text string) bool {
	for _, r := range text {
		if isSinhalaRune(r) {
			return true
		}
	}
	return false
}
