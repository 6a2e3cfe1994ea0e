package render

import "strings"

// SMS segmentation limits. GSM-7 messages fit 160 characters in a single
// segment or 153 per segment in multipart messages; anything outside the
// GSM-7 set forces UCS-2 at 70/67.
const (
	gsmSingleLimit  = 160
	gsmMultiLimit   = 153
	ucs2SingleLimit = 70
	ucs2MultiLimit  = 67

	maxSMSSegments = 3
)

// gsm7 holds the basic GSM 03.38 character set. Characters from the
// extension table (e.g. '[', '€') count double but still keep GSM-7
// encoding; for the segment estimate we treat them as plain members.
var gsm7 = func() map[rune]bool {
	const chars = "@£$¥èéùìòÇ\nØø\rÅåΔ_ΦΓΛΩΠΨΣΘΞÆæßÉ !\"#¤%&'()*+,-./0123456789:;<=>?" +
		"¡ABCDEFGHIJKLMNOPQRSTUVWXYZÄÖÑܧ¿abcdefghijklmnopqrstuvwxyzäöñüà" +
		"^{}\\[~]|€"
	set := make(map[rune]bool, len(chars))
	for _, r := range chars {
		set[r] = true
	}
	return set
}()

func isGSM7(s string) bool {
	for _, r := range s {
		if !gsm7[r] {
			return false
		}
	}
	return true
}

// segmentCount estimates how many SMS segments body occupies.
func segmentCount(body string) int {
	runes := len([]rune(body))
	if runes == 0 {
		return 0
	}

	single, multi := ucs2SingleLimit, ucs2MultiLimit
	if isGSM7(body) {
		single, multi = gsmSingleLimit, gsmMultiLimit
	}

	if runes <= single {
		return 1
	}
	return (runes + multi - 1) / multi
}

// enforceSegments truncates body so it fits within maxSegments, appending an
// ellipsis when content was dropped. Returns the final body, its segment
// count and whether truncation occurred.
func enforceSegments(body string, maxSegments int) (string, int, bool) {
	body = strings.TrimSpace(body)
	if segmentCount(body) <= maxSegments {
		return body, segmentCount(body), false
	}

	// the ellipsis must keep the body's encoding: U+2026 is outside the
	// GSM-7 set and would flip a GSM body to UCS-2 segment limits
	multi, ellipsis := ucs2MultiLimit, "…"
	if isGSM7(body) {
		multi, ellipsis = gsmMultiLimit, "..."
	}

	budget := maxSegments*multi - len([]rune(ellipsis))
	runes := []rune(body)
	truncated := strings.TrimSpace(string(runes[:budget])) + ellipsis
	return truncated, segmentCount(truncated), true
}
