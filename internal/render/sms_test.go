package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSegmentCountGSM(t *testing.T) {
	assert.Equal(t, 0, segmentCount(""))
	assert.Equal(t, 1, segmentCount(strings.Repeat("a", 160)))
	assert.Equal(t, 2, segmentCount(strings.Repeat("a", 161)))
	assert.Equal(t, 2, segmentCount(strings.Repeat("a", 306)))
	assert.Equal(t, 3, segmentCount(strings.Repeat("a", 307)))
}

func TestSegmentCountUCS2(t *testing.T) {
	// non-GSM characters force UCS-2 limits
	assert.Equal(t, 1, segmentCount(strings.Repeat("ع", 70)))
	assert.Equal(t, 2, segmentCount(strings.Repeat("ع", 71)))
	assert.Equal(t, 1, segmentCount("report 🚀"))
}

func TestEnforceSegmentsNoTruncation(t *testing.T) {
	body, segments, truncated := enforceSegments("short message", maxSMSSegments)
	assert.Equal(t, "short message", body)
	assert.Equal(t, 1, segments)
	assert.False(t, truncated)
}

func TestEnforceSegmentsTruncates(t *testing.T) {
	long := strings.Repeat("word ", 200)
	body, segments, truncated := enforceSegments(long, maxSMSSegments)

	assert.True(t, truncated)
	assert.LessOrEqual(t, segments, maxSMSSegments)
	assert.True(t, strings.HasSuffix(body, "..."))
	assert.Less(t, len([]rune(body)), len([]rune(long)))
}

func TestEnforceSegmentsKeepsGSMEncoding(t *testing.T) {
	long := strings.Repeat("a", 600)
	body, segments, truncated := enforceSegments(long, maxSMSSegments)

	assert.True(t, truncated)
	assert.True(t, isGSM7(body), "truncation must not introduce non-GSM runes")
	assert.LessOrEqual(t, segments, maxSMSSegments)
	assert.LessOrEqual(t, len([]rune(body)), maxSMSSegments*gsmMultiLimit)
}

func TestEnforceSegmentsUCS2Truncates(t *testing.T) {
	long := strings.Repeat("ع", 400)
	body, segments, truncated := enforceSegments(long, maxSMSSegments)

	assert.True(t, truncated)
	assert.LessOrEqual(t, segments, maxSMSSegments)
	assert.LessOrEqual(t, len([]rune(body)), maxSMSSegments*ucs2MultiLimit)
}

func TestIsGSM7(t *testing.T) {
	assert.True(t, isGSM7("Hello, world! #42 @reportflow"))
	assert.True(t, isGSM7("déjà vu? ÇØÆ"))
	assert.False(t, isGSM7("smart “quotes”"))
	assert.False(t, isGSM7("emoji 🔥"))
}
