package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestTDDRoundTripFixedCases(t *testing.T) {
	cases := []string{
		"HELLO",
		"HELLO WORLD",
		"CALL 911",
		"RELAY OPR GA",
		"2ND FLOOR: ROOM 14",
	}
	for _, text := range cases {
		wave := EncodeTDDText(LawMu, text)
		dec := NewTDDDecoder(LawMu)
		dec.Feed(wave)
		assert.Equal(t, text, dec.Text(), "round trip of %q", text)
	}
}

// TestTDDRoundTripRandomPayloads covers §8's TDD identity property across
// the printable subset the Baudot tables support (upper-case letters,
// digits, and the punctuation ita2Figures carries).
func TestTDDRoundTripRandomPayloads(t *testing.T) {
	var alphabet []rune
	for r := range ita2ByChar {
		if r == '\r' || r == '\n' {
			continue
		}
		alphabet = append(alphabet, r)
	}

	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 24).Draw(rt, "n")
		var sb strings.Builder
		for i := 0; i < n; i++ {
			idx := rapid.IntRange(0, len(alphabet)-1).Draw(rt, "idx")
			sb.WriteRune(alphabet[idx])
		}
		text := sb.String()

		wave := EncodeTDDText(LawMu, text)
		dec := NewTDDDecoder(LawMu)
		dec.Feed(wave)
		require.Equal(rt, text, dec.Text())
	})
}

func TestTDDDecoderFeedInChunks(t *testing.T) {
	wave := EncodeTDDText(LawA, "TEST MSG")
	dec := NewTDDDecoder(LawA)
	for i := 0; i < len(wave); i += 7 {
		end := i + 7
		if end > len(wave) {
			end = len(wave)
		}
		dec.Feed(wave[i:end])
	}
	assert.Equal(t, "TEST MSG", dec.Text())
}
