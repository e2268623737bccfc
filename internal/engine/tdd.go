package engine

// TDD (Telecommunications Device for the Deaf) text encoding, the other half
// of §4.2's send_text operation: a 5-bit Baudot/ITA2 (Weitbrecht) code at
// 45.45 baud over a 1400 Hz mark / 1800 Hz space FSK carrier, distinct from
// the Bell-202/V.23 spill callerid.go generates for ordinary Caller-ID text.

import "math"

const (
	tddBaud    = 45.45
	tddMarkHz  = 1400.0
	tddSpaceHz = 1800.0

	tddLTRS = 0x1F // shift to letters
	tddFIGS = 0x1B // shift to figures
)

// ita2Letters and ita2Figures map a 5-bit Baudot code to the character it
// produces in each shift state; index is the code value.
var ita2Letters = [32]rune{
	0: 0, 1: 'T', 2: '\r', 3: 'O', 4: ' ', 5: 'H', 6: 'N', 7: 'M',
	8: '\n', 9: 'L', 10: 'R', 11: 'G', 12: 'I', 13: 'P', 14: 'C', 15: 'V',
	16: 'E', 17: 'Z', 18: 'D', 19: 'B', 20: 'S', 21: 'Y', 22: 'F', 23: 'X',
	24: 'A', 25: 'W', 26: 'J', 27: 0, 28: 'U', 29: 'Q', 30: 'K', 31: 0,
}

var ita2Figures = [32]rune{
	0: 0, 1: '5', 2: '\r', 3: '9', 4: ' ', 5: '#', 6: ',', 7: '.',
	8: '\n', 9: ')', 10: '4', 11: '&', 12: '8', 13: '0', 14: ':', 15: ';',
	16: '3', 17: '"', 18: '$', 19: '?', 20: 7, 21: '6', 22: '!', 23: '/',
	24: '-', 25: '2', 26: '\'', 27: 0, 28: '7', 29: '1', 30: '(', 31: 0,
}

// ita2Code names one Baudot code point and which shift state selects it.
type ita2Code struct {
	code byte
	figs bool
}

// ita2ByChar is the reverse lookup built from the two tables above.
var ita2ByChar = func() map[rune]ita2Code {
	m := make(map[rune]ita2Code)
	for code, r := range ita2Letters {
		if r != 0 {
			m[r] = ita2Code{byte(code), false}
		}
	}
	for code, r := range ita2Figures {
		if _, exists := m[r]; r != 0 && !exists {
			m[r] = ita2Code{byte(code), true}
		}
	}
	return m
}()

// EncodeTDDText renders text as 45.45-baud Baudot FSK PCM at the port's law,
// emitting LTRS/FIGS shift codes only when the run's case changes.
func EncodeTDDText(law Law, text string) []byte {
	var bits []bool
	figs := false
	for _, r := range text {
		entry, ok := ita2ByChar[r]
		if !ok {
			continue
		}
		if entry.figs != figs {
			shift := byte(tddLTRS)
			if entry.figs {
				shift = tddFIGS
			}
			bits = appendTDDChar(bits, shift)
			figs = entry.figs
		}
		bits = appendTDDChar(bits, entry.code)
	}
	return renderTDDFSK(law, bits)
}

// appendTDDChar appends one Baudot-framed character: a start bit (space),
// 5 data bits LSB first, and 1.5 stop bits (mark) rounded up to 2 bit cells.
func appendTDDChar(bits []bool, code byte) []bool {
	bits = append(bits, false) // start bit
	for i := 0; i < 5; i++ {
		bits = append(bits, (code>>i)&1 != 0)
	}
	bits = append(bits, true, true) // ~1.5 stop bits
	return bits
}

// renderTDDFSK synthesizes bits as 45.45-baud FSK PCM at the port's law.
func renderTDDFSK(law Law, bits []bool) []byte {
	samplesPerBit := int(cidSampleRate / tddBaud)
	out := make([]byte, 0, len(bits)*samplesPerBit)
	phase := 0.0
	for _, bit := range bits {
		freq := tddSpaceHz
		if bit {
			freq = tddMarkHz
		}
		step := 2 * math.Pi * freq / cidSampleRate
		for i := 0; i < samplesPerBit; i++ {
			sample := int16(8000 * math.Sin(phase))
			out = append(out, EncodeSample(law, sample))
			phase += step
			if phase > 2*math.Pi {
				phase -= 2 * math.Pi
			}
		}
	}
	return out
}

// TDDDecoder incrementally demodulates a Baudot FSK bitstream fed one
// law-encoded byte at a time, mirroring FSKDecoder's Goertzel bit
// classification but framed for 5 data bits and a shift-state case switch
// instead of MDMF fields.
type TDDDecoder struct {
	law Law

	window   []float64
	bitAccum []bool
	text     []rune
	figs     bool
}

// NewTDDDecoder constructs a decoder bound to law.
func NewTDDDecoder(law Law) *TDDDecoder {
	return &TDDDecoder{law: law}
}

// Feed processes one block of law-encoded audio, accumulating decoded
// characters into Text.
func (d *TDDDecoder) Feed(buf []byte) {
	samplesPerBit := int(cidSampleRate / tddBaud)
	for _, b := range buf {
		s := DecodeSample(d.law, b)
		d.window = append(d.window, float64(s))
		if len(d.window) >= samplesPerBit {
			bit := d.classifyBit(d.window)
			d.bitAccum = append(d.bitAccum, bit)
			d.window = d.window[:0]
			d.tryDecodeChar()
		}
	}
}

func (d *TDDDecoder) classifyBit(window []float64) bool {
	markE := goertzelPower(window, tddMarkHz, cidSampleRate)
	spaceE := goertzelPower(window, tddSpaceHz, cidSampleRate)
	return markE > spaceE
}

// tryDecodeChar consumes one start+5+stop framed character at a time,
// resyncing past mark-only noise until a start bit (space) is seen.
func (d *TDDDecoder) tryDecodeChar() {
	for len(d.bitAccum) >= 8 {
		if d.bitAccum[0] {
			d.bitAccum = d.bitAccum[1:]
			continue
		}
		var code byte
		for i := 0; i < 5; i++ {
			if d.bitAccum[1+i] {
				code |= 1 << i
			}
		}
		d.bitAccum = d.bitAccum[8:]
		d.applyCode(code)
	}
}

func (d *TDDDecoder) applyCode(code byte) {
	switch code {
	case tddLTRS:
		d.figs = false
		return
	case tddFIGS:
		d.figs = true
		return
	}
	var r rune
	if d.figs {
		r = ita2Figures[code]
	} else {
		r = ita2Letters[code]
	}
	if r != 0 {
		d.text = append(d.text, r)
	}
}

// Text returns every character decoded so far.
func (d *TDDDecoder) Text() string {
	return string(d.text)
}
