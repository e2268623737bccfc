package engine

// Caller-ID generation & decoding, spec §2.9/§4.8, plus an ADSI display
// session supplement.
//
// Bell-202 and V.23 are both 1200 baud FSK; they differ only in mark/space
// frequency and, for V.23-JP, in when the spill is sent relative to ringing.
// DTMF-signaled Caller-ID carries the same MDMF payload as tone pairs
// instead of an FSK carrier and is decoded by the existing DTMF detector, so
// only the Bell-202/V.23 tone generation and FSK bit-sync/decode live here.

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	cidSampleRate = 8000
	cidBaud       = 1200

	bell202MarkHz  = 1200.0
	bell202SpaceHz = 2200.0
	v23MarkHz      = 1300.0
	v23SpaceHz     = 2100.0
)

// MDMFField tags one single-message-format-field of a Bell-202/V.23 spill
// per the usual Caller-ID MDMF parameter IDs.
type MDMFField byte

const (
	MDMFDateTime   MDMFField = 0x01
	MDMFNumber     MDMFField = 0x02
	MDMFName       MDMFField = 0x07
	MDMFAbsentNum  MDMFField = 0x04
	MDMFAbsentName MDMFField = 0x08
)

// CIDMessage is a decoded or to-be-encoded Caller-ID payload.
type CIDMessage struct {
	DateTime string // MMDDHHMM
	Number   string
	Name     string
}

// CIDWaveform generates the Bell-202/V.23 FSK tone burst for a spill
// (§2.9 "Bell-202/V.23/DTMF generation"): 30 bytes of 0x55 channel seizure,
// 180 ms of mark, the 8-bit/1-stop/no-parity encoded MDMF frame, and a
// checksum byte. law
// selects the output companding.
func CIDWaveform(law Law, signaling CIDSignaling, msg CIDMessage) ([]byte, error) {
	markHz, spaceHz, err := cidFrequencies(signaling)
	if err != nil {
		return nil, err
	}

	payload := encodeMDMF(msg)

	var bits []bool
	// Channel seizure + mark leader.
	for i := 0; i < 30; i++ {
		bits = appendByte(bits, 0x55)
	}
	for i := 0; i < int(0.18*cidBaud); i++ {
		bits = append(bits, true)
	}

	bits = appendByte(bits, 0x80) // MDMF message type
	bits = appendByte(bits, byte(len(payload)))
	checksum := byte(0x80) + byte(len(payload))
	for _, b := range payload {
		bits = appendByte(bits, b)
		checksum += b
	}
	bits = appendByte(bits, (^checksum + 1))

	return renderFSK(law, markHz, spaceHz, bits), nil
}

func cidFrequencies(signaling CIDSignaling) (mark, space float64, err error) {
	switch signaling {
	case CIDSignalingBell:
		return bell202MarkHz, bell202SpaceHz, nil
	case CIDSignalingV23, CIDSignalingV23JP:
		return v23MarkHz, v23SpaceHz, nil
	default:
		return 0, 0, fmt.Errorf("callerid: %v has no FSK waveform", signaling)
	}
}

// appendByte appends one UART-framed byte (start bit, 8 data bits LSB
// first, stop bit) to bits.
func appendByte(bits []bool, b byte) []bool {
	bits = append(bits, false) // start bit
	for i := 0; i < 8; i++ {
		bits = append(bits, (b>>i)&1 != 0)
	}
	bits = append(bits, true) // stop bit
	return bits
}

func encodeMDMF(msg CIDMessage) []byte {
	var out []byte
	if msg.DateTime != "" {
		out = append(out, byte(MDMFDateTime), byte(len(msg.DateTime)))
		out = append(out, []byte(msg.DateTime)...)
	}
	if msg.Number == "" {
		out = append(out, byte(MDMFAbsentNum), 1, 'O')
	} else {
		out = append(out, byte(MDMFNumber), byte(len(msg.Number)))
		out = append(out, []byte(msg.Number)...)
	}
	if msg.Name == "" {
		out = append(out, byte(MDMFAbsentName), 1, 'O')
	} else {
		out = append(out, byte(MDMFName), byte(len(msg.Name)))
		out = append(out, []byte(msg.Name)...)
	}
	return out
}

// renderFSK synthesizes bits as 1200-baud FSK PCM at the port's law.
func renderFSK(law Law, markHz, spaceHz float64, bits []bool) []byte {
	samplesPerBit := cidSampleRate / cidBaud
	out := make([]byte, 0, len(bits)*samplesPerBit)
	phase := 0.0
	for _, bit := range bits {
		freq := spaceHz
		if bit {
			freq = markHz
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

// markLeadBits returns d worth of steady mark-frequency bits, the lead-in
// §4.2's send_text prepends to a Bell-202/V.23 text spill ahead of the
// channel-seizure pattern CIDWaveform itself generates.
func markLeadBits(d time.Duration) []bool {
	n := int(d.Seconds() * cidBaud)
	bits := make([]bool, n)
	for i := range bits {
		bits[i] = true
	}
	return bits
}

// FSKDecoder incrementally demodulates a Bell-202/V.23 bitstream fed one
// law-encoded byte at a time, per §4.8's "feed bytes from the FD to the
// library FSK decoder" collection loop. Each bit window is classified by
// comparing single-bin Goertzel energy at the mark and space frequencies,
// the same narrowband-detector idiom used elsewhere in this package for
// in-audio tone decode, rather than a wider filter bank: cheap per sample
// and far less sensitive to window-phase alignment than zero-crossing
// counting is at six samples per bit.
type FSKDecoder struct {
	law     Law
	markHz  float64
	spaceHz float64

	bitAccum []bool
	byteBuf  []byte
	window   []float64

	msg    CIDMessage
	fields []mdmfRaw
	done   bool
}

type mdmfRaw struct {
	tag  MDMFField
	data []byte
}

// NewFSKDecoder constructs a decoder for the given signaling variant.
func NewFSKDecoder(law Law, signaling CIDSignaling) (*FSKDecoder, error) {
	mark, space, err := cidFrequencies(signaling)
	if err != nil {
		return nil, err
	}
	return &FSKDecoder{law: law, markHz: mark, spaceHz: space}, nil
}

// Feed processes one block of law-encoded audio. It returns true once a
// complete, checksum-valid frame has been decoded (Message retrieves it).
func (d *FSKDecoder) Feed(buf []byte) bool {
	if d.done {
		return true
	}
	samplesPerBit := cidSampleRate / cidBaud
	for _, b := range buf {
		s := DecodeSample(d.law, b)
		d.window = append(d.window, float64(s))
		if len(d.window) >= samplesPerBit {
			bit := d.classifyBit(d.window)
			d.bitAccum = append(d.bitAccum, bit)
			d.window = d.window[:0]
			d.tryDecodeByte()
			if d.done {
				return true
			}
		}
	}
	return d.done
}

// classifyBit picks mark or space for one bit window by comparing Goertzel
// energy at the two configured tones: whichever frequency the window
// resonates with more strongly is the bit sent.
func (d *FSKDecoder) classifyBit(window []float64) bool {
	markE := goertzelPower(window, d.markHz, cidSampleRate)
	spaceE := goertzelPower(window, d.spaceHz, cidSampleRate)
	return markE > spaceE
}

// goertzelPower returns the single-bin Goertzel power of samples at freq,
// sampled at sampleRate — the standard recursive narrowband tone detector,
// equivalent to a single DFT bin but computed with one multiply-add per
// sample instead of a full transform.
func goertzelPower(samples []float64, freq, sampleRate float64) float64 {
	w := 2 * math.Pi * freq / sampleRate
	coeff := 2 * math.Cos(w)
	var s0, s1, s2 float64
	for _, x := range samples {
		s0 = x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	return s2*s2 + s1*s1 - coeff*s1*s2
}

func (d *FSKDecoder) tryDecodeByte() {
	// Need start bit + 8 data bits + stop bit = 10 bits of framing.
	for len(d.bitAccum) >= 10 {
		if d.bitAccum[0] {
			// Not a start bit yet (still in mark leader); drop and resync.
			d.bitAccum = d.bitAccum[1:]
			continue
		}
		var b byte
		for i := 0; i < 8; i++ {
			if d.bitAccum[1+i] {
				b |= 1 << i
			}
		}
		d.bitAccum = d.bitAccum[10:]
		d.byteBuf = append(d.byteBuf, b)
		d.tryParseFrame()
		if d.done {
			return
		}
	}
}

func (d *FSKDecoder) tryParseFrame() {
	if len(d.byteBuf) < 2 {
		return
	}
	if d.byteBuf[0] != 0x80 {
		// Not an MDMF header yet; keep only the tail in case we're
		// mid channel-seizure/mark-leader noise.
		if len(d.byteBuf) > 1 {
			d.byteBuf = d.byteBuf[1:]
		}
		return
	}
	msgLen := int(d.byteBuf[1])
	if len(d.byteBuf) < 2+msgLen+1 {
		return
	}
	payload := d.byteBuf[2 : 2+msgLen]
	checksum := d.byteBuf[2+msgLen]

	sum := byte(0x80) + byte(msgLen)
	for _, b := range payload {
		sum += b
	}
	if sum+checksum != 0 {
		d.byteBuf = nil
		return
	}

	d.parseFields(payload)
	d.done = true
}

func (d *FSKDecoder) parseFields(payload []byte) {
	for i := 0; i+1 < len(payload); {
		tag := MDMFField(payload[i])
		length := int(payload[i+1])
		if i+2+length > len(payload) {
			break
		}
		data := payload[i+2 : i+2+length]
		switch tag {
		case MDMFDateTime:
			d.msg.DateTime = string(data)
		case MDMFNumber:
			d.msg.Number = string(data)
		case MDMFName:
			d.msg.Name = string(data)
		case MDMFAbsentNum, MDMFAbsentName:
			// "O" (out of area) or "P" (private); left blank either way.
		}
		i += 2 + length
	}
}

// Message returns the decoded payload once Feed has returned true.
func (d *FSKDecoder) Message() CIDMessage { return d.msg }

// DecodeDTMFHeader parses the digit string a DTMF-signaled Caller-ID spill
// carries: "A" + number + "C" (ETSI-style), or the simpler digit-run forms
// some CPE use; it shrinks leading/trailing framing characters and returns
// the bare number, per §4.8's "decode header flags" step.
func DecodeDTMFHeader(digits string) string {
	s := strings.TrimPrefix(digits, "A")
	s = strings.TrimSuffix(s, "C")
	s = strings.TrimSuffix(s, "#")
	return s
}

// --- ADSI display session -------------------------------------------------

// ADSISession drives the ADSIState machine gated by Port.Flags.ADSI. It
// layers on top of the ordinary Caller-ID spill: once softkeys load, the
// device enters data mode and the session stays connected until the call
// ends or the CPE signals disconnect.
type ADSISession struct {
	port *Port
}

// MWISoftkeyDefinition builds the softkey waveform payload an ADSISession
// loads ahead of a VMWI spill: a single "Message(s) Waiting"/"No Messages"
// display line, encoded the same MDMF-style tag/length/value framing as an
// ordinary Caller-ID field so the CPE's existing ADSI parser handles it.
func MWISoftkeyDefinition(hasNew bool) []byte {
	label := "No Messages"
	if hasNew {
		label = "Message(s) Waiting"
	}
	out := []byte{0x80, byte(len(label))}
	out = append(out, []byte(label)...)
	return out
}

// NewADSISession binds a session to p if p.Flags.ADSI is set; returns nil
// otherwise so callers can skip the state machine entirely in the common
// case.
func NewADSISession(p *Port) *ADSISession {
	if !p.Flags.ADSI {
		return nil
	}
	return &ADSISession{port: p}
}

// LoadSoftkeys transitions Idle -> LoadingSoftkeys and writes the softkey
// definition waveform ahead of the Caller-ID spill.
func (a *ADSISession) LoadSoftkeys(def []byte) error {
	if a.port.ADSI != ADSIIdle {
		return fmt.Errorf("adsi: softkeys load requires idle state, have %v", a.port.ADSI)
	}
	a.port.ADSI = ADSILoadingSoftkeys
	_, err := a.port.dev.Write(def)
	return err
}

// Connect transitions LoadingSoftkeys -> Connected once the CPE has
// acknowledged the softkey load (observed by the caller via a DTMF/FSK ack
// tone; this session does not itself decode that ack).
func (a *ADSISession) Connect() error {
	if a.port.ADSI != ADSILoadingSoftkeys {
		return fmt.Errorf("adsi: connect requires loading-softkeys state, have %v", a.port.ADSI)
	}
	a.port.ADSI = ADSIConnected
	return nil
}

// Disconnect ends the session, e.g. on hangup or CPE-initiated teardown.
func (a *ADSISession) Disconnect() {
	a.port.ADSI = ADSIDisconnected
}
