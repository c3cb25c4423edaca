package gateway

import (
	"bytes"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"
)

// responseFieldStreamer incrementally extracts the string value of the
// "response" field from a JSON object that arrives in arbitrary fragments.
// It lets the gateway forward the agent's utterance to consumers while the
// structured decision is still being produced.
//
// The streamer is single-use, mirroring the non-restartable stream it
// feeds from.
type responseFieldStreamer struct {
	pending []byte
	phase   fieldPhase
}

type fieldPhase int

const (
	phaseSeekKey fieldPhase = iota
	phaseSeekColon
	phaseSeekQuote
	phaseInString
	phaseDone
)

var responseKey = []byte(`"response"`)

// Feed consumes the next fragment and returns any newly decoded utterance
// text. Incomplete escapes and split UTF-8 sequences are held back until
// the bytes completing them arrive.
func (f *responseFieldStreamer) Feed(fragment string) string {
	if f.phase == phaseDone {
		return ""
	}
	f.pending = append(f.pending, fragment...)

	var out []byte
	for f.phase != phaseDone {
		switch f.phase {
		case phaseSeekKey:
			idx := bytes.Index(f.pending, responseKey)
			if idx < 0 {
				// Keep a tail that could be a key prefix split across
				// fragments; everything before it is irrelevant.
				keep := len(responseKey) - 1
				if keep > len(f.pending) {
					keep = len(f.pending)
				}
				f.pending = f.pending[len(f.pending)-keep:]
				return string(out)
			}
			f.pending = f.pending[idx+len(responseKey):]
			f.phase = phaseSeekColon

		case phaseSeekColon:
			f.pending = bytes.TrimLeft(f.pending, " \t\r\n")
			if len(f.pending) == 0 {
				return string(out)
			}
			if f.pending[0] != ':' {
				// Matched a string value, not the key. Keep searching.
				f.phase = phaseSeekKey
				continue
			}
			f.pending = f.pending[1:]
			f.phase = phaseSeekQuote

		case phaseSeekQuote:
			f.pending = bytes.TrimLeft(f.pending, " \t\r\n")
			if len(f.pending) == 0 {
				return string(out)
			}
			if f.pending[0] != '"' {
				f.phase = phaseSeekKey
				continue
			}
			f.pending = f.pending[1:]
			f.phase = phaseInString

		case phaseInString:
			decoded, consumed, closed := decodeStringDelta(f.pending)
			out = append(out, decoded...)
			f.pending = f.pending[consumed:]
			if closed {
				f.phase = phaseDone
			} else {
				return string(out)
			}
		}
	}
	return string(out)
}

// decodeStringDelta decodes JSON string content up to an unescaped closing
// quote or the end of data. It reports how many input bytes were consumed;
// trailing incomplete escapes or split UTF-8 runes are left unconsumed.
func decodeStringDelta(data []byte) (decoded []byte, consumed int, closed bool) {
	var out []byte
	i := 0
	for i < len(data) {
		b := data[i]
		if b == '"' {
			return out, i + 1, true
		}
		if b != '\\' {
			out = append(out, b)
			i++
			continue
		}

		// Escape sequence.
		if i+1 >= len(data) {
			break // wait for the escape to complete
		}
		switch data[i+1] {
		case '"', '\\', '/':
			out = append(out, data[i+1])
			i += 2
		case 'b':
			out = append(out, '\b')
			i += 2
		case 'f':
			out = append(out, '\f')
			i += 2
		case 'n':
			out = append(out, '\n')
			i += 2
		case 'r':
			out = append(out, '\r')
			i += 2
		case 't':
			out = append(out, '\t')
			i += 2
		case 'u':
			r, n, ok, wait := decodeUnicodeEscape(data[i:])
			if wait {
				i = appendHeld(&out, data, i)
				return out, i, false
			}
			if !ok {
				out = append(out, []byte(string(utf8.RuneError))...)
				i += n
				continue
			}
			out = utf8.AppendRune(out, r)
			i += n
		default:
			// Invalid escape; pass it through verbatim.
			out = append(out, data[i], data[i+1])
			i += 2
		}
	}

	// Hold back a trailing partial UTF-8 sequence so fragments never split
	// a rune across two deltas.
	held := trailingPartialRune(out)
	if held > 0 {
		out = out[:len(out)-held]
		i -= held
	}
	return out, i, false
}

// decodeUnicodeEscape decodes a \uXXXX escape (with surrogate pairing) at
// the start of data. wait is set when more bytes are needed.
func decodeUnicodeEscape(data []byte) (r rune, n int, ok, wait bool) {
	if len(data) < 6 {
		return 0, 0, false, true
	}
	hi, err := strconv.ParseUint(string(data[2:6]), 16, 32)
	if err != nil {
		return 0, 6, false, false
	}
	r1 := rune(hi)
	if !utf16.IsSurrogate(r1) {
		return r1, 6, true, false
	}

	// High surrogate: a paired \uXXXX may follow.
	if len(data) < 8 {
		return 0, 0, false, true
	}
	if data[6] != '\\' || data[7] != 'u' {
		return 0, 6, false, false // unpaired surrogate
	}
	if len(data) < 12 {
		return 0, 0, false, true
	}
	lo, err := strconv.ParseUint(string(data[8:12]), 16, 32)
	if err != nil {
		return 0, 12, false, false
	}
	combined := utf16.DecodeRune(r1, rune(lo))
	if combined == utf8.RuneError {
		return 0, 12, false, false
	}
	return combined, 12, true, false
}

// appendHeld trims any partial rune from out when an escape forces an
// early return, keeping consumed-byte accounting consistent.
func appendHeld(out *[]byte, data []byte, i int) int {
	held := trailingPartialRune(*out)
	if held > 0 {
		*out = (*out)[:len(*out)-held]
		i -= held
	}
	return i
}

// trailingPartialRune returns how many bytes at the end of b form an
// incomplete UTF-8 sequence, 0 when the tail is well formed.
func trailingPartialRune(b []byte) int {
	if len(b) == 0 {
		return 0
	}
	// Walk back over continuation bytes (at most 3).
	back := 0
	for back < 3 && back < len(b) {
		c := b[len(b)-1-back]
		if c&0xC0 != 0x80 { // not a continuation byte
			if c < 0x80 {
				return 0 // ASCII, complete
			}
			want := 0
			switch {
			case c&0xE0 == 0xC0:
				want = 2
			case c&0xF0 == 0xE0:
				want = 3
			case c&0xF8 == 0xF0:
				want = 4
			default:
				return 0 // invalid lead byte; nothing to hold
			}
			if back+1 < want {
				return back + 1 // sequence incomplete
			}
			return 0
		}
		back++
	}
	return 0
}
