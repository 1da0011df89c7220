package otp

import "fmt"

// RFC 4648 Base32 alphabet. Secrets are emitted without padding because
// authenticator apps neither need nor expect it.
const base32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// Base32Encode packs bits MSB-first into 5-bit groups. Output length is
// ceil(len(b)*8/5); no padding characters are emitted.
func Base32Encode(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	out := make([]byte, 0, (len(b)*8+4)/5)
	var buf uint32
	bits := 0
	for _, c := range b {
		buf = buf<<8 | uint32(c)
		bits += 8
		for bits >= 5 {
			out = append(out, base32Alphabet[(buf>>(bits-5))&0x1F])
			bits -= 5
		}
	}
	if bits > 0 {
		out = append(out, base32Alphabet[(buf<<(5-bits))&0x1F])
	}
	return string(out)
}

// Base32Decode reverses Base32Encode, yielding floor(len(s)*5/8) bytes.
// Decoding is case-insensitive; any byte outside the alphabet fails with
// ErrMalformedInput. Trailing bits that do not fill a byte are dropped,
// matching the encoder.
func Base32Decode(s string) ([]byte, error) {
	out := make([]byte, 0, len(s)*5/8)
	var buf uint32
	bits := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		var v uint32
		switch {
		case c >= 'A' && c <= 'Z':
			v = uint32(c - 'A')
		case c >= 'a' && c <= 'z':
			v = uint32(c - 'a')
		case c >= '2' && c <= '7':
			v = uint32(c-'2') + 26
		default:
			return nil, fmt.Errorf("%w: invalid base32 character %q at index %d", ErrMalformedInput, c, i)
		}
		buf = buf<<5 | v
		bits += 5
		if bits >= 8 {
			out = append(out, byte(buf>>(bits-8)))
			bits -= 8
		}
	}
	return out, nil
}
