package protocol

// DecodePath replaces %XX escapes with the byte they encode.
// A '%' not followed by two hex digits is copied as is, so decoding never fails.
func DecodePath(encoded string) string {
	decoded := make([]byte, 0, len(encoded))

	for i := 0; i < len(encoded); i++ {
		c := encoded[i]
		if c == '%' && i+2 < len(encoded) {
			hi, okHi := unhex(encoded[i+1])
			lo, okLo := unhex(encoded[i+2])
			if okHi && okLo {
				decoded = append(decoded, hi<<4|lo)
				i += 2
				continue
			}
		}
		decoded = append(decoded, c)
	}

	return string(decoded)
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
