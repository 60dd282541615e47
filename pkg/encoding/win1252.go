package encoding

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// ToUTF8 converts a slice of bytes (WIN1252, the charset of the legacy
// branch Firebird databases) to a UTF-8 string. If decoding fails the raw
// bytes are returned as-is rather than failing the read.
func ToUTF8(b []byte) string {
	if len(b) == 0 {
		return ""
	}

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}

	return strings.TrimSpace(string(decoded))
}
