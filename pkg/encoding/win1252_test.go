package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToUTF8(t *testing.T) {
	assert.Equal(t, "", ToUTF8(nil))
	assert.Equal(t, "Paper", ToUTF8([]byte("Paper")))

	// 0xED is í in WIN1252
	assert.Equal(t, "Papelería", ToUTF8([]byte{'P', 'a', 'p', 'e', 'l', 'e', 'r', 0xED, 'a'}))

	// Surrounding whitespace from CHAR columns is trimmed
	assert.Equal(t, "East", ToUTF8([]byte("  East  ")))
}
