package ndr

import (
	"strings"

	"golang.org/x/text/encoding/unicode"

	"github.com/wippyai/ndr-runtime/errors"
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// EncodeText converts s to UTF-16LE code units followed by a NUL
// terminator, the wide-character form used on the stack and on the wire.
// The terminator ends the string, so s must not contain NUL.
func EncodeText(s string) ([]byte, error) {
	if i := strings.IndexByte(s, 0); i >= 0 {
		return nil, errors.New(errors.PhaseMarshal, errors.KindInvalidInput).
			Detail("text contains NUL at byte %d", i).Build()
	}
	enc, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, errors.InvalidUTF16(errors.PhaseMarshal, nil, err)
	}
	return append(enc, 0, 0), nil
}

// DecodeText converts UTF-16LE code units to a string. A trailing NUL
// terminator, if present, is dropped.
func DecodeText(units []byte) (string, error) {
	if len(units)%2 != 0 {
		return "", errors.InvalidData(errors.PhaseUnmarshal, nil, "odd length wide string")
	}
	if n := len(units); n >= 2 && units[n-2] == 0 && units[n-1] == 0 {
		units = units[:n-2]
	}
	dec, err := utf16le.NewDecoder().Bytes(units)
	if err != nil {
		return "", errors.InvalidUTF16(errors.PhaseUnmarshal, nil, err)
	}
	return string(dec), nil
}

// TextUnits returns the number of UTF-16 code units of s including the
// terminator.
func TextUnits(encoded []byte) uint32 {
	return uint32(len(encoded) / 2)
}
