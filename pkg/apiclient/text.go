package apiclient

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var mojibakeMarkers = []string{"Ã", "Â", "â€"}

// NormalizeText turns a text export into clean UTF-8. Bodies that are not valid UTF-8 are
// read as Windows-1252; valid UTF-8 carrying the usual double-encoding markers is repaired
// when the reverse mapping produces valid UTF-8.
func NormalizeText(body []byte) string {
	body = trimBOM(body)

	if !utf8.Valid(body) {
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(body)
		if err != nil {
			return strings.ToValidUTF8(string(body), "�")
		}
		return string(decoded)
	}

	text := string(body)
	if !hasMojibake(text) {
		return text
	}

	return repairDoubleEncoding(text)
}

func trimBOM(body []byte) []byte {
	if len(body) >= 3 && body[0] == 0xEF && body[1] == 0xBB && body[2] == 0xBF {
		return body[3:]
	}
	return body
}

func hasMojibake(text string) bool {
	for _, marker := range mojibakeMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func repairDoubleEncoding(text string) string {
	for _, cm := range []*charmap.Charmap{charmap.Windows1252, charmap.ISO8859_1} {
		raw, err := cm.NewEncoder().String(text)
		if err != nil {
			continue
		}
		if utf8.ValidString(raw) {
			return raw
		}
	}
	return text
}
