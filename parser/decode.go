package parser

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Plate readers export text in whatever encoding the vendor software felt
// like that day; these are tried in order.
var encodings = []string{"utf-8", "utf-16", "iso-8859-1"}

// decodeFile reads the file and decodes it with the named encoding,
// returning an error when the bytes are not valid in that encoding.
func decodeFile(filename, encoding string) (string, error) {
	raw, err := ioutil.ReadFile(filename)
	if err != nil {
		return "", err
	}
	return decode(raw, encoding)
}

func decode(raw []byte, encoding string) (string, error) {
	switch encoding {
	case "utf-8":
		raw = bytes.TrimPrefix(raw, []byte{0xef, 0xbb, 0xbf})
		if !utf8.Valid(raw) {
			return "", fmt.Errorf("parser: not valid utf-8")
		}
		return string(raw), nil
	case "utf-16":
		if len(raw) < 2 || !((raw[0] == 0xff && raw[1] == 0xfe) || (raw[0] == 0xfe && raw[1] == 0xff)) {
			return "", fmt.Errorf("parser: utf-16 without byte order mark")
		}
		decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder().Bytes(raw)
		if err != nil {
			return "", err
		}
		return string(decoded), nil
	case "iso-8859-1":
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
		if err != nil {
			return "", err
		}
		return string(decoded), nil
	}
	return "", fmt.Errorf("parser: unsupported encoding %q", encoding)
}

// tryEncodings decodes the file with each known encoding in turn and hands
// the text to parse, returning the first success.
func tryEncodings(filename string, parse func(text string) (*RawPlate, error)) (*RawPlate, error) {
	var lastErr error
	for _, encoding := range encodings {
		text, err := decodeFile(filename, encoding)
		if err != nil {
			lastErr = err
			continue
		}
		raw, err := parse(text)
		if err != nil {
			lastErr = err
			continue
		}
		return raw, nil
	}
	return nil, fmt.Errorf("parser: could not parse %s with any of the encodings %v: %w", filename, encodings, lastErr)
}
