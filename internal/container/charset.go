package container

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/islishude/mangaview/internal/compress"
)

// Options tunes how a container is read.
type Options struct {
	// Charset decodes entry names that are not valid UTF-8. Nil keeps UTF-8
	// only; zip names then fall back to CP437.
	Charset encoding.Encoding
	// Filter forces the stream filter in front of tar containers.
	Filter compress.Filter
}

// NewOptions resolves a charset label such as "utf-8", "shift_jis" or "cp437".
func NewOptions(charsetLabel string) (Options, error) {
	enc, err := ResolveCharset(charsetLabel)
	if err != nil {
		return Options{}, err
	}
	return Options{Charset: enc, Filter: compress.Auto}, nil
}

// ResolveCharset returns nil for UTF-8 or an empty label.
func ResolveCharset(label string) (encoding.Encoding, error) {
	label = strings.ToLower(strings.TrimSpace(label))
	switch label {
	case "", "utf-8", "utf8":
		return nil, nil
	case "cp437", "ibm437":
		return charmap.CodePage437, nil
	}
	enc, _ := charset.Lookup(label)
	if enc == nil {
		return nil, fmt.Errorf("unknown header charset %q", label)
	}
	return enc, nil
}

func (o Options) decodeName(format Format, name string) string {
	if utf8.ValidString(name) {
		return name
	}
	enc := o.Charset
	if enc == nil && format == FormatZip {
		enc = charmap.CodePage437
	}
	if enc != nil {
		if s, err := enc.NewDecoder().String(name); err == nil {
			return s
		}
	}
	return strings.ToValidUTF8(name, "\uFFFD")
}
