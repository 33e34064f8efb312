// Package extract detects upload media types and pulls readable text out of
// the documents the intake accepts.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"regexp"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

var (
	ErrUnsupported = errors.New("extract: unsupported media type")
	ErrNoText      = errors.New("extract: no text found")
	// ErrMalformed marks a recognized document that could not be parsed.
	ErrMalformed = errors.New("extract: malformed document")
)

// DefaultAllowed is the upload allow-list.
var DefaultAllowed = []string{
	"application/pdf",
	"text/plain",
	"text/markdown",
	"text/html",
	"application/json",
	"text/yaml",
	"application/yaml",
	"text/csv",
	"image/png",
	"image/jpeg",
}

// MaxTextBytes caps the text returned by Text.
const MaxTextBytes = 64 << 10

// Detector sniffs uploads against an allow-list.
type Detector struct {
	allowed []string
}

func NewDetector(allowed []string) *Detector {
	if len(allowed) == 0 {
		allowed = DefaultAllowed
	}
	return &Detector{allowed: allowed}
}

// Detect sniffs data and reports the media type and whether it, or one of
// its parents, is allowed. Markdown and YAML sniff as plain text, so a
// declared text type wins when the content sniffs as text.
func (d *Detector) Detect(data []byte, declared string) (string, bool) {
	m := mimetype.Detect(data)
	sniffed := baseType(m.String())
	if dt := baseType(declared); dt != "" && dt != sniffed && textual(dt) && isText(m) && d.allowedType(dt) {
		return dt, true
	}
	for p := m; p != nil; p = p.Parent() {
		if d.allowedType(p.String()) {
			return sniffed, true
		}
	}
	return sniffed, false
}

func isText(m *mimetype.MIME) bool {
	for p := m; p != nil; p = p.Parent() {
		if p.Is("text/plain") {
			return true
		}
	}
	return false
}

func textual(t string) bool {
	return strings.HasPrefix(t, "text/") || t == "application/json" || strings.HasSuffix(t, "yaml") || strings.HasSuffix(t, "+json")
}

func (d *Detector) allowedType(t string) bool {
	t = baseType(t)
	for _, a := range d.allowed {
		if strings.EqualFold(a, t) {
			return true
		}
	}
	return false
}

func baseType(t string) string {
	if t == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(t)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(t))
	}
	return mt
}

// Text returns readable text for data of the given media type. HTML becomes
// markdown, text-like types are returned as is and PDF pages are read as
// plain text. Images and unknown types yield ErrUnsupported.
func Text(mediaType string, data []byte) (string, error) {
	t := baseType(mediaType)
	var (
		out string
		err error
	)
	switch {
	case t == "text/html" || t == "application/xhtml+xml":
		out, err = htmlToMarkdown(data)
	case textual(t):
		out = string(data)
	case t == "application/pdf":
		out, err = pdfText(data)
	default:
		return "", ErrUnsupported
	}
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrNoText
	}
	if len(out) > MaxTextBytes {
		cut := MaxTextBytes
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut]
	}
	return out, nil
}

var (
	scriptRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

func htmlToMarkdown(data []byte) (string, error) {
	cleaned := scriptRe.ReplaceAll(data, nil)
	cleaned = styleRe.ReplaceAll(cleaned, nil)

	conv := md.NewConverter("", true, nil)
	conv.Use(plugin.GitHubFlavored())
	out, err := conv.ConvertString(string(cleaned))
	if err != nil {
		return "", err
	}
	return blankRe.ReplaceAllString(out, "\n\n"), nil
}

// pdfText reads the text of every page. Malformed documents, including ones
// that make the parser panic, are reported as ErrMalformed.
func pdfText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var b strings.Builder
	for i := 1; i <= r.NumPage() && b.Len() < MaxTextBytes; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		t, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %v", ErrMalformed, i, err)
		}
		b.WriteString(t)
		b.WriteByte('\n')
	}
	return b.String(), nil
}
