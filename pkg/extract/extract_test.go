package extract

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF writes a one-page document whose content stream is content.
func buildPDF(t *testing.T, content string, compress bool) []byte {
	t.Helper()
	stream := []byte(content)
	filter := ""
	if compress {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		_, err := zw.Write(stream)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		stream = buf.Bytes()
		filter = " /Filter /FlateDecode"
	}
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
		fmt.Sprintf("<< /Length %d%s >>\nstream\n%s\nendstream", len(stream), filter, stream),
	}

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return b.Bytes()
}

// brokenPDF sniffs as a PDF but points its cross-reference table nowhere.
func brokenPDF() []byte {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	b.WriteString(strings.Repeat("% padding\n", 20))
	b.WriteString("startxref\n999999\n%%EOF\n")
	return b.Bytes()
}

func TestText_PDF(t *testing.T) {
	ops := "BT /F1 12 Tf 72 712 Td (Quarterly signal report) Tj ET\nBT /F1 12 Tf 72 690 Td [(Node ) -20 (mirror\\) ready)] TJ ET"

	for _, compress := range []bool{false, true} {
		out, err := Text("application/pdf", buildPDF(t, ops, compress))
		require.NoError(t, err)
		assert.Contains(t, out, "Quarterly signal report")
		assert.Contains(t, out, "mirror) ready")
	}

	_, err := Text("application/pdf", buildPDF(t, "q 1 0 0 1 0 0 cm Q", false))
	assert.ErrorIs(t, err, ErrNoText)

	_, err = Text("application/pdf", brokenPDF())
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Text("application/pdf", []byte("not a pdf"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestText_TruncatesOnRuneBoundary(t *testing.T) {
	long := "a" + strings.Repeat("é", MaxTextBytes)
	out, err := Text("text/plain", []byte(long))
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(out))
	assert.LessOrEqual(t, len(out), MaxTextBytes)
}

func TestText_HTML(t *testing.T) {
	html := `<html><head><style>h1{color:red}</style><script>alert(1)</script></head>
<body><h1>Release</h1><p>Ship <strong>today</strong>.</p></body></html>`
	out, err := Text("text/html; charset=utf-8", []byte(html))
	require.NoError(t, err)
	assert.Contains(t, out, "# Release")
	assert.Contains(t, out, "**today**")
	assert.NotContains(t, out, "alert")
	assert.NotContains(t, out, "color")
}

func TestText_TextLikeAndUnsupported(t *testing.T) {
	out, err := Text("application/json", []byte(` {"a":1} `))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out)

	out, err = Text("text/markdown", []byte("# hi"))
	require.NoError(t, err)
	assert.Equal(t, "# hi", out)

	_, err = Text("image/png", []byte{0x89, 'P', 'N', 'G'})
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Text("text/plain", []byte("   "))
	assert.ErrorIs(t, err, ErrNoText)

	long := bytes.Repeat([]byte("a"), MaxTextBytes+10)
	out, err = Text("text/plain", long)
	require.NoError(t, err)
	assert.Len(t, out, MaxTextBytes)
}

func TestDetector(t *testing.T) {
	d := NewDetector(nil)

	mt, ok := d.Detect(buildPDF(t, "BT (x) Tj ET", false), "")
	assert.True(t, ok)
	assert.Equal(t, "application/pdf", mt)

	mt, ok = d.Detect([]byte("# Title\n\nsome notes"), "text/markdown")
	assert.True(t, ok)
	assert.Equal(t, "text/markdown", mt)

	mt, ok = d.Detect([]byte("plain words"), "")
	assert.True(t, ok)
	assert.Equal(t, "text/plain", mt)

	// A declared text type never launders binary content.
	zip := []byte("PK\x03\x04\x14\x00\x00\x00\x08\x00")
	mt, ok = d.Detect(zip, "text/plain")
	assert.False(t, ok)
	assert.Equal(t, "application/zip", mt)

	strict := NewDetector([]string{"application/pdf"})
	_, ok = strict.Detect([]byte("plain words"), "text/plain")
	assert.False(t, ok)
}
