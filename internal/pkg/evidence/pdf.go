package evidence

import (
	"bytes"
	"fmt"
	"strings"
)

// Document is a flat list of labelled lines rendered into a single page PDF.
// No external PDF library is involved; the output only uses the base
// Helvetica font and a single content stream, which keeps rendering
// byte-for-byte reproducible.
type Document struct {
	Title string
	Lines []Line
}

// Line is one labelled value of the evidence document.
type Line struct {
	Key   string
	Value string
}

// AddLine appends a labelled value.
func (d *Document) AddLine(key, value string) {
	d.Lines = append(d.Lines, Line{Key: key, Value: value})
}

// Render produces the PDF bytes. The same document always renders to the
// same bytes.
func (d *Document) Render() []byte {
	var content bytes.Buffer
	content.WriteString("BT\n/F1 16 Tf\n50 780 Td\n")
	fmt.Fprintf(&content, "(%s) Tj\n", escapePDFText(d.Title))
	content.WriteString("/F1 10 Tf\n14 TL\n0 -30 Td\n")
	for _, line := range d.Lines {
		fmt.Fprintf(&content, "(%s: %s) Tj\nT*\n", escapePDFText(line.Key), escapePDFText(line.Value))
	}
	content.WriteString("ET\n")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", content.Len(), content.String()),
	}

	var out bytes.Buffer
	out.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xrefStart := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n", len(objects)+1)
	out.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&out, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xrefStart)
	return out.Bytes()
}

// escapePDFText escapes the characters that delimit PDF string literals and
// flattens newlines, which would otherwise break the content stream.
func escapePDFText(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		"(", `\(`,
		")", `\)`,
		"\n", " ",
		"\r", " ",
	)
	return r.Replace(s)
}
