package instructions

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractReader(t *testing.T) {
	tests := []struct {
		name string
		file string
		in   string
		want string
	}{
		{
			name: "plain text",
			file: "instructions.txt",
			in:   "\ufeffAgreement is ACS\r\nUse the July-June fiscal year\r\n",
			want: "Agreement is ACS\nUse the July-June fiscal year\n",
		},
		{
			name: "markdown",
			file: "rules.md",
			in:   "# Title\n\nMap **ID** to `Pub_ID`.\n\n- Agreement is ACS\n- Drop cancelled rows\n",
			want: "Title\nMap ID to Pub_ID.\nAgreement is ACS\nDrop cancelled rows\n",
		},
		{
			name: "csv",
			file: "rules.csv",
			in:   "Step,Rule\n1,Agreement = ACS\n,\n2,\n",
			want: "Step\tRule\n1\tAgreement = ACS\n2\n",
		},
		{
			name: "unknown extension read as text",
			file: "rules.rtf",
			in:   "Agreement is ACS\r\n",
			want: "Agreement is ACS\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractReader(strings.NewReader(tt.in), tt.file)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func docx(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractDocx(t *testing.T) {
	data := docx(t, `<w:p><w:r><w:t>Agreement</w:t><w:tab/><w:t>ACS</w:t></w:r></w:p>`+
		`<w:p><w:r><w:t xml:space="preserve">Fiscal year </w:t></w:r><w:r><w:t>July-June</w:t></w:r></w:p>`)

	got, err := ExtractReader(bytes.NewReader(data), "Rules.DOCX")
	require.NoError(t, err)
	assert.Equal(t, "Agreement\tACS\nFiscal year July-June\n", got)

	_, err = ExtractReader(strings.NewReader("not a zip"), "rules.docx")
	assert.Error(t, err)
}

// pdfDoc builds a one page PDF showing lines in Helvetica
func pdfDoc(t *testing.T, lines ...string) []byte {
	t.Helper()
	var content strings.Builder
	content.WriteString("BT /F1 12 Tf 72 720 Td 14 TL\n")
	for i, l := range lines {
		if i > 0 {
			content.WriteString("T*\n")
		}
		fmt.Fprintf(&content, "(%s) Tj\n", l)
	}
	content.WriteString("ET")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()),
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestExtractPDF(t *testing.T) {
	data := pdfDoc(t, "Agreement is ACS", "Fiscal year July-June")

	got, err := ExtractReader(bytes.NewReader(data), "Rules.PDF")
	require.NoError(t, err)
	assert.Contains(t, got, "Agreement is ACS")
	assert.Contains(t, got, "Fiscal year July-June")
	assert.True(t, strings.HasSuffix(got, "\n"))

	_, err = ExtractReader(bytes.NewReader(pdfDoc(t)), "scan.pdf")
	assert.Error(t, err)

	_, err = ExtractReader(strings.NewReader("%PDF-1.7"), "truncated.pdf")
	assert.Error(t, err)
}

func TestExtractNeverFails(t *testing.T) {
	dir := t.TempDir()

	pdf := filepath.Join(dir, "instructions.pdf")
	require.NoError(t, os.WriteFile(pdf, pdfDoc(t, "Agreement is ACS"), 0644))
	assert.Contains(t, Extract(pdf), "Agreement is ACS")

	broken := filepath.Join(dir, "instructions.docx")
	require.NoError(t, os.WriteFile(broken, []byte("not a zip"), 0644))
	got := Extract(broken)
	assert.True(t, strings.HasPrefix(got, ReadErrorMarker), got)

	binary := filepath.Join(dir, "instructions.bin")
	require.NoError(t, os.WriteFile(binary, []byte{0xff, 0xfe, 0x00, 0x81}, 0644))
	got = Extract(binary)
	assert.True(t, strings.HasPrefix(got, ReadErrorMarker), got)
	assert.Contains(t, got, ".bin")

	got = Extract(filepath.Join(dir, "missing.txt"))
	assert.True(t, strings.HasPrefix(got, ReadErrorMarker), got)

	txt := filepath.Join(dir, "instructions.txt")
	require.NoError(t, os.WriteFile(txt, []byte("Agreement is ACS"), 0644))
	assert.Equal(t, "Agreement is ACS", Extract(txt))
}
