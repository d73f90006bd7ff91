// Package instructions flattens an instructions document to plain text for
// the plan prompt.
package instructions

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/kris-hansen/sheetsmith/utils/config"
	"github.com/kris-hansen/sheetsmith/utils/sheet"
	"github.com/ledongthuc/pdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ReadErrorMarker prefixes the text returned for documents that could not be
// read. The job carries on with the marker as its instructions.
const ReadErrorMarker = "[INSTRUCTIONS_READ_ERROR]"

// Extract returns the text of the document at path. It never fails: problems
// are reported inside the returned text.
func Extract(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return marker(err)
	}
	defer f.Close()

	out, err := ExtractReader(f, filepath.Base(path))
	if err != nil {
		config.VerboseLog("Could not read instructions %s: %v", filepath.Base(path), err)
		return marker(err)
	}
	return out
}

// ExtractReader decodes r according to the extension of name
func ExtractReader(r io.Reader, name string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case "", ".txt", ".text":
		return plainText(data), nil
	case ".md", ".markdown":
		return markdownText(data), nil
	case ".csv", ".tsv", ".xlsx", ".xlsm":
		return tableText(data, sheet.FormatFromName(name))
	case ".docx":
		return docxText(data)
	case ".pdf":
		return pdfText(data)
	default:
		if !utf8.Valid(data) {
			return "", fmt.Errorf("unsupported instructions format %s", ext)
		}
		return plainText(data), nil
	}
}

func marker(err error) string {
	return ReadErrorMarker + " " + err.Error()
}

// pdfText joins the text of every page. Scanned documents without a text
// layer are an error.
func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}

	var pages []string
	for n := 1; n <= r.NumPage(); n++ {
		p := r.Page(n)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to read PDF page %d: %w", n, err)
		}
		if text = strings.TrimSpace(plainText([]byte(text))); text != "" {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 {
		return "", fmt.Errorf("PDF has no extractable text")
	}
	return strings.Join(pages, "\n\n") + "\n", nil
}

func plainText(data []byte) string {
	s := strings.ToValidUTF8(string(data), "")
	s = strings.TrimPrefix(s, "\ufeff")
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// markdownText keeps the words of a markdown document and drops its markup.
// Blocks end with a newline; code blocks are kept line by line.
func markdownText(data []byte) string {
	src := []byte(plainText(data))
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte('\n')
				}
			}
			return ast.WalkContinue, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(src))
				}
			}
			return ast.WalkSkipChildren, nil
		}
		if !entering && n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
			if !strings.HasSuffix(b.String(), "\n") {
				b.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String()) + "\n"
}

// tableText writes one line per row, non-empty cells separated by tabs
func tableText(data []byte, format sheet.Format) (string, error) {
	s, err := sheet.Read(bytes.NewReader(data), format)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	writeRow := func(cells []string) {
		var parts []string
		for _, c := range cells {
			if c = strings.TrimSpace(c); c != "" {
				parts = append(parts, c)
			}
		}
		if len(parts) > 0 {
			b.WriteString(strings.Join(parts, "\t"))
			b.WriteByte('\n')
		}
	}
	writeRow(s.Header)
	for _, r := range s.Rows {
		writeRow(r)
	}
	return b.String(), nil
}

// docxText reads the paragraphs of word/document.xml
func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("not a docx file: %w", err)
	}
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("docx file has no word/document.xml")
	}
	rc, err := doc.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var b strings.Builder
	dec := xml.NewDecoder(rc)
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("error parsing document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}
