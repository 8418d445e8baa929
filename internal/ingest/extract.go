package ingest

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Page is one unit of extracted text. Number is 1-based for paged formats
// and 0 when the format has no page concept.
type Page struct {
	Number int
	Text   string
}

// Extractor pulls text out of one file format.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]Page, error)
}

// ExtractorFor returns the extractor for a filename, keyed on extension.
func ExtractorFor(filename string) (Extractor, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".markdown":
		return plainExtractor{}, nil
	case ".pdf":
		return pdfExtractor{}, nil
	case ".docx":
		return docxExtractor{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, filename)
	}
}

// SupportedExtensions lists the file extensions ingestion accepts.
func SupportedExtensions() []string {
	return []string{".txt", ".md", ".markdown", ".pdf", ".docx"}
}

// plainExtractor reads the whole file as UTF-8 text.
type plainExtractor struct{}

func (plainExtractor) Extract(_ context.Context, path string) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return []Page{{Number: 0, Text: string(data)}}, nil
}

// pdfExtractor extracts text page by page so chunk provenance can carry
// page numbers. Pages that fail to decode are skipped rather than failing
// the whole document; PDFs routinely contain individual broken pages.
type pdfExtractor struct{}

func (pdfExtractor) Extract(ctx context.Context, path string) ([]Page, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	var pages []Page
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("pdf %s: %w", path, ErrEmptyDocument)
	}
	return pages, nil
}

// docxExtractor reads word/document.xml from the OOXML archive and joins
// text runs, one newline per paragraph.
type docxExtractor struct{}

func (docxExtractor) Extract(_ context.Context, path string) ([]Page, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening docx %s: %w", path, err)
	}
	defer archive.Close()

	var docXML *zip.File
	for _, f := range archive.File {
		if f.Name == "word/document.xml" {
			docXML = f
			break
		}
	}
	if docXML == nil {
		return nil, fmt.Errorf("docx %s has no word/document.xml: %w", path, ErrUnsupportedType)
	}

	rc, err := docXML.Open()
	if err != nil {
		return nil, fmt.Errorf("opening document.xml in %s: %w", path, err)
	}
	defer rc.Close()

	text, err := docxText(rc)
	if err != nil {
		return nil, fmt.Errorf("parsing docx %s: %w", path, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("docx %s: %w", path, ErrEmptyDocument)
	}
	return []Page{{Number: 0, Text: text}}, nil
}

// docxText walks the document XML, collecting character data inside w:t
// elements and emitting a newline at each paragraph end.
func docxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		sb     strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}
