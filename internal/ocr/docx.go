package ocr

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ZoroCRE/cv-analyzer/constants"
)

const docxBody = "word/document.xml"

// extractDOCX reads the raw text runs of word/document.xml. Paragraphs and
// explicit breaks become newlines, tabs become tabs.
func (e *Extractor) extractDOCX(path string) (ExtractionResult, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return ExtractionResult{Format: constants.DOCX}, fmt.Errorf("open docx: %w", err)
	}
	defer zr.Close()

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBody {
			body = f
			break
		}
	}
	if body == nil {
		return ExtractionResult{Format: constants.DOCX}, fmt.Errorf("open docx: %s not found", docxBody)
	}

	rc, err := body.Open()
	if err != nil {
		return ExtractionResult{Format: constants.DOCX}, fmt.Errorf("open %s: %w", docxBody, err)
	}
	defer rc.Close()

	text, err := docxText(rc)
	if err != nil {
		return ExtractionResult{Format: constants.DOCX}, err
	}
	return ExtractionResult{Text: Normalize(text), Pages: 1, Format: constants.DOCX, Method: "docx-xml"}, nil
}

func docxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse docx xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteString("\t")
			case "br", "cr":
				b.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}
