package ocr

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZoroCRE/cv-analyzer/constants"
	"github.com/ZoroCRE/cv-analyzer/internal/common"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls   []call
	outputs map[string]string // binary -> stdout
	fail    map[string]error
	pages   int // number of pngs pdftoppm "renders"
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	if err := f.fail[name]; err != nil {
		return nil, []byte("boom"), err
	}
	if name == "pdftoppm" {
		prefix := args[len(args)-1]
		for i := 1; i <= f.pages; i++ {
			p := prefix + "-" + string(rune('0'+i)) + ".png"
			if err := os.WriteFile(p, []byte("png"), 0o600); err != nil {
				return nil, nil, err
			}
		}
		return nil, nil, nil
	}
	return []byte(f.outputs[name]), nil, nil
}

func (f *fakeRunner) count(name string) int {
	n := 0
	for _, c := range f.calls {
		if c.name == name {
			n++
		}
	}
	return n
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const layerText = "Jane Doe\nSenior Engineer with ten years of experience building distributed systems in Go."

func TestExtract_PDFTextLayer(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{"pdftotext": layerText + "\f"}}
	e := newExtractor(Config{}, r, quietLogger())

	res, err := e.Extract(context.Background(), "/tmp/cv.PDF")
	require.NoError(t, err)
	assert.Equal(t, "pdf-text", res.Method)
	assert.Equal(t, constants.PDF, res.Format)
	assert.Equal(t, 1, res.Pages)
	assert.Contains(t, res.Text, "distributed systems")
	assert.Equal(t, 0, r.count("tesseract"))
}

func TestExtract_PDFFallsBackToOCR(t *testing.T) {
	r := &fakeRunner{
		outputs: map[string]string{"pdftotext": "  \f", "tesseract": "scanned page text"},
		pages:   3,
	}
	e := newExtractor(Config{MaxPages: 2}, r, quietLogger())

	res, err := e.Extract(context.Background(), "/tmp/scan.pdf")
	require.NoError(t, err)
	assert.Equal(t, "pdf-ocr", res.Method)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 2, r.count("tesseract"))
	assert.Equal(t, "scanned page text\n\nscanned page text", res.Text)
}

func TestExtract_PDFToTextFailure(t *testing.T) {
	r := &fakeRunner{fail: map[string]error{"pdftotext": errors.New("exit status 1")}}
	e := newExtractor(Config{}, r, quietLogger())

	_, err := e.Extract(context.Background(), "/tmp/broken.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftotext")
}

func TestExtract_Image(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{"tesseract": "Jane   Doe\r\n\n\n\nGo developer"}}
	e := newExtractor(Config{TessdataDir: "/usr/share/tessdata"}, r, quietLogger())

	res, err := e.Extract(context.Background(), "/tmp/photo.jpeg")
	require.NoError(t, err)
	assert.Equal(t, "image-ocr", res.Method)
	assert.Equal(t, "Jane Doe\n\nGo developer", res.Text)
	require.Len(t, r.calls, 1)
	assert.Equal(t, []string{"/tmp/photo.jpeg", "stdout", "-l", "eng", "--tessdata-dir", "/usr/share/tessdata"}, r.calls[0].args)
}

func TestExtract_DOCX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cv.docx")
	writeDocx(t, path, `<?xml version="1.0" encoding="UTF-8"?>`+
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`+
		`<w:p><w:r><w:t>Jane Doe</w:t></w:r></w:p>`+
		`<w:p><w:r><w:t>Skills:</w:t><w:tab/><w:t>Go</w:t><w:br/><w:t>SQL</w:t></w:r></w:p>`+
		`</w:body></w:document>`)

	e := newExtractor(Config{}, &fakeRunner{}, quietLogger())
	res, err := e.Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "docx-xml", res.Method)
	assert.Equal(t, "Jane Doe\nSkills: Go\nSQL", res.Text)
}

func TestExtract_DOCXMissingBody(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	e := newExtractor(Config{}, &fakeRunner{}, quietLogger())
	_, err = e.Extract(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "word/document.xml")
}

func TestExtract_Unsupported(t *testing.T) {
	e := newExtractor(Config{}, &fakeRunner{}, quietLogger())
	_, err := e.Extract(context.Background(), "/tmp/cv.odt")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUnsupportedFormat)
}

func TestNormalize(t *testing.T) {
	in := "Name:\t\tJane\r\n______\r\n\n\n\nExperience   here  \fPage two"
	assert.Equal(t, "Name: Jane\n\nExperience here\n\nPage two", Normalize(in))
	assert.Equal(t, "", Normalize(""))
	assert.False(t, strings.HasSuffix(Normalize("x\n\n"), "\n"))
}

func writeDocx(t *testing.T, path, body string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}
