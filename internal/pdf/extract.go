// Package pdf turns uploaded PDF bytes into per-page plain text.
package pdf

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	lpdf "github.com/ledongthuc/pdf"

	appErr "github.com/xxxsen/pdfchat/internal/pkg/errors"
)

const mimePDF = "application/pdf"

type File interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

type Page struct {
	Number int
	Text   string
}

type Result struct {
	PageCount int
	Pages     []Page
}

func CheckExtension(filename string) error {
	if strings.ToLower(filepath.Ext(filename)) != ".pdf" {
		return fmt.Errorf("%w: %s is not a pdf file", appErr.ErrUnsupportedFormat, filename)
	}
	return nil
}

// Sniff verifies the content type from the leading bytes and rewinds f.
func Sniff(f File) error {
	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return fmt.Errorf("%w: detect content type: %v", appErr.ErrUnsupportedFormat, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if !mtype.Is(mimePDF) {
		return fmt.Errorf("%w: content type %s", appErr.ErrUnsupportedFormat, mtype.String())
	}
	return nil
}

// Extract parses size bytes of f. Pages without text are counted but not returned.
func Extract(f io.ReaderAt, size int64) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("%w: malformed pdf: %v", appErr.ErrUnsupportedFormat, r)
		}
	}()
	reader, err := lpdf.NewReader(f, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrUnsupportedFormat, err)
	}
	total := reader.NumPage()
	res = &Result{PageCount: total, Pages: make([]Page, 0, total)}
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", appErr.ErrUnsupportedFormat, i, err)
		}
		text = normalize(text)
		if text == "" {
			continue
		}
		res.Pages = append(res.Pages, Page{Number: i, Text: text})
	}
	return res, nil
}

// ExtractFile runs the extension, content and parse checks on an upload.
func ExtractFile(filename string, f File, size int64) (*Result, error) {
	if err := CheckExtension(filename); err != nil {
		return nil, err
	}
	if err := Sniff(f); err != nil {
		return nil, err
	}
	res, err := Extract(f, size)
	if err != nil {
		return nil, err
	}
	if len(res.Pages) == 0 {
		return nil, fmt.Errorf("%w: no extractable text in %s", appErr.ErrUnsupportedFormat, filename)
	}
	return res, nil
}

func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	return strings.TrimSpace(text)
}
