// Package format holds the pure payload transforms applied between a
// successful fetch and persistence. Formatting is synchronous and has
// no I/O; a malformed payload is a persistence-domain failure, never a
// fetch failure.
package format

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/GuiPezoti/b3-scraper/internal/catalog"
)

// ErrMalformed indicates a payload that does not match the expected
// export framing.
var ErrMalformed = errors.New("format: malformed payload")

// Apply runs the transform registered for f on raw.
func Apply(f catalog.Format, raw []byte) ([]byte, error) {
	switch f {
	case catalog.FormatEarnings:
		return earnings(raw)
	case catalog.FormatTSV:
		return tsvToCSV(raw), nil
	case catalog.FormatZipFirst:
		return unzipFirst(raw)
	default:
		return raw, nil
	}
}

// earnings cleans the BDI table export: the endpoint frames the CSV in
// an escaped string with a header section separated from the table by a
// blank line. Keep the table, unescape separators.
func earnings(raw []byte) ([]byte, error) {
	s := string(raw)
	if len(s) > 3 {
		s = s[2 : len(s)-1]
	}
	s = strings.ReplaceAll(s, `\t`, ",")
	s = strings.ReplaceAll(s, `\n`, "\n")

	sections := strings.SplitN(s, "\n\n", 3)
	if len(sections) < 2 {
		return nil, fmt.Errorf("%w: missing table section", ErrMalformed)
	}
	return []byte(sections[1]), nil
}

// tsvToCSV rewrites a tab-separated payload as comma-separated and
// drops carriage returns.
func tsvToCSV(raw []byte) []byte {
	out := bytes.ReplaceAll(raw, []byte("\t"), []byte(","))
	return bytes.ReplaceAll(out, []byte("\r"), nil)
}

// unzipFirst extracts the first entry of a zip archive. The trade tape
// endpoint ships exactly one CSV per archive.
func unzipFirst(raw []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(zr.File) == 0 {
		return nil, fmt.Errorf("%w: empty archive", ErrMalformed)
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return data, nil
}
