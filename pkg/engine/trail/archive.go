package trail

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ArchiveSuffix marks staged files the matcher treats as log archives.
const ArchiveSuffix = ".gz"

// ErrMissingRecords is returned when an archive decodes but has no Records list.
var ErrMissingRecords = errors.New("archive has no Records list")

type container struct {
	Records *[]Record `json:"Records"`
}

// IsArchive reports whether name looks like a compressed log archive.
func IsArchive(name string) bool {
	return strings.HasSuffix(name, ArchiveSuffix) && !strings.HasPrefix(name, ".")
}

// DecodeArchive decompresses r and returns the records of its container.
// Numbers are kept as json.Number so they are written back digit for digit.
func DecodeArchive(r io.Reader) ([]Record, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()

	var c container
	dec := json.NewDecoder(zr)
	dec.UseNumber()
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	if c.Records == nil {
		return nil, ErrMissingRecords
	}
	return *c.Records, nil
}

// ReadArchiveFile opens path and decodes it with DecodeArchive.
func ReadArchiveFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeArchive(f)
}

// EncodeArchive writes records as a gzip-compressed {"Records": [...]} document.
func EncodeArchive(w io.Writer, records []Record) error {
	zw := gzip.NewWriter(w)
	if records == nil {
		records = []Record{}
	}
	if err := json.NewEncoder(zw).Encode(container{Records: &records}); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}
