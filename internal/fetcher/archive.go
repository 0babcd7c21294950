package fetcher

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ipeds/internal/ipedserr"
)

// Kind classifies a downloaded payload.
type Kind int

const (
	KindTabular  Kind = iota // flat delimited text
	KindArchive              // zip container to expand
	KindWorkbook             // Office Open XML workbook (a zip with [Content_Types].xml)
)

func (k Kind) String() string {
	switch k {
	case KindArchive:
		return "archive"
	case KindWorkbook:
		return "workbook"
	default:
		return "tabular"
	}
}

var (
	zipLocalHeader = []byte("PK\x03\x04")
	zipEmptyEOCD   = []byte("PK\x05\x06")
)

// DetectKind inspects the leading bytes of the file at path. File extensions
// are not trusted: the portal serves zip payloads under several names.
func DetectKind(path string) (Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return KindTabular, ipedserr.Wrapf(err, ipedserr.CodeDecode, "open %s", path)
	}
	defer f.Close()

	head := make([]byte, 4)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return KindTabular, ipedserr.Wrapf(err, ipedserr.CodeDecode, "read %s", path)
	}
	head = head[:n]
	if !bytes.Equal(head, zipLocalHeader) && !bytes.Equal(head, zipEmptyEOCD) {
		return KindTabular, nil
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return KindArchive, ipedserr.Wrapf(err, ipedserr.CodeDecode, "open zip %s", path)
	}
	defer zr.Close()
	for _, m := range zr.File {
		if m.Name == "[Content_Types].xml" {
			return KindWorkbook, nil
		}
	}
	return KindArchive, nil
}

// Expanded lists the useful members extracted from an archive.
type Expanded struct {
	// CSV is the primary data file, or "" when the archive holds none
	// (dictionary-only archives).
	CSV string
	// Workbooks are dictionary workbooks (.xlsx) found in the archive.
	Workbooks []string
}

// Expand extracts the CSV and .xlsx members of the zip at archivePath into
// destDir and reports which CSV is primary.
//
// When several CSVs are present, a revised member (name ending in "_rv.csv")
// wins over the original release; otherwise the first CSV in name order is
// used. Members are written under their base names only, so entries with
// directory components cannot escape destDir.
//
// Errors:
//   - CodeDecode when the archive is unreadable or a member fails to extract.
func Expand(archivePath, destDir string) (Expanded, error) {
	var out Expanded
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return out, ipedserr.Wrapf(err, ipedserr.CodeDecode, "open zip %s", archivePath)
	}
	defer zr.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return out, ipedserr.Wrapf(err, ipedserr.CodeInvalidArgument, "create %s", destDir)
	}

	var csvs []string
	for _, m := range zr.File {
		if m.FileInfo().IsDir() {
			continue
		}
		base := filepath.Base(filepath.FromSlash(m.Name))
		if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(base))
		if ext != ".csv" && ext != ".xlsx" {
			continue
		}
		target := filepath.Join(destDir, strings.ToLower(base))
		if err := extractMember(m, target); err != nil {
			return out, ipedserr.Wrapf(err, ipedserr.CodeDecode, "extract %s from %s", m.Name, archivePath)
		}
		if ext == ".csv" {
			csvs = append(csvs, target)
		} else {
			out.Workbooks = append(out.Workbooks, target)
		}
	}

	sort.Strings(csvs)
	sort.Strings(out.Workbooks)
	out.CSV = PrimaryCSV(csvs)
	return out, nil
}

// PrimaryCSV picks the revised "_rv" file when present, else the first name.
func PrimaryCSV(names []string) string {
	for _, n := range names {
		if strings.HasSuffix(strings.ToLower(n), "_rv.csv") {
			return n
		}
	}
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func extractMember(m *zip.File, target string) error {
	rc, err := m.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = writeBodyToFile(target, rc)
	if err == errEmptyBody {
		// Keep empty members visible to the caller as empty files.
		return os.WriteFile(target, nil, 0o644)
	}
	return err
}
