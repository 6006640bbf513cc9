package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/scan2csv/internal/common"
)

// File names that do not depend on the document base name.
const (
	FinalCSVName = "final.csv"
	StatusName   = "status.json"
	ErrorsName   = "errors.json"
	// SourceMarkerName records which source a process directory belongs to.
	SourceMarkerName = ".source"
)

// ProcessPaths is the per-document directory and every artifact path in it.
// One ProcessPaths exists per input document per run.
type ProcessPaths struct {
	OutRoot    string
	ProcessDir string
	Base       string
	Source     string
	Original   string
}

// PageText is <base>_ocr_page_<n>.txt.
func (p ProcessPaths) PageText(n int) string {
	return filepath.Join(p.ProcessDir, fmt.Sprintf("%s_ocr_page_%d.txt", p.Base, n))
}

// PageJSON is <base>_json_page_<n>.json.
func (p ProcessPaths) PageJSON(n int) string {
	return filepath.Join(p.ProcessDir, fmt.Sprintf("%s_json_page_%d.json", p.Base, n))
}

// AllPagesText is the concatenated OCR text of every page.
func (p ProcessPaths) AllPagesText() string {
	return filepath.Join(p.ProcessDir, p.Base+"_ocr_all_pages.txt")
}

// MergedJSON is <base>_merged_all_pages.json.
func (p ProcessPaths) MergedJSON() string {
	return filepath.Join(p.ProcessDir, p.Base+"_merged_all_pages.json")
}

// NameColumns is the output of the name-columns OCR mode.
func (p ProcessPaths) NameColumns() string {
	return filepath.Join(p.ProcessDir, p.Base+"_name_columns.json")
}

func (p ProcessPaths) ExtractedCSV() string {
	return filepath.Join(p.ProcessDir, "extracted_"+p.Base+".csv")
}

func (p ProcessPaths) IntermediateCSV() string {
	return filepath.Join(p.ProcessDir, "intermediate_"+p.Base+".csv")
}

func (p ProcessPaths) NormalizedCSV() string {
	return filepath.Join(p.ProcessDir, "normalized_"+p.Base+".csv")
}

func (p ProcessPaths) FinalCSV() string {
	return filepath.Join(p.ProcessDir, FinalCSVName)
}

func (p ProcessPaths) Status() string {
	return filepath.Join(p.ProcessDir, StatusName)
}

func (p ProcessPaths) Errors() string {
	return filepath.Join(p.ProcessDir, ErrorsName)
}

// SafeDirName keeps letters, digits, '_', '-' and '.', replacing the rest
// with '_'.
func SafeDirName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || strings.Trim(out, ".") == "" {
		return "document"
	}
	return out
}

// BaseName is the sanitized stem of a document path.
func BaseName(docPath string) string {
	name := filepath.Base(docPath)
	return SafeDirName(strings.TrimSuffix(name, filepath.Ext(name)))
}

// Prepare creates the process directory for docPath under outRoot and copies
// the source into it. A directory records the source it belongs to in a
// marker file; with reuse set, an existing directory is resumed only when its
// marker names the same source path and content. Otherwise the document gets
// <base>_<digest>, derived from its identity, and a random suffix only if that
// is taken too.
func Prepare(outRoot, docPath string, reuse bool) (ProcessPaths, error) {
	src, err := filepath.Abs(docPath)
	if err != nil {
		return ProcessPaths{}, common.LocalIO("resolve source", err)
	}
	info, err := os.Stat(src)
	if err != nil {
		return ProcessPaths{}, common.LocalIO("stat source", err)
	}
	if info.IsDir() {
		return ProcessPaths{}, fmt.Errorf("%s is a directory: %w", src, common.ErrInvalidInput)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return ProcessPaths{}, common.LocalIO("read source", err)
	}

	if err := os.MkdirAll(outRoot, 0o755); err != nil {
		return ProcessPaths{}, common.LocalIO("create out root", err)
	}

	base := BaseName(src)
	ident := sourceIdentity(src, data)
	dir := ""
	for _, name := range []string{base, base + "_" + digest(ident)[:8]} {
		candidate := filepath.Join(outRoot, name)
		ok, err := claimDir(candidate, ident, reuse)
		if err != nil {
			return ProcessPaths{}, err
		}
		if ok {
			dir = candidate
			break
		}
	}
	if dir == "" {
		dir = filepath.Join(outRoot, base+"_"+shortID())
		if err := os.Mkdir(dir, 0o755); err != nil {
			return ProcessPaths{}, common.LocalIO("create process dir", err)
		}
		if err := WriteFileAtomic(filepath.Join(dir, SourceMarkerName), []byte(ident)); err != nil {
			return ProcessPaths{}, err
		}
	}

	p := ProcessPaths{
		OutRoot:    outRoot,
		ProcessDir: dir,
		Base:       base,
		Source:     src,
		Original:   filepath.Join(dir, "original_"+filepath.Base(src)),
	}
	if err := copyIfChanged(data, p.Original); err != nil {
		return ProcessPaths{}, err
	}
	return p, nil
}

// claimDir creates dir for the source identified by ident. An existing dir
// is only claimed with reuse, and only if its marker matches ident; a missing
// marker means the dir belongs to someone else.
func claimDir(dir, ident string, reuse bool) (bool, error) {
	err := os.Mkdir(dir, 0o755)
	switch {
	case err == nil:
		return true, WriteFileAtomic(filepath.Join(dir, SourceMarkerName), []byte(ident))
	case !errors.Is(err, os.ErrExist):
		return false, common.LocalIO("create process dir", err)
	case !reuse:
		return false, nil
	}
	got, err := os.ReadFile(filepath.Join(dir, SourceMarkerName))
	return err == nil && string(got) == ident, nil
}

// sourceIdentity is the absolute source path and the sha256 of its content.
func sourceIdentity(src string, data []byte) string {
	sum := sha256.Sum256(data)
	return src + "\n" + hex.EncodeToString(sum[:]) + "\n"
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func copyIfChanged(data []byte, dst string) error {
	if existing, err := os.ReadFile(dst); err == nil && bytes.Equal(existing, data) {
		return nil
	}
	return WriteFileAtomic(dst, data)
}

// Exists reports whether path is an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// WriteFileAtomic writes data through a temp file in the same directory and
// renames it into place.
func WriteFileAtomic(path string, data []byte) error {
	return writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteAtomic streams into path via fill; the target only appears once fill
// succeeds.
func WriteAtomic(path string, fill func(w io.Writer) error) error {
	return writeAtomic(path, fill)
}

func writeAtomic(path string, fill func(w io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return common.LocalIO("create temp file", err)
	}
	tmpName := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := fill(tmp); err != nil {
		return common.LocalIO("write "+filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return common.LocalIO("close "+filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return common.LocalIO("rename "+filepath.Base(path), err)
	}
	ok = true
	return nil
}
