// Package extract turns submission files into plain text.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pavelanni/assessor/internal/model"
)

// ErrUnsupported is returned for file types that cannot be extracted.
var ErrUnsupported = errors.New("unsupported submission format")

// ErrDuplicateID is returned by Dir when two files name the same student.
var ErrDuplicateID = errors.New("duplicate student id")

// Extractor reads .txt and .md files directly and converts .pdf files with
// the pdftotext binary from poppler.
type Extractor struct {
	PDFTool string
	Timeout time.Duration
}

// New returns an Extractor with default settings.
func New() *Extractor {
	return &Extractor{PDFTool: "pdftotext", Timeout: 60 * time.Second}
}

// Supported reports whether name has an extension the extractor handles.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md", ".pdf":
		return true
	}
	return false
}

// StudentID derives the student identifier from a submission file name.
func StudentID(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// File returns the text content of the submission at path. A PDF that cannot
// be converted yields empty text and a warning, so it is graded as image-only.
func (e *Extractor) File(ctx context.Context, path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read submission: %w", err)
		}
		return string(data), nil
	case ".pdf":
		text, err := e.pdf(ctx, path)
		if err != nil {
			slog.Warn("pdf text extraction failed", "path", path, "error", err)
			return "", nil
		}
		return text, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path))
	}
}

// Reader extracts text from an uploaded file named name.
func (e *Extractor) Reader(ctx context.Context, name string, r io.Reader) (string, error) {
	if !Supported(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(name))
	}
	f, err := os.CreateTemp("", "submission-*"+strings.ToLower(filepath.Ext(name)))
	if err != nil {
		return "", err
	}
	defer func() { f.Close(); os.Remove(f.Name()) }()
	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("buffer upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return e.File(ctx, f.Name())
}

// Dir loads every supported file in dir, sorted by file name. Two files that
// map to the same student id, such as a.txt and a.pdf, are an
// ErrDuplicateID error.
func (e *Extractor) Dir(ctx context.Context, dir string) ([]model.Submission, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read submissions dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	files := make(map[string]string)
	for _, ent := range entries {
		if ent.IsDir() || !Supported(ent.Name()) {
			continue
		}
		id := StudentID(ent.Name())
		if prev, ok := files[id]; ok {
			return nil, fmt.Errorf("%w %q: %s and %s", ErrDuplicateID, id, prev, ent.Name())
		}
		files[id] = ent.Name()
	}

	var subs []model.Submission
	for _, ent := range entries {
		if ent.IsDir() || !Supported(ent.Name()) {
			continue
		}
		text, err := e.File(ctx, filepath.Join(dir, ent.Name()))
		if err != nil {
			return nil, err
		}
		subs = append(subs, model.Submission{Student: StudentID(ent.Name()), Text: text})
	}
	slog.Info("loaded submissions", "dir", dir, "count", len(subs))
	return subs, nil
}

func (e *Extractor) pdf(ctx context.Context, path string) (string, error) {
	if _, err := exec.LookPath(e.PDFTool); err != nil {
		return "", fmt.Errorf("%s not found in PATH", e.PDFTool)
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, e.PDFTool, "-enc", "UTF-8", path, "-")
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", e.PDFTool, err, strings.TrimSpace(stderr.String()))
	}
	return out.String(), nil
}
