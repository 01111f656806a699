package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zombor/invoice-reconciler/internal/workflow"
)

const (
	approvedDir = "approved"
	reviewDir   = "review"
	resultDir   = "result"
)

// Files files processed documents under an output root. Approved documents go
// to approved/, everything else to review/, and verdict records to result/.
// A file with the same name as an earlier one overwrites it.
type Files struct {
	basePath string
}

// NewFiles creates the output layout under basePath
func NewFiles(basePath string) (*Files, error) {
	for _, dir := range []string{approvedDir, reviewDir, resultDir} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0755); err != nil {
			return nil, fmt.Errorf("creating output directory: %w", err)
		}
	}

	return &Files{
		basePath: basePath,
	}, nil
}

// Root returns the output root.
func (f *Files) Root() string {
	return f.basePath
}

// SaveDocument copies the source document into the subtree for label
func (f *Files) SaveDocument(ctx context.Context, sourcePath string, label workflow.ApprovalLabel) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := reviewDir
	if label == workflow.LabelApproved {
		dir = approvedDir
	}
	target := filepath.Join(f.basePath, dir, filepath.Base(sourcePath))

	if err := copyFile(sourcePath, target); err != nil {
		return "", err
	}
	slog.Info("Filed document", "source", sourcePath, "target", target)
	return target, nil
}

// SaveVerdict writes result/<stem>.json for the task
func (f *Files) SaveVerdict(ctx context.Context, task workflow.TaskSnapshot) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	record := NewRecord("", task)
	// the task is still saving while its own record is written
	record.State = ""

	data, err := json.MarshalIndent(record, "", "    ")
	if err != nil {
		return "", fmt.Errorf("marshaling record: %w", err)
	}

	base := filepath.Base(task.SourcePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	path := filepath.Join(f.basePath, resultDir, stem+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing record: %w", err)
	}
	slog.Info("Saved result record", "path", path)
	return path, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating target: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing target: %w", err)
	}
	return nil
}
