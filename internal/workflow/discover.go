package workflow

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

func isPDF(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}

// Discover lists the PDF files directly under root. When there are none it
// searches subdirectories instead. The result is sorted so discovery order is
// stable between runs.
func Discover(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading input directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && isPDF(e.Name()) {
			files = append(files, filepath.Join(root, e.Name()))
		}
	}

	if len(files) == 0 {
		slog.Info("No PDFs in root directory, searching subdirectories", "root", root)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isPDF(d.Name()) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking input directory: %w", err)
		}
	}

	sort.Strings(files)
	slog.Info("Discovered PDF files", "root", root, "count", len(files))
	return files, nil
}
