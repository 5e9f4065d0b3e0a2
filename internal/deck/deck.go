// Package deck bulk-imports prompt/answer pairs into the item store.
package deck

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/conorfennell/knolbot/internal/domain"
	"github.com/conorfennell/knolbot/internal/gitsource"
	"github.com/conorfennell/knolbot/internal/parser"
	"github.com/conorfennell/knolbot/internal/storage"
)

// Inserter stores a single new item.
type Inserter interface {
	Insert(ctx context.Context, kind domain.Kind, prompt, answer string) (domain.Item, error)
}

// Report summarizes an import.
type Report struct {
	Files      int
	Inserted   int
	Duplicates int
	Errors     []error
}

func (r *Report) merge(o Report) {
	r.Files += o.Files
	r.Inserted += o.Inserted
	r.Duplicates += o.Duplicates
	r.Errors = append(r.Errors, o.Errors...)
}

// Importer reads deck files and inserts their pairs as text items.
type Importer struct {
	items    Inserter
	reposDir string
	logger   *slog.Logger
}

// NewImporter creates an importer. Git decks are checked out under reposDir.
func NewImporter(items Inserter, reposDir string, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{items: items, reposDir: reposDir, logger: logger}
}

// ImportFile imports a single CSV or markdown deck. Duplicate prompts are
// counted and skipped, malformed rows are reported and skipped; only an
// unavailable store aborts the import.
func (im *Importer) ImportFile(ctx context.Context, path string) (Report, error) {
	report := Report{Files: 1}

	pairs, rowErrs, err := parser.ParseFile(path)
	for _, rowErr := range rowErrs {
		report.Errors = append(report.Errors, fmt.Errorf("parsing %s: %w", path, rowErr))
	}
	if err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("parsing %s: %w", path, err))
		return report, nil
	}

	for _, pair := range pairs {
		_, err := im.items.Insert(ctx, domain.KindText, pair.Prompt, pair.Answer)
		switch {
		case err == nil:
			report.Inserted++
		case errors.Is(err, storage.ErrDuplicateKey):
			report.Duplicates++
		case errors.Is(err, storage.ErrStoreUnavailable):
			return report, err
		default:
			report.Errors = append(report.Errors, fmt.Errorf("insert %q: %w", pair.Prompt, err))
		}
	}
	return report, nil
}

// ImportDir walks dir and imports every deck file in it.
func (im *Importer) ImportDir(ctx context.Context, dir string) (Report, error) {
	var report Report

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !parser.IsDeckFile(d.Name()) {
			return nil
		}

		fileReport, err := im.ImportFile(ctx, path)
		report.merge(fileReport)
		return err
	})
	if walkErr != nil {
		return report, fmt.Errorf("import %s: %w", dir, walkErr)
	}

	im.logger.Info("deck import complete",
		"path", dir,
		"files", report.Files,
		"inserted", report.Inserted,
		"duplicates", report.Duplicates,
		"errors", len(report.Errors),
	)
	return report, nil
}

// ImportRepo clones or pulls a git deck repository and imports its deck files.
func (im *Importer) ImportRepo(ctx context.Context, repoURL string) (Report, error) {
	localPath, err := gitsource.Checkout(ctx, repoURL, im.reposDir, im.logger)
	if err != nil {
		return Report{}, err
	}
	return im.ImportDir(ctx, localPath)
}
