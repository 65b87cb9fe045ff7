package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/firefart/dmarcanalyzer/internal/dmarc"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// patterns are processed in this order, files within a pattern sorted by name
var patterns = []string{"*.xml", "*.zip", "*.gz"}

// DirOptions controls how a report directory is read.
type DirOptions struct {
	// RemoveArchives deletes zip and gz files after they were read
	// successfully.
	RemoveArchives bool
	// Workers limits the number of files parsed at the same time. Zero means
	// GOMAXPROCS.
	Workers int
}

// Dir reads aggregate reports from a directory.
type Dir struct {
	path    string
	options DirOptions
	logger  *log.Logger
}

var _ Source = (*Dir)(nil)

func NewDir(path string, options DirOptions, logger *log.Logger) *Dir {
	return &Dir{
		path:    path,
		options: options,
		logger:  logger,
	}
}

// Files returns the report files found in the directory.
func (d *Dir) Files() ([]string, error) {
	info, err := os.Stat(d.path)
	if err != nil {
		return nil, fmt.Errorf("could not open report directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", d.path)
	}

	var files []string
	for _, p := range patterns {
		matches, err := filepath.Glob(filepath.Join(d.path, p))
		if err != nil {
			return nil, fmt.Errorf("could not list %s: %w", p, err)
		}
		// Glob returns the matches in lexical order
		files = append(files, matches...)
	}
	return files, nil
}

// Load reads and parses every report in the directory. Files that cannot be
// read or parsed are skipped and reported in the returned error, which is a
// *multierror.Error. Documents are returned in file order regardless of the
// order they were parsed in.
func (d *Dir) Load(ctx context.Context) ([]dmarc.Document, error) {
	files, err := d.Files()
	if err != nil {
		return nil, err
	}
	d.logger.Debug("found report files", "dir", d.path, "count", len(files))

	results := make([][]dmarc.Document, len(files))
	failures := make([]error, len(files))

	workers := d.options.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			docs, err := d.readFile(file)
			results[i] = docs
			failures[i] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var docs []dmarc.Document
	var result *multierror.Error
	for i, file := range files {
		docs = append(docs, results[i]...)
		if failures[i] != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", filepath.Base(file), failures[i]))
			continue
		}
		if d.options.RemoveArchives && isArchive(file) {
			if err := os.Remove(file); err != nil {
				result = multierror.Append(result, fmt.Errorf("could not remove %s: %w", file, err))
				continue
			}
			d.logger.Info("removed archive", "file", filepath.Base(file))
		}
	}
	return docs, result.ErrorOrNil()
}

func (d *Dir) readFile(file string) ([]dmarc.Document, error) {
	content, err := os.ReadFile(file) // nolint: gosec
	if err != nil {
		return nil, err
	}
	docs, err := dmarc.ReadFile(filepath.Base(file), content)
	if len(docs) == 0 && err == nil {
		err = errors.New("no report found")
	}
	return docs, err
}

func isArchive(file string) bool {
	ext := strings.ToLower(filepath.Ext(file))
	return ext == ".zip" || ext == ".gz"
}
