package pool

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/decoder"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	archivePrefixRegex = regexp.MustCompile(`^R[CS]_`)
	yearMonthRegex     = regexp.MustCompile(`(\d{4}-\d{2})`)
)

// DiscoverOptions selects the archives of a first run
type DiscoverOptions struct {
	InputDir   string
	OutputDir  string // falls back to WorkingDir
	WorkingDir string
	StartDate  string // YYYY-MM, inclusive, empty = unbounded
	EndDate    string // YYYY-MM, inclusive, empty = unbounded
}

// Discover walks the input tree and builds a task for every archive named
// RC_/RS_ with a supported extension whose year-month falls in the range.
// Files without a year-month token are kept.
func Discover(opts DiscoverOptions) ([]domain.TaskRecord, error) {
	var tasks []domain.TaskRecord

	err := filepath.WalkDir(opts.InputDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == opts.InputDir {
				return err
			}
			log.Warn().Err(err).Str("path", path).Msg("Error accessing path")
			return nil
		}

		if d.IsDir() {
			return nil
		}

		name := d.Name()
		if !archivePrefixRegex.MatchString(name) {
			return nil
		}
		if _, err := decoder.CodecFor(name); err != nil {
			return nil
		}
		if !inDateRange(name, opts.StartDate, opts.EndDate) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("Failed to get file info")
			return nil
		}

		task, err := domain.NewTaskRecord(path, OutputPath(opts, name), info.Size())
		if err != nil {
			return err
		}
		tasks = append(tasks, task)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", opts.InputDir, err)
	}

	return tasks, nil
}

// OutputPath derives the output file of an archive
func OutputPath(opts DiscoverOptions, fileName string) string {
	dir := opts.OutputDir
	if dir == "" {
		dir = opts.WorkingDir
	}
	return filepath.Join(dir, decoder.TrimExtension(fileName)+string(decoder.CodecZstd))
}

func inDateRange(name, start, end string) bool {
	date := yearMonthRegex.FindString(name)
	if date == "" {
		return true
	}
	if start != "" && date < start {
		return false
	}
	if end != "" && date > end {
		return false
	}
	return true
}

// bySizeDesc orders tasks largest first so long files start early
func bySizeDesc(tasks []domain.TaskRecord) {
	slices.SortStableFunc(tasks, func(a, b domain.TaskRecord) int {
		switch {
		case a.FileSize > b.FileSize:
			return -1
		case a.FileSize < b.FileSize:
			return 1
		default:
			return 0
		}
	})
}
