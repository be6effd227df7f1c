// Package checkpoint persists the task list of a run so it can be resumed.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/encoding/json"
)

// FileName is the checkpoint document inside the working directory
const FileName = "status.json"

var (
	ErrFingerprintMismatch = errors.New("checkpoint was written with different filter arguments")
	ErrRunTypeMismatch     = errors.New("checkpoint was written by a different run type")
)

// State is the content of a checkpoint
type State struct {
	Fingerprint       string
	RunType           string
	CompletedPrefixes []string
	Tasks             []domain.TaskRecord
}

// Check fails when the checkpoint was written for other arguments. Resuming
// would mix results produced under different filters.
func (st *State) Check(fingerprint, runType string) error {
	if st.Fingerprint != fingerprint {
		return fmt.Errorf("%w: checkpoint has %q, run has %q", ErrFingerprintMismatch, st.Fingerprint, fingerprint)
	}
	if st.RunType != runType {
		return fmt.Errorf("%w: checkpoint has %q, run has %q", ErrRunTypeMismatch, st.RunType, runType)
	}
	return nil
}

// Store reads and writes the checkpoint of one working directory
type Store struct {
	dir string
}

// NewStore creates a store for workingDir. Nothing is touched until Save.
func NewStore(workingDir string) *Store {
	return &Store{dir: workingDir}
}

// Path returns the checkpoint file path
func (s *Store) Path() string {
	return filepath.Join(s.dir, FileName)
}

// Load reads the checkpoint. It returns nil, nil when no checkpoint exists.
//
// File sizes are not stored; they are stat'd again. Counters are returned as
// saved; complete records also count as fully consumed.
func (s *Store) Load() (*State, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", s.Path(), err)
	}

	st := &State{
		Fingerprint:       doc.Args,
		RunType:           doc.Type,
		CompletedPrefixes: doc.CompletedPrefixes,
		Tasks:             make([]domain.TaskRecord, 0, len(doc.Files)),
	}

	for _, e := range doc.Files {
		task, err := rehydrate(e)
		if err != nil {
			return nil, err
		}
		st.Tasks = append(st.Tasks, task)
	}

	return st, nil
}

func rehydrate(e entry) (domain.TaskRecord, error) {
	fileType, err := domain.FileTypeFromName(e.InputPath)
	if err != nil {
		return domain.TaskRecord{}, fmt.Errorf("invalid checkpoint entry: %w", err)
	}

	task := domain.TaskRecord{
		InputPath:      e.InputPath,
		OutputPath:     e.OutputPath,
		FileType:       fileType,
		LinesProcessed: e.LinesProcessed,
		ErrorLines:     e.ErrorLines,
		LinesMatched:   e.LinesMatched,
	}

	info, statErr := os.Stat(e.InputPath)
	if statErr == nil {
		task.FileSize = info.Size()
	}

	if e.Complete {
		task.MarkComplete()
		if statErr != nil {
			log.Warn().Err(statErr).Str("file", e.InputPath).Msg("Completed file no longer exists")
		}
		return task, nil
	}

	if statErr != nil {
		task.MarkFailed(fmt.Errorf("failed to stat file: %w", statErr))
	}
	return task, nil
}

// Save overwrites the checkpoint, creating the working directory if needed.
// The document is written to a temporary file and renamed into place so a
// crash leaves either the old or the new checkpoint.
func (s *Store) Save(st *State) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}

	prefixes := append([]string{}, st.CompletedPrefixes...)
	sort.Strings(prefixes)

	doc := document{
		Args:              st.Fingerprint,
		Type:              st.RunType,
		CompletedPrefixes: prefixes,
		Files:             make([]entry, 0, len(st.Tasks)),
	}
	for _, t := range st.Tasks {
		doc.Files = append(doc.Files, entry{
			InputPath:      t.InputPath,
			OutputPath:     t.OutputPath,
			Complete:       t.Complete,
			LinesProcessed: t.LinesProcessed,
			ErrorLines:     t.ErrorLines,
			LinesMatched:   t.LinesMatched,
		})
	}

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := writeFileAtomic(s.Path(), data); err != nil {
		return err
	}

	return syncDir(s.dir)
}

// writeFileAtomic writes data to a temporary file next to path and renames it
// into place. The temporary file is removed if any step fails.
func writeFileAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}

	return nil
}

// syncDir flushes the directory entry of a rename
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open working directory: %w", err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return fmt.Errorf("failed to sync working directory: %w", err)
	}
	return nil
}
