package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

// FileType classifies an archive by its name prefix
type FileType int

const (
	FileTypeUnknown FileType = iota
	FileTypeComment
	FileTypeSubmission
)

// String returns the plural noun used in logs ("comments", "submissions")
func (t FileType) String() string {
	switch t {
	case FileTypeComment:
		return "comments"
	case FileTypeSubmission:
		return "submissions"
	default:
		return "other"
	}
}

// FileTypeFromName derives the file type from the two-letter prefix of the file name.
// RS_ archives hold submissions, RC_ archives hold comments.
func FileTypeFromName(path string) (FileType, error) {
	name := filepath.Base(path)
	switch {
	case strings.HasPrefix(name, "RS"):
		return FileTypeSubmission, nil
	case strings.HasPrefix(name, "RC"):
		return FileTypeComment, nil
	default:
		return FileTypeUnknown, fmt.Errorf("unknown working file type: %s", name)
	}
}

// TaskRecord is the processing state of one input archive.
// It is passed around by value: workers own their copy of a file's record and
// the coordinator merges the snapshots it receives into its own list.
type TaskRecord struct {
	InputPath  string
	OutputPath string
	FileSize   int64 // compressed size, stat'd once
	FileType   FileType

	LinesProcessed int64
	LinesMatched   int64
	ErrorLines     int64
	BytesProcessed int64 // compressed bytes consumed
	Complete       bool
	ErrorMessage   string // empty when no error
}

// NewTaskRecord builds a fresh record for a discovered file
func NewTaskRecord(inputPath, outputPath string, size int64) (TaskRecord, error) {
	fileType, err := FileTypeFromName(inputPath)
	if err != nil {
		return TaskRecord{}, err
	}

	return TaskRecord{
		InputPath:  inputPath,
		OutputPath: outputPath,
		FileSize:   size,
		FileType:   fileType,
	}, nil
}

// Failed reports whether the record carries an error message
func (t TaskRecord) Failed() bool {
	return t.ErrorMessage != ""
}

// Terminal reports whether the record must not be processed again in this run
func (t TaskRecord) Terminal() bool {
	return t.Complete || t.Failed()
}

// MarkComplete flags the record complete and accounts the whole file as consumed
func (t *TaskRecord) MarkComplete() {
	t.Complete = true
	t.BytesProcessed = t.FileSize
}

// MarkFailed records err as the terminal error of this run
func (t *TaskRecord) MarkFailed(err error) {
	if err == nil {
		return
	}
	t.ErrorMessage = err.Error()
}

// Reset clears progress so the file is processed again from the start
func (t *TaskRecord) Reset() {
	t.LinesProcessed = 0
	t.LinesMatched = 0
	t.ErrorLines = 0
	t.BytesProcessed = 0
	t.Complete = false
	t.ErrorMessage = ""
}

// String mirrors the compact form used in debug logs
func (t TaskRecord) String() string {
	return fmt.Sprintf("%s : %s : %d : %t : %d : %d", t.InputPath, t.OutputPath, t.FileSize, t.Complete, t.BytesProcessed, t.LinesProcessed)
}
