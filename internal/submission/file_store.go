package submission

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/apperr"
	"github.com/stemsi/exstem-client/internal/model"
)

// backupNamespace derives stable file names from exam identifiers.
var backupNamespace = uuid.MustParse("5d0c3a5e-8f1b-4e57-9a43-2b7e6c1f0d9a")

const backupExt = ".txt"

// FileStore keeps pending sheets as one private file per exam.
type FileStore struct {
	dir string
	log zerolog.Logger
}

// NewFileStore creates a store rooted at dir. The directory is created on
// first save.
func NewFileStore(dir string, log zerolog.Logger) *FileStore {
	return &FileStore{
		dir: dir,
		log: log.With().Str("component", "pending_file_store").Logger(),
	}
}

// Path returns the backup file for an exam identifier.
func (s *FileStore) Path(examID string) string {
	name := "sheet-" + uuid.NewSHA1(backupNamespace, []byte(examID)).String() + backupExt
	return filepath.Join(s.dir, name)
}

func (s *FileStore) Save(_ context.Context, sheet model.PendingSheet) error {
	if err := checkExamID(sheet.ExamID); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return apperr.New(apperr.ErrPersistence, "save pending sheet", fmt.Errorf("create backup dir: %w", err))
	}

	tmp, err := os.CreateTemp(s.dir, ".sheet-*.tmp")
	if err != nil {
		return apperr.New(apperr.ErrPersistence, "save pending sheet", fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(EncodeBackup(sheet.ExamID, sheet.Rows)); err != nil {
		tmp.Close()
		return apperr.New(apperr.ErrPersistence, "save pending sheet", fmt.Errorf("write backup: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return apperr.New(apperr.ErrPersistence, "save pending sheet", fmt.Errorf("sync backup: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return apperr.New(apperr.ErrPersistence, "save pending sheet", fmt.Errorf("close backup: %w", err))
	}

	path := s.Path(sheet.ExamID)
	if err := os.Rename(tmpName, path); err != nil {
		return apperr.New(apperr.ErrPersistence, "save pending sheet", fmt.Errorf("rename backup: %w", err))
	}
	if !sheet.SavedAt.IsZero() {
		// The modification time is the saved-at stamp. Without it the sheet
		// counts as saved now, which only moves it back in the flush order.
		if err := os.Chtimes(path, sheet.SavedAt, sheet.SavedAt); err != nil {
			s.log.Warn().Err(err).Str("exam_id", sheet.ExamID).Time("saved_at", sheet.SavedAt).
				Msg("Failed to stamp backup time")
		}
	}

	s.log.Info().Str("exam_id", sheet.ExamID).Str("path", path).Msg("Answer sheet backed up")
	return nil
}

func (s *FileStore) Oldest(ctx context.Context) (*model.PendingSheet, error) {
	sheets, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return oldestOf(sheets), nil
}

// List reads every backup in the directory, including files written by older
// clients under the exam name. Unreadable files are logged and skipped.
func (s *FileStore) List(_ context.Context) ([]model.PendingSheet, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.New(apperr.ErrPersistence, "list pending sheets", err)
	}

	var sheets []model.PendingSheet
	for _, e := range entries {
		if !e.Type().IsRegular() || filepath.Ext(e.Name()) != backupExt {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		sheet, err := s.read(path, e)
		if err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("Skipping unreadable backup")
			continue
		}
		sheets = append(sheets, sheet)
	}
	sortPending(sheets)
	return sheets, nil
}

func (s *FileStore) read(path string, e fs.DirEntry) (model.PendingSheet, error) {
	info, err := e.Info()
	if err != nil {
		return model.PendingSheet{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return model.PendingSheet{}, err
	}
	examID, rows, err := DecodeBackup(data)
	if err != nil {
		return model.PendingSheet{}, err
	}
	return model.PendingSheet{ExamID: examID, Rows: rows, SavedAt: info.ModTime()}, nil
}

// Delete removes the backup for examID. A missing file is not an error.
func (s *FileStore) Delete(_ context.Context, examID string) error {
	paths := []string{s.Path(examID)}
	if legacy := s.legacyPath(examID); legacy != "" {
		paths = append(paths, legacy)
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return apperr.New(apperr.ErrPersistence, "delete pending sheet", err)
		}
	}
	return nil
}

// legacyPath is where older clients stored the backup: <exam name>.txt.
func (s *FileStore) legacyPath(examID string) string {
	if examID == "" || strings.ContainsAny(examID, `/\`) || examID == "." || examID == ".." {
		return ""
	}
	return filepath.Join(s.dir, examID+backupExt)
}
