package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kbukum/resetkit/database"
	apperrors "github.com/kbukum/resetkit/errors"
	"github.com/kbukum/resetkit/logger"
	"github.com/kbukum/resetkit/observability"
	"github.com/kbukum/resetkit/version"
)

// Fingerprinter computes the fingerprint of the codebase under test.
type Fingerprinter interface {
	Fingerprint() (string, error)
}

// Store reads and writes the snapshot of one test installation. Loaded
// files and the computed fingerprint are cached until Capture or
// Invalidate.
type Store struct {
	fs        afero.Fs
	dir       string
	framework string
	db        database.Conn
	fp        Fingerprinter
	log       *logger.Logger

	data        TableData
	structure   TableStructure
	fingerprint string
}

// NewStore creates a store for the snapshot under dataroot/framework.
func NewStore(fs afero.Fs, dataroot, framework string, db database.Conn, fp Fingerprinter, log *logger.Logger) *Store {
	return &Store{
		fs:        fs,
		dir:       filepath.Join(dataroot, framework),
		framework: framework,
		db:        db,
		fp:        fp,
		log:       log.WithComponent("snapshot"),
	}
}

// Dir returns the framework directory holding the snapshot files.
func (s *Store) Dir() string { return s.dir }

// ConfigKey returns the config table key holding the fingerprint.
func (s *Store) ConfigKey() string { return s.framework + "test" }

// Fingerprint returns the current codebase fingerprint, computed once per
// store.
func (s *Store) Fingerprint() (string, error) {
	if s.fingerprint != "" {
		return s.fingerprint, nil
	}
	fp, err := s.fp.Fingerprint()
	if err != nil {
		return "", apperrors.Internal(fmt.Errorf("compute fingerprint: %w", err))
	}
	s.fingerprint = fp
	return fp, nil
}

// Capture records the fingerprint in the config table and the fingerprint
// file, then reads every table and overwrites the snapshot files. The
// fingerprint goes in first so the captured config table contains it.
func (s *Store) Capture(ctx context.Context) (err error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanCapture,
		attribute.String(observability.AttrFamily, string(s.db.Family())))
	defer func() { observability.EndSpan(span, err) }()

	s.Invalidate()
	if err := s.fs.MkdirAll(s.dir, 0o777); err != nil {
		return apperrors.Filesystem("mkdir", s.dir, err)
	}
	if err := s.storeFingerprint(ctx); err != nil {
		return err
	}

	tables, err := s.db.Tables(ctx)
	if err != nil {
		return err
	}
	data := make(TableData, 0, len(tables))
	structure := make(TableStructure, len(tables))
	rowCount := 0
	for _, table := range tables {
		cols, err := s.db.Columns(ctx, table)
		if err != nil {
			return err
		}
		byName := make(map[string]database.Column, len(cols))
		for _, c := range cols {
			byName[c.Name] = c
		}
		structure[table] = byName

		rows, err := s.db.Records(ctx, table, database.HasAutoIncrementID(byName))
		if err != nil {
			return err
		}
		if rows == nil {
			rows = []database.Record{}
		}
		data = append(data, TableRows{Name: table, Rows: rows})
		rowCount += len(rows)
	}

	if err := s.writeJSON(DataFile, dataFile{Tables: data}); err != nil {
		return err
	}
	if err := s.writeJSON(StructureFile, structureFile{Tables: structure}); err != nil {
		return err
	}
	s.data, s.structure = data, structure

	observability.SetSpanAttribute(ctx, observability.AttrTables, len(tables))
	s.log.Info("snapshot captured", logger.Fields(
		logger.FieldCount, len(tables),
		"rows", rowCount,
		logger.FieldPath, s.dir,
	))
	return nil
}

func (s *Store) storeFingerprint(ctx context.Context) error {
	fp, err := s.Fingerprint()
	if err != nil {
		return err
	}
	if err := s.db.SetConfigValue(ctx, s.ConfigKey(), fp); err != nil {
		return err
	}
	path := filepath.Join(s.dir, FingerprintFile)
	if err := afero.WriteFile(s.fs, path, []byte(fp), 0o666); err != nil {
		return apperrors.Filesystem("write", path, err)
	}
	return nil
}

func (s *Store) writeJSON(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperrors.Internal(fmt.Errorf("encode %s: %w", name, err))
	}
	path := filepath.Join(s.dir, name)
	if err := afero.WriteFile(s.fs, path, data, 0o666); err != nil {
		return apperrors.Filesystem("write", path, err)
	}
	return nil
}

// readJSON decodes the named file into v. A missing file reports
// found=false.
func (s *Store) readJSON(name string, v any) (found bool, err error) {
	path := filepath.Join(s.dir, name)
	raw, err := afero.ReadFile(s.fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Filesystem("read", path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, s.formatError(name, err)
	}
	return true, nil
}

func (s *Store) formatError(name string, cause error) error {
	return apperrors.SnapshotFormat("dataroot/"+s.framework+"/"+name, cause)
}

// TableData returns the captured rows. Without a snapshot it returns an
// empty TableData and no error.
func (s *Store) TableData() (TableData, error) {
	if s.data != nil {
		return s.data, nil
	}
	var file *dataFile
	found, err := s.readJSON(DataFile, &file)
	if err != nil || !found {
		return TableData{}, err
	}
	if file == nil || file.Tables == nil {
		return nil, s.formatError(DataFile, errors.New("not a table mapping"))
	}
	for i, t := range file.Tables {
		if t.Name == "" {
			return nil, s.formatError(DataFile, fmt.Errorf("table %d has no name", i))
		}
		for j, rec := range t.Rows {
			t.Rows[j] = database.NormalizeRecord(rec)
		}
	}
	s.data = file.Tables
	return s.data, nil
}

// TableStructure returns the captured column descriptors. Without a
// snapshot it returns an empty TableStructure and no error.
func (s *Store) TableStructure() (TableStructure, error) {
	if s.structure != nil {
		return s.structure, nil
	}
	var file *structureFile
	found, err := s.readJSON(StructureFile, &file)
	if err != nil || !found {
		return TableStructure{}, err
	}
	if file == nil || file.Tables == nil {
		return nil, s.formatError(StructureFile, errors.New("not a table mapping"))
	}
	s.structure = file.Tables
	return s.structure, nil
}

// Load returns both halves of the snapshot. initialized is false when
// either is missing or empty. Every captured table must have a structure
// entry.
func (s *Store) Load() (data TableData, structure TableStructure, initialized bool, err error) {
	data, err = s.TableData()
	if err != nil {
		return nil, nil, false, err
	}
	structure, err = s.TableStructure()
	if err != nil {
		return nil, nil, false, err
	}
	if len(data) == 0 || len(structure) == 0 {
		return data, structure, false, nil
	}
	var missing []string
	for _, t := range data {
		if _, ok := structure[t.Name]; !ok {
			missing = append(missing, t.Name)
		}
	}
	if len(missing) > 0 {
		return nil, nil, false, s.formatError(StructureFile,
			fmt.Errorf("no structure for tables %s", strings.Join(missing, ", ")))
	}
	return data, structure, true, nil
}

// IsStale reports whether the snapshot can no longer be used: a snapshot
// file is missing, the codebase has no version markers, or the current
// fingerprint differs from the stored file or from the value in the config
// table. The config value is read uncached.
func (s *Store) IsStale(ctx context.Context) (bool, error) {
	for _, name := range []string{DataFile, StructureFile, FingerprintFile} {
		ok, err := afero.Exists(s.fs, filepath.Join(s.dir, name))
		if err != nil {
			return false, apperrors.Filesystem("stat", filepath.Join(s.dir, name), err)
		}
		if !ok {
			s.log.Debug("snapshot file missing", logger.Fields(logger.FieldPath, name))
			return true, nil
		}
	}

	current, err := s.Fingerprint()
	if errors.Is(err, version.ErrNoMarkers) {
		s.log.Warn("codebase has no version markers", logger.Fields(logger.FieldError, err.Error()))
		return true, nil
	}
	if err != nil {
		return false, err
	}
	stored, err := afero.ReadFile(s.fs, filepath.Join(s.dir, FingerprintFile))
	if err != nil {
		return false, apperrors.Filesystem("read", filepath.Join(s.dir, FingerprintFile), err)
	}
	if string(stored) != current {
		s.log.Info("snapshot fingerprint differs from codebase")
		return true, nil
	}

	dbValue, ok, err := s.db.ConfigValue(ctx, s.ConfigKey(), true)
	if err != nil {
		return false, err
	}
	if !ok || dbValue != current {
		s.log.Info("database fingerprint differs from codebase")
		return true, nil
	}
	return false, nil
}

// Invalidate drops the cached files and fingerprint.
func (s *Store) Invalidate() {
	s.data = nil
	s.structure = nil
	s.fingerprint = ""
}
