// Package migrations embeds the goose migration sets so binaries and tests
// do not depend on the working directory.
package migrations

import (
	"database/sql"
	"embed"
	"io/fs"
	"os"

	"github.com/pressly/goose/v3"
)

//go:embed assignments/*.sql
var Assignments embed.FS

// AssignmentsDir is the directory inside Assignments holding the SQL files.
const AssignmentsDir = "assignments"

// NewAssignmentsProvider returns a goose provider for the embedded
// assignments migration set on db.
func NewAssignmentsProvider(db *sql.DB) (*goose.Provider, error) {
	return NewProvider(db, "")
}

// NewProvider reads migrations from dir on disk, or from the embedded set
// when dir is empty.
func NewProvider(db *sql.DB, dir string, opts ...goose.ProviderOption) (*goose.Provider, error) {
	var fsys fs.FS
	if dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return nil, &fs.PathError{Op: "open", Path: dir, Err: fs.ErrInvalid}
		}
		fsys = os.DirFS(dir)
	} else {
		sub, err := fs.Sub(Assignments, AssignmentsDir)
		if err != nil {
			return nil, err
		}
		fsys = sub
	}
	return goose.NewProvider(goose.DialectPostgres, db, fsys, opts...)
}
