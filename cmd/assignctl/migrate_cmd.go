package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/iota-uz/iota-fleet/migrations"
	"github.com/iota-uz/iota-fleet/pkg/configuration"
)

type migrationRow struct {
	Version   int64  `json:"version"`
	Path      string `json:"path"`
	State     string `json:"state,omitempty"`
	AppliedAt string `json:"applied_at,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

type migrateOutput struct {
	Command    string         `json:"command"`
	Dir        string         `json:"dir"`
	Migrations []migrationRow `json:"migrations"`
}

func newMigrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the assignments schema migrations",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", configuration.Use().MigrationsDir, "Migrations directory (default: embedded set)")

	run := func(name string, fn func(ctx context.Context, p *goose.Provider) ([]migrationRow, error)) *cobra.Command {
		return &cobra.Command{
			Use:   name,
			Short: "goose " + name,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				pool, err := connectDB(cmd.Context())
				if err != nil {
					return err
				}
				defer pool.Close()

				db := stdlib.OpenDBFromPool(pool)
				defer db.Close()
				provider, err := migrations.NewProvider(db, dir)
				if err != nil {
					return fmt.Errorf("load migrations: %w", err)
				}
				rows, err := fn(cmd.Context(), provider)
				if err != nil {
					return err
				}
				label := dir
				if label == "" {
					label = "embedded:" + migrations.AssignmentsDir
				}
				return writeJSON(migrateOutput{Command: "migrate " + name, Dir: label, Migrations: rows})
			},
		}
	}

	cmd.AddCommand(run("up", func(ctx context.Context, p *goose.Provider) ([]migrationRow, error) {
		results, err := p.Up(ctx)
		return resultRows(results), err
	}))
	cmd.AddCommand(run("down", func(ctx context.Context, p *goose.Provider) ([]migrationRow, error) {
		res, err := p.Down(ctx)
		if res == nil {
			return nil, err
		}
		return resultRows([]*goose.MigrationResult{res}), err
	}))
	cmd.AddCommand(run("status", func(ctx context.Context, p *goose.Provider) ([]migrationRow, error) {
		statuses, err := p.Status(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]migrationRow, 0, len(statuses))
		for _, s := range statuses {
			row := migrationRow{Version: s.Source.Version, Path: s.Source.Path, State: string(s.State)}
			if !s.AppliedAt.IsZero() {
				row.AppliedAt = s.AppliedAt.UTC().Format(time.RFC3339)
			}
			rows = append(rows, row)
		}
		return rows, nil
	}))
	return cmd
}

func resultRows(results []*goose.MigrationResult) []migrationRow {
	rows := make([]migrationRow, 0, len(results))
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		rows = append(rows, migrationRow{
			Version:  r.Source.Version,
			Path:     r.Source.Path,
			State:    r.Direction,
			Duration: r.Duration.String(),
		})
	}
	return rows
}
