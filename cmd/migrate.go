/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"errors"
	"fmt"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"

	"github.com/jerry-enebeli/rentcycle"
	"github.com/jerry-enebeli/rentcycle/database"
)

func migrationSource() migrate.EmbedFileSystemMigrationSource {
	return migrate.EmbedFileSystemMigrationSource{
		FileSystem: rentcycle.SQLFiles,
		Root:       "sql",
	}
}

// migrateCommands creates the root command for migration-related operations.
func migrateCommands(b *rentcycleInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply or roll back the postgres schema",
	}

	cmd.AddCommand(migrateDirectionCommand(b, "up", migrate.Up))
	cmd.AddCommand(migrateDirectionCommand(b, "down", migrate.Down))
	return cmd
}

func migrateDirectionCommand(b *rentcycleInstance, use string, dir migrate.MigrationDirection) *cobra.Command {
	return &cobra.Command{
		Use:         use,
		Annotations: map[string]string{"config-only": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if b.cnf.DataSource.Dns == "" {
				return errors.New("data_source.dns is required to run migrations")
			}

			db, err := database.ConnectDB(b.cnf.DataSource.Dns)
			if err != nil {
				return fmt.Errorf("error connecting to database: %w", err)
			}
			defer func() { _ = db.Close() }()

			// the migration bookkeeping table lives in the schema too
			if _, err := db.ExecContext(cmd.Context(), "CREATE SCHEMA IF NOT EXISTS rentcycle"); err != nil {
				return fmt.Errorf("error creating schema: %w", err)
			}
			migrate.SetSchema("rentcycle")

			n, err := migrate.Exec(db, "postgres", migrationSource(), dir)
			if err != nil {
				return fmt.Errorf("error migrating %s: %w", use, err)
			}
			if dir == migrate.Up {
				fmt.Printf("Applied %d migrations!\n", n)
			} else {
				fmt.Printf("Rolled back %d migrations!\n", n)
			}
			return nil
		},
	}
}
