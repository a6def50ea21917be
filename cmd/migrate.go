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
	"database/sql"
	"fmt"
	"log"

	orderworker "github.com/Munozca230/order-processing-system"
	"github.com/Munozca230/order-processing-system/config"
	"github.com/Munozca230/order-processing-system/database"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"
)

const migrationSchema = "orderworker"

func migrateCommands(_ *workerInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "run order store migrations",
	}

	cmd.AddCommand(migrateUpCommands())
	cmd.AddCommand(migrateDownCommands())

	return cmd
}

func migrationSource() migrate.EmbedFileSystemMigrationSource {
	return migrate.EmbedFileSystemMigrationSource{
		FileSystem: orderworker.SQLFiles,
		Root:       "sql",
	}
}

// openMigrationDB connects and makes sure the schema holding the migration
// table exists before sql-migrate touches it.
func openMigrationDB() (*sql.DB, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, fmt.Errorf("fetch config: %w", err)
	}

	db, err := database.ConnectDB(cnf.DataSource)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS " + migrationSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	migrate.SetSchema(migrationSchema)
	return db, nil
}

func migrateUpCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use: "up",
		Run: func(cmd *cobra.Command, args []string) {
			db, err := openMigrationDB()
			if err != nil {
				log.Printf("Error preparing migration: %v", err)
				return
			}
			defer db.Close()

			n, err := migrate.Exec(db, "postgres", migrationSource(), migrate.Up)
			if err != nil {
				log.Printf("Error migrating up: %v", err)
				return
			}
			fmt.Printf("Applied %d migrations!\n", n)
		},
	}

	return cmd
}

func migrateDownCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use: "down",
		Run: func(cmd *cobra.Command, args []string) {
			db, err := openMigrationDB()
			if err != nil {
				log.Printf("Error preparing migration: %v", err)
				return
			}
			defer db.Close()

			n, err := migrate.Exec(db, "postgres", migrationSource(), migrate.Down)
			if err != nil {
				log.Printf("Error migrating down: %v", err)
				return
			}
			fmt.Printf("Rolled back %d migrations!\n", n)
		},
	}

	return cmd
}
