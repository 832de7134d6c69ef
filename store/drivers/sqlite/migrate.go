package sqlite

import (
	"errors"
	"fmt"

	"github.com/EduardoReolon/jwtguard/store/drivers/sqlite/migrations"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "modernc.org/sqlite"
)

// ApplyMigrations applies any pending schema migrations using the
// embedded migration files. Not usable together with a custom foreign
// key column; pre-provisioned tables are migrated by their owner.
func (s *Store) ApplyMigrations() error {
	if s.userCol != DefaultForeignKeyColumn {
		return fmt.Errorf("sqlite: migrations manage the default schema only (foreign key column is %q)", s.userCol)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return err
	}

	src, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return err
	}

	instance, err := migrate.NewWithInstance("iofs", src, "", driver)
	if err != nil {
		return err
	}

	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
