// Command migrate creates or updates the shopdesk tables.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"shopdesk/config"
	"shopdesk/internal/errors"
	logs "shopdesk/internal/infra/log"
	"shopdesk/internal/infra/persistence/model"

	pgLib "github.com/slighter12/go-lib/database/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Migration failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.New()
	if err != nil {
		return err
	}

	logger, err := logs.New(logs.Params{Config: cfg})
	if err != nil {
		return err
	}

	if cfg.Postgres == nil {
		return errors.New("postgres config is missing")
	}

	db, err := pgLib.New(cfg.Postgres)
	if err != nil {
		return errors.Wrap(err, "failed to create PostgreSQL client")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(err, "failed to get PostgreSQL sql.DB")
	}
	defer sqlDB.Close()

	if err := migrate(db, model.All()...); err != nil {
		return err
	}

	logger.Info("Migration finished", slog.Int("tables", len(model.All())))

	return nil
}

func migrate(db *gorm.DB, models ...any) error {
	if err := db.AutoMigrate(models...); err != nil {
		return errors.Wrap(err, "failed to migrate models")
	}

	for _, fk := range foreignKeys {
		if db.Migrator().HasConstraint(fk.table, fk.name) {
			continue
		}
		if err := db.Exec(fk.ddl()).Error; err != nil {
			return errors.Wrapf(err, "failed to add constraint %s", fk.name)
		}
	}

	return nil
}

// foreignKey is declared here because the models carry no associations.
type foreignKey struct {
	table     string
	name      string
	column    string
	reference string
}

func (fk foreignKey) ddl() string {
	return fmt.Sprintf("ALTER TABLE %q ADD CONSTRAINT %q FOREIGN KEY (%q) REFERENCES %s",
		fk.table, fk.name, fk.column, fk.reference)
}

var foreignKeys = []foreignKey{
	{table: "invoices", name: "fk_invoices_customer", column: "customer_id", reference: `"customers" ("id")`},
	{table: "invoice_lines", name: "fk_invoice_lines_invoice", column: "invoice_id", reference: `"invoices" ("id") ON DELETE CASCADE`},
	{table: "invoice_lines", name: "fk_invoice_lines_product", column: "product_id", reference: `"products" ("id")`},
}
