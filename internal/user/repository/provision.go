package repository

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Column is a live column of the destination table as reported by information_schema.
type Column struct {
	Name     string
	DataType string
	Nullable bool
}

// Provisioner creates the destination namespace and table if they are absent.
// It never drops or alters existing structures.
type Provisioner struct {
	db   DB
	dest Destination
}

// NewProvisioner returns a Provisioner for dest.
func NewProvisioner(db DB, dest Destination) (*Provisioner, error) {
	if err := dest.Validate(); err != nil {
		return nil, err
	}
	return &Provisioner{db: db, dest: dest}, nil
}

// CreateTableSQL renders the CREATE TABLE IF NOT EXISTS statement for the destination.
// Non-key columns carry NOT NULL only when the schema is strict, since lenient mode stores absent fields as null.
func (p *Provisioner) CreateTableSQL() string {
	schema := p.dest.Schema
	cols := make([]string, 0, len(schema.Fields()))
	for _, f := range schema.Fields() {
		def := pgx.Identifier{f.Name}.Sanitize() + " TEXT"
		switch {
		case f.PrimaryKey:
			def += " PRIMARY KEY"
		case !f.Nullable && schema.Strict():
			def += " NOT NULL"
		}
		cols = append(cols, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", p.dest.qualifiedTable(), strings.Join(cols, ",\n\t"))
}

// EnsureDestination creates the namespace and table when absent and verifies every schema column exists.
// Safe to call on every start; a second call leaves the destination unchanged.
func (p *Provisioner) EnsureDestination(ctx context.Context) error {
	ns := pgx.Identifier{p.dest.Namespace}.Sanitize()
	if _, err := p.db.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+ns); err != nil {
		return &ProvisionError{Destination: p.dest.String(), Step: "create namespace", Err: err}
	}
	log.Printf("provision: namespace %s ready", p.dest.Namespace)

	if _, err := p.db.Exec(ctx, p.CreateTableSQL()); err != nil {
		return &ProvisionError{Destination: p.dest.String(), Step: "create table", Err: err}
	}

	cols, err := p.Describe(ctx)
	if err != nil {
		return &ProvisionError{Destination: p.dest.String(), Step: "verify table", Err: err}
	}
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c.Name] = true
	}
	var missing []string
	for _, n := range p.dest.Schema.Names() {
		if !have[n] {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return &ProvisionError{
			Destination: p.dest.String(),
			Step:        "verify table",
			Err:         fmt.Errorf("existing table lacks columns %v", missing),
		}
	}
	log.Printf("provision: table %s ready (%d columns)", p.dest, len(cols))
	return nil
}

// Describe returns the live columns of the destination table in ordinal order.
func (p *Provisioner) Describe(ctx context.Context) ([]Column, error) {
	rows, err := p.db.Query(ctx, `
		SELECT column_name, data_type, is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, p.dest.Namespace, p.dest.Table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.DataType, &c.Nullable); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}
