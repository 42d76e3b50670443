package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

type schemaColumn struct {
	table  string
	column string
}

var requiredColumns = []schemaColumn{
	{table: "intents", column: "id"},
	{table: "intents", column: "title"},
	{table: "intents", column: "patterns"},
	{table: "intents", column: "responses"},
	{table: "intents", column: "faq"},
	{table: "intents", column: "usage_count"},
	{table: "intents", column: "updatedAt"},
	{table: "intents_files", column: "id"},
	{table: "intents_files", column: "intent_id"},
	{table: "intents_files", column: "url"},
	{table: "intents_files", column: "name"},
	{table: "intents_files", column: "file_type"},
	{table: "users", column: "id"},
	{table: "users", column: "username"},
	{table: "users", column: "password"},
	{table: "users", column: "role"},
}

// ValidateRuntimeSchema refuses to start the API against a database that
// lacks a column the handlers read or write.
func ValidateRuntimeSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("database pool is nil")
	}

	var missing []string
	for _, item := range requiredColumns {
		ok, err := columnExists(ctx, pool, item.table, item.column)
		if err != nil {
			return fmt.Errorf("failed checking schema for %s.%s: %w", item.table, item.column, err)
		}
		if !ok {
			missing = append(missing, item.table+"."+item.column)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required columns missing: %s; apply the themis schema first", strings.Join(missing, ", "))
	}
	return nil
}

func columnExists(ctx context.Context, db dbQuerier, tableName, columnName string) (bool, error) {
	table := strings.TrimSpace(tableName)
	column := strings.TrimSpace(columnName)
	if table == "" || column == "" {
		return false, fmt.Errorf("table/column must not be empty")
	}
	var exists bool
	err := db.QueryRow(
		ctx,
		`SELECT EXISTS (
		   SELECT 1
		   FROM information_schema.columns
		   WHERE table_schema = current_schema()
		     AND lower(table_name) = lower($1)
		     AND lower(column_name) = lower($2)
		 )`,
		table,
		column,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}
