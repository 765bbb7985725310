package storage

import (
	"context"
	"fmt"

	"github.com/syn2much/mantis/internal/apperrors"
)

// exportableTables whitelists the tables the dashboard's export endpoint
// may dump, so a query parameter is never interpolated into SQL without
// validation.
var exportableTables = map[string]bool{
	"sessions":  true,
	"events":    true,
	"alerts":    true,
	"geo_cache": true,
}

// IsExportable reports whether table is one of the four dumpable tables.
func IsExportable(table string) bool {
	return exportableTables[table]
}

// ExportTable returns every row of table as column-name-keyed maps, for
// the dashboard's /api/export endpoint. table must have passed
// IsExportable.
func (s *Store) ExportTable(ctx context.Context, table string) ([]map[string]any, error) {
	if !IsExportable(table) {
		return nil, fmt.Errorf("table %q is not exportable", table)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s ORDER BY rowid ASC`, table))
	if err != nil {
		return nil, apperrors.NewStorageError("export_table", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, apperrors.NewStorageError("export_table: columns", err)
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, apperrors.NewStorageError("export_table: scan", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalizeExportValue(vals[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalizeExportValue converts database/sql's driver-native scan types
// (notably []byte for TEXT columns under modernc.org/sqlite) into plain
// strings so json.Marshal and the CSV writer don't need to special-case
// them.
func normalizeExportValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
