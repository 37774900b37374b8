package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/TaskPipe/internal/models"
)

// scanHistory reads history rows selected newest first and returns them oldest first.
func scanHistory(rows *sql.Rows) ([]models.HistoryEntry, error) {
	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		var role string
		if err := rows.Scan(&role, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history row failed: %w", err)
		}
		e.Role = models.HistoryRole(role)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows failed: %w", err)
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// historyLimit maps a non-positive limit to "no limit" for SQL LIMIT clauses.
func historyLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
