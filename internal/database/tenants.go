package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"clinic-backup/internal/backup"
	"clinic-backup/internal/logging"
)

// timestampLayout is how DATETIME values are written into snapshots so
// they can be inserted back verbatim.
const timestampLayout = "2006-01-02 15:04:05.999999"

// tableInfo describes a tenant-scoped table
type tableInfo struct {
	name       string
	hasUpdated bool
	hasCreated bool
}

// changeColumn is the column incremental snapshots filter on
func (t tableInfo) changeColumn() string {
	switch {
	case t.hasUpdated:
		return "updated_at"
	case t.hasCreated:
		return "created_at"
	}
	return ""
}

// TenantStore reads and restores tenant-scoped rows
type TenantStore struct {
	db           *sql.DB
	logger       *logging.Logger
	activeStatus string
	queryTimeout time.Duration
}

// NewTenantStore creates a tenant store. activeStatus is the tenants.status
// value of a live tenant; empty means "active".
func NewTenantStore(db *sql.DB, activeStatus string, logger *logging.Logger) *TenantStore {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if activeStatus == "" {
		activeStatus = defaultActiveStatus
	}
	return &TenantStore{
		db:           db,
		logger:       logger,
		activeStatus: activeStatus,
		queryTimeout: 5 * time.Minute,
	}
}

// ListActiveTenants returns active tenants that have no config yet or have backups enabled
func (ts *TenantStore) ListActiveTenants(ctx context.Context) ([]backup.Tenant, error) {
	query := `
		SELECT t.id, t.name
		FROM tenants t
		LEFT JOIN backup_config c ON c.tenant_id = t.id
		WHERE t.status = ? AND (c.tenant_id IS NULL OR c.backup_enabled = TRUE)
		ORDER BY t.id
	`

	ctx, cancel := context.WithTimeout(ctx, ts.queryTimeout)
	defer cancel()

	rows, err := ts.db.QueryContext(ctx, query, ts.activeStatus)
	if err != nil {
		return nil, backup.NewDatabaseError("failed to list active tenants", err)
	}
	defer rows.Close()

	var tenants []backup.Tenant
	for rows.Next() {
		var tenant backup.Tenant
		var name sql.NullString
		if err := rows.Scan(&tenant.ID, &name); err != nil {
			return nil, backup.NewDatabaseError("failed to scan tenant", err)
		}
		tenant.Name = name.String
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, backup.NewDatabaseError("error iterating tenants", err)
	}

	return tenants, nil
}

// SnapshotTenant reads every tenant-scoped table. With a non-nil since only
// rows changed after it are read, and tables without a change column are skipped.
func (ts *TenantStore) SnapshotTenant(ctx context.Context, tenantID int64, since *time.Time) (map[string]backup.TableSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, ts.queryTimeout)
	defer cancel()

	tables, err := ts.tenantTables(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := make(map[string]backup.TableSnapshot, len(tables))
	for _, table := range tables {
		query := fmt.Sprintf("SELECT * FROM %s WHERE tenant_id = ?", quoteIdent(table.name))
		args := []interface{}{tenantID}

		if since != nil {
			column := table.changeColumn()
			if column == "" {
				continue
			}
			query += fmt.Sprintf(" AND %s > ?", quoteIdent(column))
			args = append(args, since.UTC())
		}

		start := time.Now()
		records, err := ts.readRows(ctx, query, args...)
		ts.logger.LogSQLExecution(query, time.Since(start), int64(len(records)), err)
		if err != nil {
			return nil, backup.NewDatabaseError(fmt.Sprintf("failed to read table %s", table.name), err)
		}

		snapshot[table.name] = backup.TableSnapshot{
			TableName: table.name,
			Records:   records,
			Count:     len(records),
		}
	}

	return snapshot, nil
}

// ReplaceTenantData deletes the tenant's rows from every table in the
// snapshot and inserts the archived rows, all in one transaction.
func (ts *TenantStore) ReplaceTenantData(ctx context.Context, tenantID int64, tables map[string]backup.TableSnapshot) (stats *backup.RestoreStats, err error) {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, ts.queryTimeout)
	defer cancel()

	known, err := ts.tenantTables(ctx)
	if err != nil {
		return nil, err
	}
	scoped := make(map[string]bool, len(known))
	for _, table := range known {
		scoped[table.name] = true
	}

	names := make([]string, 0, len(tables))
	for name := range tables {
		if !scoped[name] {
			return nil, backup.NewValidationError(fmt.Sprintf("table %s is not a tenant-scoped table", name), nil)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	tx, err := ts.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, backup.NewDatabaseError("failed to begin restore transaction", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				ts.logger.WithField("error", rollbackErr.Error()).Error("Failed to rollback restore transaction")
			}
		}
	}()

	stats = &backup.RestoreStats{}
	for _, name := range names {
		if _, err = tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE tenant_id = ?", quoteIdent(name)), tenantID); err != nil {
			return nil, backup.NewDatabaseError(fmt.Sprintf("failed to clear table %s", name), err)
		}

		for _, record := range tables[name].Records {
			query, args := insertStatement(name, tenantID, record)
			if _, err = tx.ExecContext(ctx, query, args...); err != nil {
				return nil, backup.NewDatabaseError(fmt.Sprintf("failed to insert into table %s", name), err)
			}
			stats.RecordsRestored++
		}
		stats.TablesRestored++
	}

	if err = tx.Commit(); err != nil {
		return nil, backup.NewDatabaseError("failed to commit restore transaction", err)
	}

	stats.Duration = time.Since(startTime)
	ts.logger.WithFields(map[string]interface{}{
		"tenant_id": tenantID,
		"tables":    stats.TablesRestored,
		"records":   stats.RecordsRestored,
	}).Info("Tenant data replaced")

	return stats, nil
}

// tenantTables lists base tables carrying a tenant_id column, excluding
// migration bookkeeping and the backup subsystem's own tables.
func (ts *TenantStore) tenantTables(ctx context.Context) ([]tableInfo, error) {
	query := `
		SELECT c.TABLE_NAME, c.COLUMN_NAME
		FROM INFORMATION_SCHEMA.COLUMNS c
		JOIN INFORMATION_SCHEMA.TABLES t
			ON t.TABLE_SCHEMA = c.TABLE_SCHEMA AND t.TABLE_NAME = c.TABLE_NAME
		WHERE c.TABLE_SCHEMA = DATABASE()
			AND t.TABLE_TYPE = 'BASE TABLE'
			AND c.COLUMN_NAME IN ('tenant_id', 'updated_at', 'created_at')
		ORDER BY c.TABLE_NAME
	`

	rows, err := ts.db.QueryContext(ctx, query)
	if err != nil {
		return nil, backup.NewDatabaseError("failed to query tenant tables", err)
	}
	defer rows.Close()

	byName := make(map[string]*tableInfo)
	hasTenant := make(map[string]bool)
	var order []string

	for rows.Next() {
		var tableName, columnName string
		if err := rows.Scan(&tableName, &columnName); err != nil {
			return nil, backup.NewDatabaseError("failed to scan table column", err)
		}
		if skipTable(tableName) {
			continue
		}

		info, ok := byName[tableName]
		if !ok {
			info = &tableInfo{name: tableName}
			byName[tableName] = info
			order = append(order, tableName)
		}
		switch strings.ToLower(columnName) {
		case "tenant_id":
			hasTenant[tableName] = true
		case "updated_at":
			info.hasUpdated = true
		case "created_at":
			info.hasCreated = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, backup.NewDatabaseError("error iterating table columns", err)
	}

	tables := make([]tableInfo, 0, len(order))
	for _, name := range order {
		if hasTenant[name] {
			tables = append(tables, *byName[name])
		}
	}
	return tables, nil
}

// readRows scans arbitrary rows into column-keyed maps with JSON-friendly values
func (ts *TenantStore) readRows(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := ts.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	records := []map[string]interface{}{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		record := make(map[string]interface{}, len(columns))
		for i, column := range columns {
			record[column] = normalizeValue(values[i])
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

func normalizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(timestampLayout)
	}
	return value
}

// insertStatement builds a parameterized INSERT with columns in sorted order.
// tenant_id is always forced to the restoring tenant.
func insertStatement(table string, tenantID int64, record map[string]interface{}) (string, []interface{}) {
	columns := make([]string, 0, len(record))
	for column := range record {
		if record[column] == nil {
			continue
		}
		columns = append(columns, column)
	}
	sort.Strings(columns)

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	args := make([]interface{}, len(columns))
	for i, column := range columns {
		quoted[i] = quoteIdent(column)
		placeholders[i] = "?"
		if column == "tenant_id" {
			args[i] = tenantID
		} else {
			args[i] = record[column]
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	return query, args
}

func skipTable(name string) bool {
	return strings.HasPrefix(name, "__drizzle") || internalTables[name]
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
