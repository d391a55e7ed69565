// Package relational implements the Backend contract over a SQLite
// database via database/sql and the pure-Go modernc.org/sqlite driver:
// no cgo, unlike most SQLite bindings, which keeps the module's whole
// dependency tree cross-compile-friendly.
package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/majkutK-unitn/anonymization-module/attribute"
	"github.com/majkutK-unitn/anonymization-module/numrange"
	"github.com/majkutK-unitn/anonymization-module/partition"
)

// Kind is a QID's SQL column affinity.
type Kind int

const (
	KindCategorical Kind = iota
	KindNumeric
)

// Store is a Backend backed by a single "records" table (one row per
// source record) and an "anonymized" output table that PushPartitions
// (re)populates.
type Store struct {
	db             *sql.DB
	qidKinds       map[string]Kind
	sensitiveNames []string
	queries        *slog.Logger
}

// Open connects to the SQLite database at dbPath and ensures the
// records table exists with one column per QID (affinity per
// qidKinds) plus one TEXT column per sensitive attribute. Every
// aggregate query is logged through queries; pass nil to discard
// query logging.
func Open(dbPath string, qidKinds map[string]Kind, sensitiveNames []string, queries *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("relational: opening %s: %w", dbPath, err)
	}
	if queries == nil {
		queries = slog.New(slog.DiscardHandler)
	}

	s := &Store{db: db, qidKinds: qidKinds, sensitiveNames: sensitiveNames, queries: queries}
	if err := s.ensureRecordsTable(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// logQuery records one SQL aggregate query on the queries logger.
func (s *Store) logQuery(query string, args []interface{}) {
	s.queries.Info("sql query", "query", query, "args", len(args))
}

func (s *Store) Close() error {
	return s.db.Close()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteIdentList(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return out
}

func (s *Store) ensureRecordsTable() error {
	cols := []string{"uuid TEXT PRIMARY KEY"}

	names := make([]string, 0, len(s.qidKinds))
	for name := range s.qidKinds {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		affinity := "TEXT"
		if s.qidKinds[name] == KindNumeric {
			affinity = "INTEGER"
		}
		cols = append(cols, fmt.Sprintf("%s %s", quoteIdent(name), affinity))
	}
	for _, name := range s.sensitiveNames {
		cols = append(cols, fmt.Sprintf("%s TEXT", quoteIdent(name)))
	}

	_, err := s.db.Exec(fmt.Sprintf("CREATE TABLE IF NOT EXISTS records (%s)", strings.Join(cols, ", ")))
	if err != nil {
		return fmt.Errorf("relational: creating records table: %w", err)
	}
	return nil
}

// Row is one source record, for bulk loading via LoadRows.
type Row struct {
	UUID        string
	Categorical map[string]string
	Numeric     map[string]int
	Sensitive   map[string]string
}

// LoadRows bulk-inserts rows into the records table inside a single
// transaction, the relational backend's counterpart of memdoc.New
// reading its whole input file up front.
func (s *Store) LoadRows(ctx context.Context, rows []Row) error {
	names := make([]string, 0, len(s.qidKinds))
	for name := range s.qidKinds {
		names = append(names, name)
	}
	sort.Strings(names)

	cols := append([]string{"uuid"}, names...)
	cols = append(cols, s.sensitiveNames...)

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	insertSQL := fmt.Sprintf("INSERT INTO records (%s) VALUES (%s)", strings.Join(quoteIdentList(cols), ", "), placeholders)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("relational: beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("relational: preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		args := make([]interface{}, 0, len(cols))
		args = append(args, row.UUID)
		for _, name := range names {
			if s.qidKinds[name] == KindNumeric {
				args = append(args, row.Numeric[name])
			} else {
				args = append(args, row.Categorical[name])
			}
		}
		for _, name := range s.sensitiveNames {
			args = append(args, row.Sensitive[name])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("relational: inserting row %s: %w", row.UUID, err)
		}
	}

	return tx.Commit()
}

// whereClause renders attrs (a range attribute's bounds, or a
// hierarchical attribute's leaf values) as a parameterized SQL WHERE
// clause, or "" when attrs is empty.
func whereClause(attrs map[string]attribute.Attribute) (string, []interface{}) {
	if len(attrs) == 0 {
		return "", nil
	}

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	var clauses []string
	var args []interface{}
	for _, name := range names {
		attr := attrs[name]
		col := quoteIdent(name)

		if b, ok := attr.(attribute.Bounder); ok {
			lo, hi := b.Bounds()
			clauses = append(clauses, fmt.Sprintf("%s BETWEEN ? AND ?", col))
			args = append(args, lo, hi)
			continue
		}
		if lv, ok := attr.(attribute.LeafValuer); ok {
			leaves := lv.LeafValues()
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(leaves)), ",")
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col, placeholders))
			for _, v := range leaves {
				args = append(args, v)
			}
			continue
		}
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) DocumentCount(ctx context.Context, attrs map[string]attribute.Attribute) (int, error) {
	where, args := whereClause(attrs)
	s.logQuery("SELECT COUNT(*) FROM records"+where, args)
	row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records"+where, args...)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("relational: counting records: %w", err)
	}
	return n, nil
}

func (s *Store) AttributeMinMax(ctx context.Context, name string, attrs map[string]attribute.Attribute) (int, int, error) {
	where, args := whereClause(attrs)
	col := quoteIdent(name)
	query := fmt.Sprintf("SELECT MIN(%s), MAX(%s) FROM records%s", col, col, where)
	s.logQuery(query, args)

	var lo, hi sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&lo, &hi); err != nil {
		return 0, 0, fmt.Errorf("relational: querying min/max of %q: %w", name, err)
	}
	if !lo.Valid {
		return 0, 0, fmt.Errorf("relational: no records carry numeric field %q", name)
	}
	return int(lo.Int64), int(hi.Int64), nil
}

// SplitPoint mirrors the same median/next-unique-value contract the
// document-store backend implements, driven by a single ORDER BY query
// instead of an in-memory sort.
func (s *Store) SplitPoint(ctx context.Context, name string, p *partition.Partition) (int, int, bool, error) {
	where, args := whereClause(p.Attributes)
	col := quoteIdent(name)

	query := fmt.Sprintf("SELECT %s FROM records%s ORDER BY %s", col, where, col)
	s.logQuery(query, args)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, 0, false, fmt.Errorf("relational: querying values of %q: %w", name, err)
	}
	defer rows.Close()

	var values []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return 0, 0, false, fmt.Errorf("relational: scanning value of %q: %w", name, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return 0, 0, false, fmt.Errorf("relational: iterating values of %q: %w", name, err)
	}
	if len(values) == 0 {
		return 0, 0, false, nil
	}

	median := medianOf(values)
	maxValue := values[len(values)-1]

	if median == maxValue {
		prev, ok := previousUnique(values, maxValue)
		if !ok {
			return 0, 0, false, nil
		}
		return prev, median, true, nil
	}

	next, ok := nextUnique(values, median)
	if !ok {
		return 0, 0, false, nil
	}
	return median, next, true, nil
}

// medianOf returns the lower median, always an actual value from the
// set, so the [min, median] / [next, max] halves land on real record
// boundaries.
func medianOf(sorted []int) int {
	return sorted[(len(sorted)-1)/2]
}

func nextUnique(sorted []int, v int) (int, bool) {
	for _, x := range sorted {
		if x > v {
			return x, true
		}
	}
	return 0, false
}

func previousUnique(sorted []int, v int) (int, bool) {
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i] < v {
			return sorted[i], true
		}
	}
	return 0, false
}

func (s *Store) UniformBuckets(ctx context.Context, name string, numBuckets int) ([]*numrange.Range, error) {
	if numBuckets <= 0 {
		return nil, fmt.Errorf("relational: num buckets must be positive, got %d", numBuckets)
	}

	col := quoteIdent(name)
	query := fmt.Sprintf("SELECT %s FROM records WHERE %s IS NOT NULL ORDER BY %s", col, col, col)
	s.logQuery(query, nil)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("relational: querying values of %q: %w", name, err)
	}
	defer rows.Close()

	var values []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("relational: scanning value of %q: %w", name, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("relational: iterating values of %q: %w", name, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("relational: no records carry numeric field %q", name)
	}
	min := values[0]

	cutSet := make(map[int]struct{}, numBuckets)
	for i := 1; i <= numBuckets; i++ {
		percentile := float64(i) / float64(numBuckets)
		idx := int(percentile*float64(len(values)-1) + 0.5)
		if idx >= len(values) {
			idx = len(values) - 1
		}
		cutSet[values[idx]] = struct{}{}
	}

	cuts := make([]int, 0, len(cutSet))
	for c := range cutSet {
		cuts = append(cuts, c)
	}
	sort.Ints(cuts)

	ranges := make([]*numrange.Range, 0, len(cuts))
	for i, bound := range cuts {
		switch {
		case i == 0:
			ranges = append(ranges, numrange.New(min, bound))
		case cuts[i-1] == bound:
			ranges = append(ranges, numrange.New(bound, bound))
		default:
			ranges = append(ranges, numrange.New(cuts[i-1]+1, bound))
		}
	}
	return ranges, nil
}

// publishedJSON renders one Attribute for the anonymized table's TEXT
// columns: a hierarchical attribute publishes as the
// set of leaf values its current node covers; a range attribute
// publishes as {gte, lte}, with a date range in RFC 3339 rather than
// bare epoch integers; anything else (IPRange) falls back to its CIDR
// GenValue. Every shape is JSON-encoded since a SQL TEXT column cannot
// hold a nested value directly.
func publishedJSON(attr attribute.Attribute) (string, error) {
	var value interface{}
	switch {
	case isLeafValuer(attr):
		value = attr.(attribute.LeafValuer).LeafValues()
	case isBoundedRange(attr):
		lo, hi := attr.(attribute.Bounder).Bounds()
		if attr.Kind() == attribute.KindDateRange {
			value = map[string]string{
				"gte": time.Unix(int64(lo), 0).UTC().Format(time.RFC3339),
				"lte": time.Unix(int64(hi), 0).UTC().Format(time.RFC3339),
			}
		} else {
			value = map[string]int{"gte": lo, "lte": hi}
		}
	default:
		value = attr.GenValue()
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func isLeafValuer(attr attribute.Attribute) bool {
	_, ok := attr.(attribute.LeafValuer)
	return ok
}

func isBoundedRange(attr attribute.Attribute) bool {
	_, ok := attr.(attribute.Bounder)
	return ok && attr.Kind() != attribute.KindIPRange
}

// PushPartitions (re)creates the anonymized table and, for every
// partition, copies its matching source rows into it with their QID
// values replaced by the partition's generalized values.
func (s *Store) PushPartitions(ctx context.Context, partitions []*partition.Partition) error {
	if len(partitions) == 0 {
		return nil
	}

	if err := s.ensureAnonymizedTable(partitions[0]); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("relational: beginning push transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM anonymized"); err != nil {
		return fmt.Errorf("relational: clearing anonymized table: %w", err)
	}

	qidNames := make([]string, 0, len(partitions[0].Attributes))
	for name := range partitions[0].Attributes {
		qidNames = append(qidNames, name)
	}
	sort.Strings(qidNames)

	insertCols := append([]string{"uuid"}, qidNames...)
	insertCols = append(insertCols, s.sensitiveNames...)
	insertPlaceholders := strings.TrimSuffix(strings.Repeat("?,", len(insertCols)), ",")
	insertSQL := fmt.Sprintf("INSERT INTO anonymized (%s) VALUES (%s)", strings.Join(quoteIdentList(insertCols), ", "), insertPlaceholders)

	insertStmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("relational: preparing anonymized insert: %w", err)
	}
	defer insertStmt.Close()

	selectCols := append([]string{"uuid"}, s.sensitiveNames...)
	selectSQL := fmt.Sprintf("SELECT %s FROM records", strings.Join(quoteIdentList(selectCols), ", "))

	for _, p := range partitions {
		genValues := make([]string, len(qidNames))
		for i, name := range qidNames {
			encoded, err := publishedJSON(p.Attributes[name])
			if err != nil {
				return fmt.Errorf("relational: encoding qid %q: %w", name, err)
			}
			genValues[i] = encoded
		}

		where, args := whereClause(p.Attributes)
		rows, err := tx.QueryContext(ctx, selectSQL+where, args...)
		if err != nil {
			return fmt.Errorf("relational: querying source rows: %w", err)
		}

		for rows.Next() {
			dest := make([]interface{}, len(selectCols))
			var rowUUID string
			dest[0] = &rowUUID
			sensVals := make([]string, len(s.sensitiveNames))
			for i := range sensVals {
				dest[i+1] = &sensVals[i]
			}
			if err := rows.Scan(dest...); err != nil {
				rows.Close()
				return fmt.Errorf("relational: scanning source row: %w", err)
			}

			insertArgs := make([]interface{}, 0, len(insertCols))
			insertArgs = append(insertArgs, rowUUID)
			for _, v := range genValues {
				insertArgs = append(insertArgs, v)
			}
			for _, v := range sensVals {
				insertArgs = append(insertArgs, v)
			}
			if _, err := insertStmt.ExecContext(ctx, insertArgs...); err != nil {
				rows.Close()
				return fmt.Errorf("relational: inserting anonymized row: %w", err)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("relational: iterating source rows: %w", err)
		}
		rows.Close()
	}

	return tx.Commit()
}

func (s *Store) ensureAnonymizedTable(sample *partition.Partition) error {
	if _, err := s.db.Exec("DROP TABLE IF EXISTS anonymized"); err != nil {
		return fmt.Errorf("relational: dropping anonymized table: %w", err)
	}

	qidNames := make([]string, 0, len(sample.Attributes))
	for name := range sample.Attributes {
		qidNames = append(qidNames, name)
	}
	sort.Strings(qidNames)

	cols := []string{"uuid TEXT"}
	for _, name := range qidNames {
		cols = append(cols, fmt.Sprintf("%s TEXT", quoteIdent(name)))
	}
	for _, name := range s.sensitiveNames {
		cols = append(cols, fmt.Sprintf("%s TEXT", quoteIdent(name)))
	}

	_, err := s.db.Exec(fmt.Sprintf("CREATE TABLE anonymized (%s)", strings.Join(cols, ", ")))
	if err != nil {
		return fmt.Errorf("relational: creating anonymized table: %w", err)
	}
	return nil
}
