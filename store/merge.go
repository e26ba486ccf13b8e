package store

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"

	"arxiv-hype/metrics"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Policy bestimmt, was bei einem bereits vorhandenen Schlüssel passiert.
type Policy int

const (
	// Overwrite ersetzt die Schreibspalten der vorhandenen Zeile.
	Overwrite Policy = iota
	// KeepExisting lässt die vorhandene Zeile unverändert.
	KeepExisting
)

func (p Policy) String() string {
	switch p {
	case Overwrite:
		return "overwrite"
	case KeepExisting:
		return "keep_existing"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// PostgreSQL erlaubt höchstens so viele Parameter pro Statement.
const maxBindParams = 65535

const defaultBatchSize = 500

// Record ist eine Zeile, Spaltenname -> Wert.
type Record map[string]any

// MergeSpec beschreibt einen Bulk-Merge. Records muss mehrfach iterierbar
// sein (Leer-Check und Staging).
type MergeSpec struct {
	Table        Table
	Records      iter.Seq[Record]
	KeyColumns   []string // Standard: Table.Key
	WriteColumns []string // Standard: alle nicht generierten Spalten
	Policy       Policy
}

// Engine schreibt Records in eine temporäre Staging-Tabelle der Transaktion
// und merged sie mit einem einzigen INSERT ... ON CONFLICT in die Zieltabelle.
type Engine struct {
	DB        *gorm.DB
	Catalog   *Catalog
	Logger    *zap.Logger
	BatchSize int
}

func NewEngine(db *gorm.DB, catalog *Catalog, logger *zap.Logger, batchSize int) *Engine {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Engine{DB: db, Catalog: catalog, Logger: logger, BatchSize: batchSize}
}

// MergeTx führt Merge in einer eigenen Transaktion aus. Ohne Records keine Transaktion.
func (e *Engine) MergeTx(ctx context.Context, spec MergeSpec) error {
	if isEmpty(spec.Records) {
		return nil
	}
	return e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return e.Merge(ctx, tx, spec)
	})
}

// Merge staged und merged spec.Records innerhalb von tx. Die Staging-Tabelle
// verschwindet mit Commit oder Rollback.
func (e *Engine) Merge(ctx context.Context, tx *gorm.DB, spec MergeSpec) error {
	if spec.Records == nil || isEmpty(spec.Records) {
		return nil
	}
	if spec.Policy != Overwrite && spec.Policy != KeepExisting {
		return validationErrorf("unknown merge policy %s", spec.Policy)
	}

	keys := spec.KeyColumns
	if len(keys) == 0 {
		keys = spec.Table.Key
	}
	if len(keys) == 0 {
		return validationErrorf("merge into %s: no key columns", spec.Table.Name)
	}

	available, err := e.Catalog.lookup(ctx, tx, spec.Table)
	if err != nil {
		return err
	}
	write := spec.WriteColumns
	if len(write) == 0 {
		write = available
	}
	cols := mergeColumns(keys, write)
	for _, c := range cols {
		if spec.Table.IsGenerated(c) {
			return validationErrorf("merge into %s: column %s is generated", spec.Table.Name, c)
		}
		if !slices.Contains(available, c) {
			return validationErrorf("merge into %s: unknown column %s", spec.Table.Name, c)
		}
		if _, err := identifier(c); err != nil {
			return err
		}
	}
	table, err := identifier(spec.Table.Name)
	if err != nil {
		return err
	}

	stage := fmt.Sprintf("%s_stage_%s", table, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	colList := strings.Join(cols, ", ")
	stageSQL := fmt.Sprintf("CREATE TEMPORARY TABLE %s ON COMMIT DROP AS SELECT %s FROM %s LIMIT 0", stage, colList, table)
	if err := tx.WithContext(ctx).Exec(stageSQL).Error; err != nil {
		return fmt.Errorf("create staging table for %s: %w", table, Classify(err))
	}

	batchSize := e.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	rowsPerBatch := min(batchSize, maxBindParams/len(cols))
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	batch := make([]any, 0, rowsPerBatch*len(cols))
	inBatch := 0
	flush := func() error {
		if inBatch == 0 {
			return nil
		}
		values := strings.TrimSuffix(strings.Repeat(placeholder+", ", inBatch), ", ")
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", stage, colList, values)
		if err := tx.WithContext(ctx).Exec(q, batch...).Error; err != nil {
			return fmt.Errorf("stage rows for %s: %w", table, Classify(err))
		}
		batch = batch[:0]
		inBatch = 0
		return nil
	}

	seen := map[string]struct{}{}
	staged := 0
	for rec := range spec.Records {
		if err := checkRecord(spec.Table, rec, available); err != nil {
			return err
		}
		k, err := keyOf(rec, keys)
		if err != nil {
			return fmt.Errorf("merge into %s: %w", table, err)
		}
		if _, dup := seen[k]; dup {
			if spec.Policy == Overwrite {
				return fmt.Errorf("merge into %s key %s: %w", table, k, ErrDuplicateKey)
			}
			continue
		}
		seen[k] = struct{}{}

		for _, c := range cols {
			batch = append(batch, bindValue(rec[c]))
		}
		inBatch++
		staged++
		if inBatch == rowsPerBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	mergeSQL := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		table, colList, colList, stage, strings.Join(keys, ", "), conflictAction(spec.Policy, keys, cols))
	res := tx.WithContext(ctx).Exec(mergeSQL)
	if res.Error != nil {
		return fmt.Errorf("merge into %s: %w", table, Classify(res.Error))
	}

	metrics.MergedRows.WithLabelValues(table, spec.Policy.String()).Add(float64(staged))
	if e.Logger != nil {
		e.Logger.Debug("Zeilen gemerged",
			zap.String("table", table),
			zap.String("policy", spec.Policy.String()),
			zap.Int("staged", staged),
			zap.Int64("affected", res.RowsAffected))
	}
	return nil
}

func conflictAction(p Policy, keys, cols []string) string {
	if p == KeepExisting {
		return "DO NOTHING"
	}
	var sets []string
	for _, c := range cols {
		if !slices.Contains(keys, c) {
			sets = append(sets, c+" = EXCLUDED."+c)
		}
	}
	if len(sets) == 0 {
		return "DO NOTHING"
	}
	return "DO UPDATE SET " + strings.Join(sets, ", ")
}

// mergeColumns: erst die Schlüssel, dann die übrigen Schreibspalten.
func mergeColumns(keys, write []string) []string {
	cols := slices.Clone(keys)
	for _, c := range write {
		if !slices.Contains(cols, c) {
			cols = append(cols, c)
		}
	}
	return cols
}

func checkRecord(t Table, rec Record, available []string) error {
	for c := range rec {
		if t.IsGenerated(c) {
			return validationErrorf("record for %s sets generated column %s", t.Name, c)
		}
		if !slices.Contains(available, c) {
			return validationErrorf("record for %s has unknown column %s", t.Name, c)
		}
	}
	return nil
}

func keyOf(rec Record, keys []string) (string, error) {
	parts := make([]string, len(keys))
	for i, k := range keys {
		v, ok := rec[k]
		if !ok || v == nil {
			return "", validationErrorf("missing key column %s", k)
		}
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "\x1f"), nil
}

// bindValue macht aus Vektor-Slices pgvector-Werte, damit sie als ein
// Parameter gebunden werden.
func bindValue(v any) any {
	switch x := v.(type) {
	case []float32:
		if x == nil {
			return nil
		}
		return pgvector.NewVector(x)
	case *pgvector.Vector:
		if x == nil {
			return nil
		}
		return *x
	}
	return v
}

func isEmpty(seq iter.Seq[Record]) bool {
	if seq == nil {
		return true
	}
	for range seq {
		return false
	}
	return true
}
