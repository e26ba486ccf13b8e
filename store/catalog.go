package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"gorm.io/gorm"
)

// Catalog merkt sich die beschreibbaren Spalten jeder Tabelle. Das Schema
// ändert sich zur Laufzeit nicht, Einträge werden nie verworfen.
type Catalog struct {
	db *gorm.DB

	mu      sync.Mutex
	columns map[string][]string
}

func NewCatalog(db *gorm.DB) *Catalog {
	return &Catalog{db: db, columns: map[string][]string{}}
}

// Columns liefert die Spalten der Tabelle in Schema-Reihenfolge, ohne
// generierte Spalten. Fehler werden nicht gecacht.
func (c *Catalog) Columns(ctx context.Context, t Table) ([]string, error) {
	return c.lookup(ctx, c.db, t)
}

func (c *Catalog) lookup(ctx context.Context, db *gorm.DB, t Table) ([]string, error) {
	c.mu.Lock()
	cached, ok := c.columns[t.Name]
	c.mu.Unlock()
	if ok {
		return slices.Clone(cached), nil
	}

	name, err := identifier(t.Name)
	if err != nil {
		return nil, err
	}
	rows, err := db.WithContext(ctx).Raw("SELECT * FROM " + name + " LIMIT 0").Rows()
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", t.Name, Classify(err))
	}
	defer rows.Close()

	all, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", t.Name, Classify(err))
	}
	cols := make([]string, 0, len(all))
	for _, col := range all {
		if !t.IsGenerated(col) {
			cols = append(cols, col)
		}
	}

	c.mu.Lock()
	c.columns[t.Name] = cols
	c.mu.Unlock()
	return slices.Clone(cols), nil
}
