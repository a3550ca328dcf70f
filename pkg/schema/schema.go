// Package schema implements the schema catalog (C10): the table id →
// record size / secondary-table-id registry populated once before any
// worker begins a transaction.
package schema

import (
	"sync"

	txerrors "github.com/bobboyms/txcore/pkg/errors"
	"github.com/bobboyms/txcore/pkg/types"
)

// Table describes one registered table: its fixed record size (every
// record in the table occupies exactly this many bytes) and the ids
// of any secondary tables the workload maintains by hand. The engine
// itself never maintains secondary indexes automatically — the
// workload inserts/removes secondary pointers itself, but the catalog
// still names which ids those are.
type Table struct {
	ID              types.TableID
	RecordSize      int
	SecondaryTables []types.TableID
}

// Catalog is the process-wide table registry, separate from
// pkg/index.Registry's B+-tree pointers so table metadata can be
// registered independently of index construction. Records are opaque
// byte buffers rather than typed rows, so there is no column-type
// enum here — just the fixed size every record in a table must fit.
type Catalog struct {
	mu     sync.RWMutex
	tables map[types.TableID]*Table
}

// NewCatalog creates an empty schema catalog.
func NewCatalog() *Catalog {
	return &Catalog{tables: make(map[types.TableID]*Table)}
}

// RegisterTable adds a table definition, failing if id is already
// registered.
func (c *Catalog) RegisterTable(id types.TableID, recordSize int, secondaryTables ...types.TableID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tables[id]; exists {
		return &txerrors.TableAlreadyExistsError{TableID: id}
	}

	c.tables[id] = &Table{
		ID:              id,
		RecordSize:      recordSize,
		SecondaryTables: secondaryTables,
	}
	return nil
}

// Get returns the definition for id, or TableNotFoundError.
func (c *Catalog) Get(id types.TableID) (*Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.tables[id]
	if !ok {
		return nil, &txerrors.TableNotFoundError{TableID: id}
	}
	return t, nil
}

// RecordSize is a convenience accessor equivalent to Get(id).RecordSize.
func (c *Catalog) RecordSize(id types.TableID) (int, error) {
	t, err := c.Get(id)
	if err != nil {
		return 0, err
	}
	return t.RecordSize, nil
}
