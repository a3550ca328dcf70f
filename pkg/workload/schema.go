package workload

import (
	"github.com/bobboyms/txcore/pkg/index"
	"github.com/bobboyms/txcore/pkg/schema"
	"github.com/bobboyms/txcore/pkg/types"
)

// TPC-C table ids. The customer-by-last-name secondary index is a
// distinct table the Payment/OrderStatus profiles maintain by hand,
// since the engine never maintains secondary indexes automatically.
const (
	TableWarehouse types.TableID = iota + 1
	TableDistrict
	TableCustomer
	TableCustomerByLastName
	TableHistory
	TableOrder
	TableNewOrder
	TableOrderLine
	TableStock
	TableItem
	TableYCSB
)

// tpccRecordSizes bounds each table's fixed record size generously
// above its BSON-encoded worst case (long strings at their TPC-C max
// length), per pkg/record's fixed-width encoding contract.
var tpccRecordSizes = map[types.TableID]int{
	TableWarehouse:          512,
	TableDistrict:           512,
	TableCustomer:           1024,
	TableCustomerByLastName: 64,
	TableHistory:            256,
	TableOrder:              256,
	TableNewOrder:           64,
	TableOrderLine:          320,
	TableStock:              768,
	TableItem:               256,
}

// RegisterTPCC registers every TPC-C table (plus the hand-maintained
// customer-by-last-name secondary index) with both the schema catalog
// and the index registry. Call once before any worker begins.
func RegisterTPCC(idx *index.Registry, cat *schema.Catalog) error {
	for table, size := range tpccRecordSizes {
		if err := cat.RegisterTable(table, size); err != nil {
			return err
		}
		// CustomerSecondaryKey folds c_id into its low bits, so even
		// same-last-name entries land at distinct keys; every table is
		// safely a unique index.
		idx.CreateTable(table, true)
	}
	return nil
}

// YCSBRecordSize bounds a YCSB row's fixed size (10 fields x 100
// bytes, per the standard YCSB core workload field layout).
const YCSBRecordSize = 1200

// RegisterYCSB registers the single YCSB table.
func RegisterYCSB(idx *index.Registry, cat *schema.Catalog) error {
	if err := cat.RegisterTable(TableYCSB, YCSBRecordSize); err != nil {
		return err
	}
	idx.CreateTable(TableYCSB, true)
	return nil
}
