package workload_test

import (
	"testing"

	"github.com/bobboyms/txcore/pkg/index"
	"github.com/bobboyms/txcore/pkg/record"
	"github.com/bobboyms/txcore/pkg/schema"
	"github.com/bobboyms/txcore/pkg/txn"
	"github.com/bobboyms/txcore/pkg/types"
	"github.com/bobboyms/txcore/pkg/workload"
)

func newFacade(t *testing.T) *txn.Facade {
	t.Helper()
	idx := index.NewRegistry()
	cat := schema.NewCatalog()
	if err := workload.RegisterTPCC(idx, cat); err != nil {
		t.Fatalf("RegisterTPCC failed: %v", err)
	}
	f := txn.NewFacade(txn.NoWait, txn.Deps{Index: idx, Schema: cat})
	f.RegisterWorker(0)
	return f
}

// seedOneDistrict loads exactly enough rows (one warehouse, one
// district, one customer, one item, one stock) for a single-line
// New-Order and a by-id Payment against warehouse 1, district 1.
func seedOneDistrict(t *testing.T, f *txn.Facade) {
	t.Helper()
	ok, err := f.Run(0, func(tx txn.Handle) error {
		buf, err := tx.Insert(workload.TableWarehouse, workload.WarehouseKey(1))
		if err != nil {
			return err
		}
		if err := record.Encode(buf, &workload.Warehouse{WID: 1, Tax: 0.1, Name: "wh1"}); err != nil {
			return err
		}

		buf, err = tx.Insert(workload.TableDistrict, workload.DistrictKey(1, 1))
		if err != nil {
			return err
		}
		if err := record.Encode(buf, &workload.District{DID: 1, DWID: 1, NextOID: 25, Tax: 0.05, Name: "d1"}); err != nil {
			return err
		}

		buf, err = tx.Insert(workload.TableCustomer, workload.CustomerKey(1, 1, 1))
		if err != nil {
			return err
		}
		if err := record.Encode(buf, &workload.Customer{
			CID: 1, CDID: 1, CWID: 1, CreditLim: 50000, Discount: 0.1,
			Balance: -10, First: "Alice", Last: "BARBARBAR", Credit: "GC",
		}); err != nil {
			return err
		}
		if err := workload.InsertCustomerSecondary(tx, &workload.Customer{CID: 1, CDID: 1, CWID: 1, First: "Alice", Last: "BARBARBAR"}); err != nil {
			return err
		}

		buf, err = tx.Insert(workload.TableItem, workload.ItemKey(1))
		if err != nil {
			return err
		}
		if err := record.Encode(buf, &workload.Item{IID: 1, Price: 9.99, Name: "widget"}); err != nil {
			return err
		}

		buf, err = tx.Insert(workload.TableStock, workload.StockKey(1, 1))
		if err != nil {
			return err
		}
		if err := record.Encode(buf, &workload.Stock{SIID: 1, SWID: 1, Quantity: 50, Dist: [10]string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}}); err != nil {
			return err
		}
		return nil
	})
	if err != nil || !ok {
		t.Fatalf("seed failed: ok=%v err=%v", ok, err)
	}
}

func TestNewOrder_CommitsAndDeductsStock(t *testing.T) {
	f := newFacade(t)
	seedOneDistrict(t, f)

	in := workload.NewOrderInput{
		WID: 1, DID: 1, CID: 1, EntryD: 1000,
		Lines: []workload.NewOrderLine{{SupplyWID: 1, IID: 1, Quantity: 3}},
	}
	total, ok, err := workload.NewOrder(f, 0, in)
	if err != nil || !ok {
		t.Fatalf("NewOrder failed: ok=%v err=%v", ok, err)
	}
	if total <= 0 {
		t.Fatalf("total = %v, want > 0", total)
	}
}

func TestPayment_ByID_UpdatesBalances(t *testing.T) {
	f := newFacade(t)
	seedOneDistrict(t, f)

	in := workload.PaymentInput{WID: 1, DID: 1, CWID: 1, CDID: 1, CID: 1, Amount: 500, Date: 2000}
	ok, err := workload.Payment(f, 0, in)
	if err != nil || !ok {
		t.Fatalf("Payment failed: ok=%v err=%v", ok, err)
	}
}

func TestPayment_ByLastName_FindsCustomer(t *testing.T) {
	f := newFacade(t)
	seedOneDistrict(t, f)

	in := workload.PaymentInput{
		WID: 1, DID: 1, CWID: 1, CDID: 1, ByLastName: true, CLast: "BARBARBAR",
		Amount: 42, Date: 2001,
	}
	ok, err := workload.Payment(f, 0, in)
	if err != nil || !ok {
		t.Fatalf("Payment by last name failed: ok=%v err=%v", ok, err)
	}
}

func TestStockLevel_ReportsBelowThreshold(t *testing.T) {
	f := newFacade(t)
	seedOneDistrict(t, f)

	in := workload.NewOrderInput{
		WID: 1, DID: 1, CID: 1, EntryD: 1000,
		Lines: []workload.NewOrderLine{{SupplyWID: 1, IID: 1, Quantity: 35}},
	}
	if _, ok, err := workload.NewOrder(f, 0, in); err != nil || !ok {
		t.Fatalf("NewOrder setup failed: ok=%v err=%v", ok, err)
	}

	count, ok, err := workload.StockLevel(f, 0, workload.StockLevelInput{WID: 1, DID: 1, Threshold: 20})
	if err != nil || !ok {
		t.Fatalf("StockLevel failed: ok=%v err=%v", ok, err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1 (stock dropped below threshold)", count)
	}
}

func TestDelivery_RemovesNewOrderAndUpdatesCustomer(t *testing.T) {
	f := newFacade(t)
	seedOneDistrict(t, f)

	in := workload.NewOrderInput{
		WID: 1, DID: 1, CID: 1, EntryD: 1000,
		Lines: []workload.NewOrderLine{{SupplyWID: 1, IID: 1, Quantity: 2}},
	}
	if _, ok, err := workload.NewOrder(f, 0, in); err != nil || !ok {
		t.Fatalf("NewOrder setup failed: ok=%v err=%v", ok, err)
	}

	ok, err := workload.Delivery(f, 0, workload.DeliveryInput{WID: 1, CarrierID: 5, DeliveredAt: 3000})
	if err != nil || !ok {
		t.Fatalf("Delivery failed: ok=%v err=%v", ok, err)
	}

	// District 1 now has no pending new orders; a second delivery run
	// must skip it without error.
	if ok, err := workload.Delivery(f, 0, workload.DeliveryInput{WID: 1, CarrierID: 5, DeliveredAt: 3001}); err != nil || !ok {
		t.Fatalf("second Delivery failed: ok=%v err=%v", ok, err)
	}
}

func TestOrderStatus_ReturnsLatestOrderWithLines(t *testing.T) {
	f := newFacade(t)
	seedOneDistrict(t, f)

	in := workload.NewOrderInput{
		WID: 1, DID: 1, CID: 1, EntryD: 1000,
		Lines: []workload.NewOrderLine{{SupplyWID: 1, IID: 1, Quantity: 1}},
	}
	if _, ok, err := workload.NewOrder(f, 0, in); err != nil || !ok {
		t.Fatalf("NewOrder setup failed: ok=%v err=%v", ok, err)
	}

	result, ok, err := workload.OrderStatus(f, 0, workload.OrderStatusInput{WID: 1, DID: 1, CID: 1})
	if err != nil || !ok {
		t.Fatalf("OrderStatus failed: ok=%v err=%v", ok, err)
	}
	if len(result.Lines) != 1 {
		t.Fatalf("len(Lines) = %d, want 1", len(result.Lines))
	}
}

func TestYCSBTx_LoadThenMixedAccess(t *testing.T) {
	idx := index.NewRegistry()
	cat := schema.NewCatalog()
	if err := workload.RegisterYCSB(idx, cat); err != nil {
		t.Fatalf("RegisterYCSB failed: %v", err)
	}
	f := txn.NewFacade(txn.NoWait, txn.Deps{Index: idx, Schema: cat})
	f.RegisterWorker(0)

	ok, err := f.Run(0, func(tx txn.Handle) error {
		for k := types.Key(0); k < 10; k++ {
			if err := workload.LoadYCSBRow(tx, k, "seed"); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || !ok {
		t.Fatalf("YCSB load failed: ok=%v err=%v", ok, err)
	}

	g := workload.NewRand(1)
	z := workload.NewZipf(g, 0.8, 10)
	in := workload.GenerateYCSBInput(z, 5)
	mix := workload.YCSBMix{ReadPct: 50, UpdatePct: 30, ReadModifyWritePct: 20}
	if ok, err := workload.YCSBTx(f, 0, g, in, mix, 16); err != nil || !ok {
		t.Fatalf("YCSBTx failed: ok=%v err=%v", ok, err)
	}
}
