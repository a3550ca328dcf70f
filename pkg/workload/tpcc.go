// This file implements TPC-C's five transaction profiles (New-Order,
// Payment, Order-Status, Delivery, Stock-Level), grounded on
// original_source/tpcc/include/{neworder,payment,orderstatus,delivery,
// stocklevel}_tx.hpp. Every profile drives pkg/txn's Facade.Run retry
// driver with a Body closure; none reaches into a pkg/protocol/*
// engine directly.
package workload

import (
	"fmt"
	"sort"

	txerrors "github.com/bobboyms/txcore/pkg/errors"
	"github.com/bobboyms/txcore/pkg/record"
	"github.com/bobboyms/txcore/pkg/txn"
	"github.com/bobboyms/txcore/pkg/types"
)

func getRow(tx txn.Handle, table types.TableID, key types.Key, out interface{}) (bool, error) {
	rec, found, err := tx.Read(table, key)
	if err != nil || !found {
		return found, err
	}
	return true, record.Decode(rec, out)
}

func insertRow(tx txn.Handle, table types.TableID, key types.Key, in interface{}) error {
	buf, err := tx.Insert(table, key)
	if err != nil {
		return err
	}
	return record.Encode(buf, in)
}

// NewOrderLine is one requested line item within a NewOrderInput.
type NewOrderLine struct {
	SupplyWID uint16
	IID       uint32
	Quantity  uint8
}

// NewOrderInput is one New-Order transaction's generated input, per
// neworder_tx.hpp's Input::generate.
type NewOrderInput struct {
	WID      uint16
	DID      uint8
	CID      uint32
	EntryD   int64
	IsRemote bool
	Lines    []NewOrderLine
}

// GenerateNewOrderInput builds a New-Order input for warehouse wID,
// mirroring neworder_tx.hpp's Input::generate (including the 1%
// deliberate-rollback line and the 1% remote-supplier line).
func GenerateNewOrderInput(g *Rand, numWarehouses, wID uint16, now int64) NewOrderInput {
	in := NewOrderInput{
		WID:      wID,
		DID:      uint8(g.Int(1, DistrictsPerWarehouse)),
		CID:      uint32(g.NURand(1023, 1, CustomersPerDistrict)),
		EntryD:   now,
		IsRemote: g.Bool(100),
	}
	olCnt := g.Int(MinOrderLinesPerOrder, MaxOrderLinesPerOrder)
	rollback := g.Bool(100)
	in.Lines = make([]NewOrderLine, olCnt)
	for i := 0; i < olCnt; i++ {
		line := NewOrderLine{SupplyWID: wID, Quantity: uint8(g.Int(1, 10))}
		if i == olCnt-1 && rollback {
			line.IID = ItemUnusedID
		} else {
			line.IID = uint32(g.NURand(8191, 1, 100000))
		}
		if in.IsRemote && numWarehouses > 1 {
			for {
				remote := uint16(g.Int(1, int(numWarehouses)))
				if remote != wID {
					line.SupplyWID = remote
					break
				}
			}
		}
		in.Lines[i] = line
	}
	return in
}

// NewOrder runs the New-Order transaction via f's retry driver,
// returning the order's total amount (quantity * item price, after
// the customer discount and warehouse/district tax) on success.
func NewOrder(f *txn.Facade, worker types.WorkerID, in NewOrderInput) (float64, bool, error) {
	var total float64
	ok, err := f.Run(worker, func(tx txn.Handle) error {
		total = 0
		var w Warehouse
		if found, err := getRow(tx, TableWarehouse, WarehouseKey(in.WID), &w); err != nil {
			return err
		} else if !found {
			return &txerrors.NotPresentError{Reason: "warehouse not found"}
		}

		var d District
		dKey := DistrictKey(in.WID, in.DID)
		buf, err := tx.Update(TableDistrict, dKey)
		if err != nil {
			return err
		}
		if err := record.Decode(buf, &d); err != nil {
			return err
		}
		oID := d.NextOID
		d.NextOID++
		if err := record.Encode(buf, &d); err != nil {
			return err
		}

		var c Customer
		if found, err := getRow(tx, TableCustomer, CustomerKey(in.WID, in.DID, in.CID), &c); err != nil {
			return err
		} else if !found {
			return &txerrors.NotPresentError{Reason: "customer not found"}
		}

		if err := insertRow(tx, TableNewOrder, NewOrderKey(in.WID, in.DID, oID), &NewOrder{
			OID: oID, DID: in.DID, WID: in.WID,
		}); err != nil {
			return err
		}

		allLocal := true
		for _, line := range in.Lines {
			if line.SupplyWID != in.WID {
				allLocal = false
				break
			}
		}
		if err := insertRow(tx, TableOrder, OrderKey(in.WID, in.DID, oID), &Order{
			OID: oID, DID: in.DID, WID: in.WID, CID: in.CID,
			OlCnt: uint8(len(in.Lines)), AllLocal: allLocal, EntryD: in.EntryD,
		}); err != nil {
			return err
		}

		for i, line := range in.Lines {
			if line.IID == ItemUnusedID {
				return &txerrors.NotPresentError{Reason: "deliberate rollback: unused item id"}
			}

			var item Item
			if found, err := getRow(tx, TableItem, ItemKey(line.IID), &item); err != nil {
				return err
			} else if !found {
				return &txerrors.NotPresentError{Reason: "item not found"}
			}

			var s Stock
			sKey := StockKey(line.SupplyWID, line.IID)
			sBuf, err := tx.Update(TableStock, sKey)
			if err != nil {
				return err
			}
			if err := record.Decode(sBuf, &s); err != nil {
				return err
			}
			if s.Quantity > int16(line.Quantity)+10 {
				s.Quantity -= int16(line.Quantity)
			} else {
				s.Quantity = s.Quantity - int16(line.Quantity) + 91
			}
			s.OrderCnt++
			if line.SupplyWID != in.WID {
				s.RemoteCnt++
			}
			if err := record.Encode(sBuf, &s); err != nil {
				return err
			}

			olNumber := uint8(i + 1)
			amount := float64(line.Quantity) * item.Price
			total += amount
			distInfo := s.Dist[in.DID-1]
			if err := insertRow(tx, TableOrderLine, OrderLineKey(in.WID, in.DID, oID, olNumber), &OrderLine{
				OID: oID, DID: in.DID, WID: in.WID, Number: olNumber,
				IID: line.IID, SupplyWID: line.SupplyWID, Quantity: line.Quantity,
				Amount: amount, DistInfo: distInfo,
			}); err != nil {
				return err
			}
		}
		total *= (1 - c.Discount) * (1 + w.Tax + d.Tax)
		return nil
	})
	return total, ok, err
}

// PaymentInput is one Payment transaction's generated input, per
// payment_tx.hpp's Input::generate.
type PaymentInput struct {
	WID        uint16
	DID        uint8
	CWID       uint16
	CDID       uint8
	CID        uint32
	ByLastName bool
	CLast      string
	Amount     float64
	Date       int64
}

// GeneratePaymentInput builds a Payment input for warehouse wID.
func GeneratePaymentInput(g *Rand, numWarehouses, wID uint16, now int64) PaymentInput {
	in := PaymentInput{
		WID:    wID,
		DID:    uint8(g.Int(1, DistrictsPerWarehouse)),
		Amount: g.Float64(100, 500000, 100),
		Date:   now,
	}
	if numWarehouses == 1 || g.Int(1, 100) <= 85 {
		in.CWID, in.CDID = wID, in.DID
	} else {
		for {
			remote := uint16(g.Int(1, int(numWarehouses)))
			if remote != wID {
				in.CWID = remote
				break
			}
		}
		in.CDID = uint8(g.Int(1, DistrictsPerWarehouse))
	}
	in.ByLastName = g.Int(1, 100) <= 60
	if in.ByLastName {
		in.CID = CustomerUnusedID
		in.CLast = g.RandomCLast()
	} else {
		in.CID = uint32(g.NURand(1023, 1, CustomersPerDistrict))
	}
	return in
}

// Payment runs the Payment transaction via f's retry driver.
func Payment(f *txn.Facade, worker types.WorkerID, in PaymentInput) (bool, error) {
	return f.Run(worker, func(tx txn.Handle) error {
		var w Warehouse
		wKey := WarehouseKey(in.WID)
		wBuf, err := tx.Update(TableWarehouse, wKey)
		if err != nil {
			return err
		}
		if err := record.Decode(wBuf, &w); err != nil {
			return err
		}
		w.YTD += in.Amount
		if err := record.Encode(wBuf, &w); err != nil {
			return err
		}

		var d District
		dKey := DistrictKey(in.WID, in.DID)
		dBuf, err := tx.Update(TableDistrict, dKey)
		if err != nil {
			return err
		}
		if err := record.Decode(dBuf, &d); err != nil {
			return err
		}
		d.YTD += in.Amount
		if err := record.Encode(dBuf, &d); err != nil {
			return err
		}

		cID := in.CID
		if in.ByLastName {
			found, id, err := findCustomerByLastName(tx, in.CWID, in.CDID, in.CLast)
			if err != nil {
				return err
			}
			if !found {
				return &txerrors.NotPresentError{Reason: "customer last name not found"}
			}
			cID = id
		}

		var c Customer
		cKey := CustomerKey(in.CWID, in.CDID, cID)
		cBuf, err := tx.Update(TableCustomer, cKey)
		if err != nil {
			return err
		}
		if err := record.Decode(cBuf, &c); err != nil {
			return err
		}
		c.Balance -= in.Amount
		c.YTDPayment += in.Amount
		c.PaymentCnt++
		if err := record.Encode(cBuf, &c); err != nil {
			return err
		}

		hKey := types.Key(historySurrogate(in.WID, in.DID, cID, in.Date))
		return insertRow(tx, TableHistory, hKey, &History{
			CID: cID, CDID: in.CDID, CWID: in.CWID, DID: in.DID, WID: in.WID,
			Date: in.Date, Amount: in.Amount,
			Data: fmt.Sprintf("%.10s    %.10s", w.Name, d.Name),
		})
	})
}

// historySurrogate packs a surrogate key for the append-only History
// table, which TPC-C gives no natural primary key: (w_id, d_id, c_id)
// in the high bits, the payment timestamp's low 24 bits as a
// same-customer tiebreaker.
func historySurrogate(wID uint16, dID uint8, cID uint32, date int64) uint64 {
	return uint64(wID)<<48 | uint64(dID)<<40 | uint64(cID)<<24 | uint64(date)&0xFFFFFF
}

// findCustomerByLastName scans the hand-maintained last-name secondary
// index for every customer sharing lastName in (wID, dID), decodes
// each candidate, and returns the one at the median position when
// sorted by first name ascending — the customer TPC-C's Payment/
// Order-Status specification names "the row in the middle."
func findCustomerByLastName(tx txn.Handle, wID uint16, dID uint8, lastName string) (bool, uint32, error) {
	hash := lastNameHash(lastName)
	lo := CustomerSecondaryKey(wID, dID, hash, 0)
	hi := CustomerSecondaryKey(wID, dID, hash, 0xFFFFFF)
	rows, err := tx.ReadScan(TableCustomerByLastName, lo, hi, 0, false)
	if err != nil {
		return false, 0, err
	}

	type candidate struct {
		cID   uint32
		first string
	}
	var candidates []candidate
	for _, rec := range rows {
		var entry struct {
			CID   uint32 `bson:"c_id"`
			Last  string `bson:"c_last"`
			First string `bson:"c_first"`
		}
		if err := record.Decode(rec, &entry); err != nil {
			return false, 0, err
		}
		if entry.Last != lastName {
			continue
		}
		candidates = append(candidates, candidate{cID: entry.CID, first: entry.First})
	}
	if len(candidates) == 0 {
		return false, 0, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].first < candidates[j].first })
	mid := (len(candidates) - 1) / 2
	return true, candidates[mid].cID, nil
}

// InsertCustomerSecondary adds c to the hand-maintained last-name
// index; load-time code must call this once per customer alongside
// InsertRow(TableCustomer, ...), since the engine never maintains
// secondary indexes automatically.
func InsertCustomerSecondary(tx txn.Handle, c *Customer) error {
	key := CustomerSecondaryKey(c.CWID, c.CDID, lastNameHash(c.Last), c.CID)
	return insertRow(tx, TableCustomerByLastName, key, &struct {
		CID   uint32 `bson:"c_id"`
		Last  string `bson:"c_last"`
		First string `bson:"c_first"`
	}{CID: c.CID, Last: c.Last, First: c.First})
}

// OrderStatusInput is one Order-Status transaction's generated input.
type OrderStatusInput struct {
	WID        uint16
	DID        uint8
	CID        uint32
	ByLastName bool
	CLast      string
}

// GenerateOrderStatusInput builds an Order-Status input for warehouse wID.
func GenerateOrderStatusInput(g *Rand, wID uint16) OrderStatusInput {
	in := OrderStatusInput{WID: wID, DID: uint8(g.Int(1, DistrictsPerWarehouse))}
	in.ByLastName = g.Int(1, 100) <= 60
	if in.ByLastName {
		in.CID = CustomerUnusedID
		in.CLast = g.RandomCLast()
	} else {
		in.CID = uint32(g.NURand(1023, 1, CustomersPerDistrict))
	}
	return in
}

// OrderStatusResult is the Order-Status read-only report.
type OrderStatusResult struct {
	Customer Customer
	Order    Order
	Lines    []OrderLine
}

// OrderStatus runs the read-only Order-Status transaction via f's
// retry driver, returning the rendered result on success.
func OrderStatus(f *txn.Facade, worker types.WorkerID, in OrderStatusInput) (OrderStatusResult, bool, error) {
	var result OrderStatusResult
	ok, err := f.Run(worker, func(tx txn.Handle) error {
		cID := in.CID
		if in.ByLastName {
			found, id, err := findCustomerByLastName(tx, in.WID, in.DID, in.CLast)
			if err != nil {
				return err
			}
			if !found {
				return &txerrors.NotPresentError{Reason: "customer last name not found"}
			}
			cID = id
		}

		var c Customer
		if found, err := getRow(tx, TableCustomer, CustomerKey(in.WID, in.DID, cID), &c); err != nil {
			return err
		} else if !found {
			return &txerrors.NotPresentError{Reason: "customer not found"}
		}

		rows, err := tx.ReadScan(TableOrder, OrderKey(in.WID, in.DID, 0), OrderKey(in.WID, in.DID, 0xFFFFFFFF), 0, true)
		if err != nil {
			return err
		}
		var latest *Order
		for _, rec := range rows {
			var o Order
			if err := record.Decode(rec, &o); err != nil {
				return err
			}
			if o.CID != cID {
				continue
			}
			if latest == nil || o.OID > latest.OID {
				o := o
				latest = &o
			}
		}
		if latest == nil {
			return &txerrors.NotPresentError{Reason: "customer has no orders"}
		}

		lineRows, err := tx.ReadScan(TableOrderLine,
			OrderLineKey(in.WID, in.DID, latest.OID, 0),
			OrderLineKey(in.WID, in.DID, latest.OID+1, 0), 0, false)
		if err != nil {
			return err
		}
		lines := make([]OrderLine, 0, len(lineRows))
		for _, rec := range lineRows {
			var ol OrderLine
			if err := record.Decode(rec, &ol); err != nil {
				return err
			}
			lines = append(lines, ol)
		}
		sort.Slice(lines, func(i, j int) bool { return lines[i].Number < lines[j].Number })

		result = OrderStatusResult{Customer: c, Order: *latest, Lines: lines}
		return nil
	})
	return result, ok, err
}

// DeliveryInput is one Delivery transaction's generated input. Unlike
// the other four profiles, Delivery processes all ten districts of a
// warehouse inside one transaction, per delivery_tx.hpp.
type DeliveryInput struct {
	WID         uint16
	CarrierID   uint8
	DeliveredAt int64
}

// GenerateDeliveryInput builds a Delivery input for warehouse wID.
func GenerateDeliveryInput(g *Rand, wID uint16, now int64) DeliveryInput {
	return DeliveryInput{WID: wID, CarrierID: uint8(g.Int(1, 10)), DeliveredAt: now}
}

// Delivery runs the Delivery transaction via f's retry driver,
// skipping any district with no pending new order.
func Delivery(f *txn.Facade, worker types.WorkerID, in DeliveryInput) (bool, error) {
	return f.Run(worker, func(tx txn.Handle) error {
		for dID := uint8(1); dID <= DistrictsPerWarehouse; dID++ {
			lo := NewOrderKey(in.WID, dID, 0)
			hi := NewOrderKey(in.WID, dID, 0xFFFFFFFF)
			rows, err := tx.ReadScan(TableNewOrder, lo, hi, 1, false)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				continue
			}
			var noKey types.Key
			var no NewOrder
			for k, rec := range rows {
				noKey = k
				if err := record.Decode(rec, &no); err != nil {
					return err
				}
			}
			if _, err := tx.Remove(TableNewOrder, noKey); err != nil {
				return err
			}

			var o Order
			oKey := OrderKey(in.WID, dID, no.OID)
			oBuf, err := tx.Update(TableOrder, oKey)
			if err != nil {
				return err
			}
			if err := record.Decode(oBuf, &o); err != nil {
				return err
			}
			o.CarrierID = in.CarrierID
			if err := record.Encode(oBuf, &o); err != nil {
				return err
			}

			lineRows, err := tx.UpdateScan(TableOrderLine,
				OrderLineKey(in.WID, dID, no.OID, 0),
				OrderLineKey(in.WID, dID, no.OID+1, 0), 0, false)
			if err != nil {
				return err
			}
			var totalAmount float64
			for _, buf := range lineRows {
				var ol OrderLine
				if err := record.Decode(buf, &ol); err != nil {
					return err
				}
				ol.DeliveryD = in.DeliveredAt
				totalAmount += ol.Amount
				if err := record.Encode(buf, &ol); err != nil {
					return err
				}
			}

			var c Customer
			cKey := CustomerKey(in.WID, dID, o.CID)
			cBuf, err := tx.Update(TableCustomer, cKey)
			if err != nil {
				return err
			}
			if err := record.Decode(cBuf, &c); err != nil {
				return err
			}
			c.Balance += totalAmount
			c.DeliveryCnt++
			if err := record.Encode(cBuf, &c); err != nil {
				return err
			}
		}
		return nil
	})
}

// StockLevelInput is one Stock-Level transaction's generated input.
type StockLevelInput struct {
	WID       uint16
	DID       uint8
	Threshold uint8
}

// GenerateStockLevelInput builds a Stock-Level input for warehouse wID.
func GenerateStockLevelInput(g *Rand, wID uint16) StockLevelInput {
	return StockLevelInput{WID: wID, DID: uint8(g.Int(1, DistrictsPerWarehouse)), Threshold: uint8(g.Int(10, 20))}
}

// StockLevel runs the read-only Stock-Level transaction via f's retry
// driver, returning the count of distinct recently-ordered items
// whose stock has fallen below the input threshold.
func StockLevel(f *txn.Facade, worker types.WorkerID, in StockLevelInput) (int, bool, error) {
	var lowStockCount int
	ok, err := f.Run(worker, func(tx txn.Handle) error {
		var d District
		if found, err := getRow(tx, TableDistrict, DistrictKey(in.WID, in.DID), &d); err != nil {
			return err
		} else if !found {
			return &txerrors.NotPresentError{Reason: "district not found"}
		}

		lowOID := d.NextOID - 20
		lo := OrderLineKey(in.WID, in.DID, lowOID, 1)
		hi := OrderLineKey(in.WID, in.DID, d.NextOID, 1)
		rows, err := tx.ReadScan(TableOrderLine, lo, hi, 0, false)
		if err != nil {
			return err
		}

		distinctItems := make(map[uint32]struct{})
		for _, rec := range rows {
			var ol OrderLine
			if err := record.Decode(rec, &ol); err != nil {
				return err
			}
			if ol.IID != ItemUnusedID {
				distinctItems[ol.IID] = struct{}{}
			}
		}

		count := 0
		for iID := range distinctItems {
			var s Stock
			if found, err := getRow(tx, TableStock, StockKey(in.WID, iID), &s); err != nil {
				return err
			} else if found && s.Quantity < int16(in.Threshold) {
				count++
			}
		}
		lowStockCount = count
		return nil
	})
	return lowStockCount, ok, err
}
