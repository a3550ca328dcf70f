// Package workload supplies the TPC-C and YCSB benchmark bodies,
// layered entirely on pkg/txn's facade — no file in this package
// imports a pkg/protocol/* engine directly.
//
// TPC-C's primary keys are composite (warehouse, district, customer, ...);
// pkg/types.Key is a single uint64. This file packs each TPC-C composite
// key into one Key using a fixed bitfield layout, so a range scan over
// a packed key range visits rows in (w_id, d_id, o_id, ...) order.
package workload

import "github.com/bobboyms/txcore/pkg/types"

// ItemKey packs an Item's primary key (i_id alone — items aren't
// partitioned by warehouse).
func ItemKey(iID uint32) types.Key { return types.Key(iID) }

// WarehouseKey packs a Warehouse's primary key (w_id alone).
func WarehouseKey(wID uint16) types.Key { return types.Key(wID) }

// StockKey packs (w_id, i_id): w_id in bits 32-47, i_id in the low 32.
func StockKey(wID uint16, iID uint32) types.Key {
	return types.Key(uint64(wID)<<32 | uint64(iID))
}

// DistrictKey packs (w_id, d_id): w_id in bits 8-23, d_id in the low 8 bits.
func DistrictKey(wID uint16, dID uint8) types.Key {
	return types.Key(uint64(wID)<<8 | uint64(dID))
}

// CustomerKey packs (w_id, d_id, c_id): w_id in bits 40-55, d_id in
// bits 32-39, c_id in the low 32 bits.
func CustomerKey(wID uint16, dID uint8, cID uint32) types.Key {
	return types.Key(uint64(wID)<<40 | uint64(dID)<<32 | uint64(cID))
}

// OrderKey packs (w_id, d_id, o_id) with the same layout as CustomerKey.
func OrderKey(wID uint16, dID uint8, oID uint32) types.Key {
	return types.Key(uint64(wID)<<40 | uint64(dID)<<32 | uint64(oID))
}

// NewOrderKey packs (w_id, d_id, o_id); the new-order table shares
// Order's key layout since every new order is also an order.
func NewOrderKey(wID uint16, dID uint8, oID uint32) types.Key {
	return OrderKey(wID, dID, oID)
}

// OrderLineKey packs (w_id, d_id, o_id, ol_number): w_id in bits
// 48-63, d_id in bits 40-47, o_id in bits 8-39, ol_number in the low 8
// bits, so a scan bounded by OrderLineKey(w,d,o,0)..OrderLineKey(w,d,o+1,0)
// visits exactly one order's lines in ol_number order.
func OrderLineKey(wID uint16, dID uint8, oID uint32, olNumber uint8) types.Key {
	return types.Key(uint64(wID)<<48 | uint64(dID)<<40 | uint64(oID)<<8 | uint64(olNumber))
}

// CustomerSecondaryKey packs (w_id, d_id, lastNameHash, c_id) for the
// hand-maintained last-name secondary index: the engine never maintains
// secondary indexes automatically, so workloads maintain their own,
// per pkg/schema.Table.SecondaryTables. c_id is folded into the key's
// low 24 bits so every customer sharing a last name gets its own entry
// instead of colliding; the hash is truncated to 16 bits, which only
// widens the false-positive rate the post-scan c_last recheck absorbs.
func CustomerSecondaryKey(wID uint16, dID uint8, lastNameHash uint16, cID uint32) types.Key {
	return types.Key(uint64(wID)<<48 | uint64(dID)<<40 | uint64(lastNameHash)<<24 | uint64(cID&0xFFFFFF))
}

// lastNameHash is the FNV-1a hash of a customer's last name, truncated
// to 16 bits and folded into CustomerSecondaryKey. Collisions are
// acceptable: the secondary scan re-checks c_last on every candidate
// before using it.
func lastNameHash(lastName string) uint16 {
	var h uint32 = 2166136261
	for i := 0; i < len(lastName); i++ {
		h ^= uint32(lastName[i])
		h *= 16777619
	}
	return uint16(h)
}
