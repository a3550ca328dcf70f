package workload

// Address is the street/city/state/zip block embedded in Warehouse,
// District and Customer, mirroring original_source/include/record_layout.hpp's
// Address struct field-for-field.
type Address struct {
	Street1 string `bson:"street_1"`
	Street2 string `bson:"street_2"`
	City    string `bson:"city"`
	State   string `bson:"state"`
	Zip     string `bson:"zip"`
}

// Item is TPC-C's ITEM table, primary key i_id (ItemKey).
type Item struct {
	IID   uint32  `bson:"i_id"`
	IImID uint32  `bson:"i_im_id"`
	Price float64 `bson:"i_price"`
	Name  string  `bson:"i_name"`
	Data  string  `bson:"i_data"`
}

// ItemUnusedID marks an order-line item id deliberately left
// unresolvable, triggering the 1% NewOrder user-abort rollback scenario.
const ItemUnusedID = 0

// Warehouse is TPC-C's WAREHOUSE table, primary key w_id (WarehouseKey).
type Warehouse struct {
	WID  uint16  `bson:"w_id"`
	Tax  float64 `bson:"w_tax"`
	YTD  float64 `bson:"w_ytd"`
	Name string  `bson:"w_name"`
	Addr Address `bson:"w_address"`
}

// Stock is TPC-C's STOCK table, primary key (w_id, i_id) (StockKey).
type Stock struct {
	SIID       uint32  `bson:"s_i_id"`
	SWID       uint16  `bson:"s_w_id"`
	Quantity   int16   `bson:"s_quantity"`
	YTD        uint32  `bson:"s_ytd"`
	OrderCnt   uint16  `bson:"s_order_cnt"`
	RemoteCnt  uint16  `bson:"s_remote_cnt"`
	Dist       [10]string `bson:"s_dist"`
	Data       string  `bson:"s_data"`
}

// District is TPC-C's DISTRICT table, primary key (w_id, d_id) (DistrictKey).
type District struct {
	DID       uint8   `bson:"d_id"`
	DWID      uint16  `bson:"d_w_id"`
	NextOID   uint32  `bson:"d_next_o_id"`
	Tax       float64 `bson:"d_tax"`
	YTD       float64 `bson:"d_ytd"`
	Name      string  `bson:"d_name"`
	Addr      Address `bson:"d_address"`
}

// DistrictsPerWarehouse is TPC-C's fixed district-per-warehouse count.
const DistrictsPerWarehouse = 10

// CustomerUnusedID marks a Payment/OrderStatus input that looks the
// customer up by last name instead of by id.
const CustomerUnusedID = 0

// CustomersPerDistrict is TPC-C's fixed customer-per-district count.
const CustomersPerDistrict = 3000

// Customer is TPC-C's CUSTOMER table, primary key (w_id, d_id, c_id)
// (CustomerKey).
type Customer struct {
	CID           uint32  `bson:"c_id"`
	CDID          uint8   `bson:"c_d_id"`
	CWID          uint16  `bson:"c_w_id"`
	PaymentCnt    uint16  `bson:"c_payment_cnt"`
	DeliveryCnt   uint16  `bson:"c_delivery_cnt"`
	Since         int64   `bson:"c_since"`
	CreditLim     float64 `bson:"c_credit_lim"`
	Discount      float64 `bson:"c_discount"`
	Balance       float64 `bson:"c_balance"`
	YTDPayment    float64 `bson:"c_ytd_payment"`
	First         string  `bson:"c_first"`
	Middle        string  `bson:"c_middle"`
	Last          string  `bson:"c_last"`
	Phone         string  `bson:"c_phone"`
	Credit        string  `bson:"c_credit"` // "GC" good credit, "BC" bad credit
	Data          string  `bson:"c_data"`
	Addr          Address `bson:"c_address"`
}

// History is TPC-C's HISTORY table, append-only (no unique primary
// key — Payment keys it by historySurrogate, which packs w_id, d_id,
// c_id and the payment date's low 24 bits).
type History struct {
	CID    uint32  `bson:"h_c_id"`
	CDID   uint8   `bson:"h_c_d_id"`
	CWID   uint16  `bson:"h_c_w_id"`
	DID    uint8   `bson:"h_d_id"`
	WID    uint16  `bson:"h_w_id"`
	Date   int64   `bson:"h_date"`
	Amount float64 `bson:"h_amount"`
	Data   string  `bson:"h_data"`
}

// Order is TPC-C's ORDER table, primary key (w_id, d_id, o_id) (OrderKey).
type Order struct {
	OID       uint32 `bson:"o_id"`
	DID       uint8  `bson:"o_d_id"`
	WID       uint16 `bson:"o_w_id"`
	CID       uint32 `bson:"o_c_id"`
	CarrierID uint8  `bson:"o_carrier_id"`
	OlCnt     uint8  `bson:"o_ol_cnt"`
	AllLocal  bool   `bson:"o_all_local"`
	EntryD    int64  `bson:"o_entry_d"`
}

// NewOrder is TPC-C's NEW-ORDER table, primary key (w_id, d_id, o_id)
// (NewOrderKey). A row's presence means the order hasn't been
// delivered yet; Delivery deletes it.
type NewOrder struct {
	OID uint32 `bson:"no_o_id"`
	DID uint8  `bson:"no_d_id"`
	WID uint16 `bson:"no_w_id"`
}

// OrderLine is TPC-C's ORDER-LINE table, primary key (w_id, d_id,
// o_id, ol_number) (OrderLineKey).
type OrderLine struct {
	OID         uint32  `bson:"ol_o_id"`
	DID         uint8   `bson:"ol_d_id"`
	WID         uint16  `bson:"ol_w_id"`
	Number      uint8   `bson:"ol_number"`
	IID         uint32  `bson:"ol_i_id"`
	SupplyWID   uint16  `bson:"ol_supply_w_id"`
	DeliveryD   int64   `bson:"ol_delivery_d"`
	Quantity    uint8   `bson:"ol_quantity"`
	Amount      float64 `bson:"ol_amount"`
	DistInfo    string  `bson:"ol_dist_info"`
}

// MinOrderLinesPerOrder and MaxOrderLinesPerOrder bound a NewOrder
// transaction's line count, per TPC-C.
const (
	MinOrderLinesPerOrder = 5
	MaxOrderLinesPerOrder = 15
)
