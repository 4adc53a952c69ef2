package enums

// InventoryStatus records whether an order's stock is still a reservation or
// permanently sold. A paid order leaves inventory decremented; the reservation
// converts to "sold" without touching the counters again.
type InventoryStatus string

const (
	InventoryStatusReserved InventoryStatus = "reserved"
	InventoryStatusSold     InventoryStatus = "sold"
)

// String implements fmt.Stringer.
func (i InventoryStatus) String() string {
	return string(i)
}
