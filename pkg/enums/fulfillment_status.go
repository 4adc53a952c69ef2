package enums

// FulfillmentStatus tracks physical fulfillment of a paid order.
type FulfillmentStatus string

const (
	FulfillmentStatusPending   FulfillmentStatus = "pending"
	FulfillmentStatusPreparing FulfillmentStatus = "preparing"
	FulfillmentStatusShipped   FulfillmentStatus = "shipped"
	FulfillmentStatusDelivered FulfillmentStatus = "delivered"
)

// String implements fmt.Stringer.
func (f FulfillmentStatus) String() string {
	return string(f)
}
