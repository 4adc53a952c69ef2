package enums

import "fmt"

// PaymentGateway identifies which gateway adapter a session clears through.
type PaymentGateway string

const (
	// GatewayCheckout is the hosted-invoice gateway.
	GatewayCheckout PaymentGateway = "checkout"
	// GatewayKPay is the hosted-page gateway (encrypted trandata).
	GatewayKPay PaymentGateway = "kpay"
	// GatewayWallet is the in-app wallet SDK gateway.
	GatewayWallet PaymentGateway = "wallet"
)

var validPaymentGateways = []PaymentGateway{
	GatewayCheckout,
	GatewayKPay,
	GatewayWallet,
}

// String implements fmt.Stringer.
func (g PaymentGateway) String() string {
	return string(g)
}

// IsValid reports whether the value is a known PaymentGateway.
func (g PaymentGateway) IsValid() bool {
	for _, candidate := range validPaymentGateways {
		if candidate == g {
			return true
		}
	}
	return false
}

// ParsePaymentGateway converts raw input into a PaymentGateway.
func ParsePaymentGateway(value string) (PaymentGateway, error) {
	for _, candidate := range validPaymentGateways {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment gateway %q", value)
}
