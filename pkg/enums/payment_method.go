package enums

import "fmt"

// PaymentMethod describes how a tenant settled a subscription period.
type PaymentMethod string

const (
	PaymentMethodEfectivo      PaymentMethod = "EFECTIVO"
	PaymentMethodQR            PaymentMethod = "QR"
	PaymentMethodTransferencia PaymentMethod = "TRANSFERENCIA"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodEfectivo,
	PaymentMethodQR,
	PaymentMethodTransferencia,
}

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// RequiresProof reports whether the method is verified from an uploaded receipt.
func (p PaymentMethod) RequiresProof() bool {
	return p == PaymentMethodQR || p == PaymentMethodTransferencia
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	for _, candidate := range validPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}
