// Package payment confirms payments with an external processor.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrUnsupportedMethod is reported as a declined payment, not as a call failure.
var ErrUnsupportedMethod = errors.New("unsupported payment method")

// Result is the processor's verdict for one confirmation.
type Result struct {
	Paid      bool   `json:"paid"`
	Reference string `json:"reference,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Processor confirms a payment of amount with method. A declined payment is
// a Result with Paid false; an error means the processor could not decide.
type Processor interface {
	Confirm(ctx context.Context, method string, amount decimal.Decimal) (Result, error)
}

// Simulated approves known methods and declines everything else. It stands
// in for a real processor in development.
type Simulated struct {
	Methods []string
}

// NewSimulated creates a Simulated processor accepting methods.
func NewSimulated(methods ...string) *Simulated {
	return &Simulated{Methods: methods}
}

func (s *Simulated) Confirm(ctx context.Context, method string, amount decimal.Decimal) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if amount.IsNegative() {
		return Result{}, fmt.Errorf("invalid amount %s", amount)
	}
	if !s.accepts(method) {
		return Result{Paid: false, Reason: fmt.Sprintf("%s: %q", ErrUnsupportedMethod, method)}, nil
	}
	return Result{Paid: true, Reference: "PAY-" + strings.ToUpper(uuid.NewString()[:13])}, nil
}

func (s *Simulated) accepts(method string) bool {
	for _, m := range s.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}
