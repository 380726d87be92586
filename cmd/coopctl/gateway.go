package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/forte001/gracecoop-go/payment"
)

var stdin = bufio.NewReader(os.Stdin)

func prompt(label string) string {
	fmt.Print(label)
	line, _ := stdin.ReadString('\n')
	return strings.TrimSpace(line)
}

// terminalGateway stands in for the gateway checkout widget: it prints the
// checkout details, has the operator complete the charge out of band, and
// reports back whether the charge went through.
type terminalGateway struct{}

var _ payment.Gateway = (*terminalGateway)(nil)

func (g *terminalGateway) Open(ctx context.Context, checkout payment.Checkout) (payment.CallbackResult, error) {
	amount := decimal.NewFromInt(checkout.AmountMinor).Div(decimal.NewFromInt(100))
	fmt.Printf("gateway checkout\n  reference: %s\n  amount:    %s\n  email:     %s\n  key:       %s\n",
		checkout.Reference, amount.StringFixed(2), checkout.Email, checkout.PublicKey)

	answer := prompt("press enter once the charge is complete, or type cancel: ")
	if err := ctx.Err(); err != nil {
		return payment.CallbackResult{}, err
	}
	if strings.EqualFold(answer, "cancel") {
		return payment.CallbackResult{Reference: checkout.Reference, Completed: false}, nil
	}
	return payment.CallbackResult{Reference: checkout.Reference, Completed: true}, nil
}
