package payment

import (
	"context"
)

// Checkout is what the hosted gateway widget needs to collect a charge. The
// amount is in minor units (kobo), per the gateway's convention.
type Checkout struct {
	PublicKey   string
	Email       string
	AmountMinor int64
	Reference   string
}

// CallbackResult is the widget's single-shot callback. Completed false means
// the user dismissed the widget without paying.
type CallbackResult struct {
	Reference string
	Completed bool
}

// Gateway models the third-party payment widget. Open blocks until the user
// completes or abandons the gateway UI; the client imposes no timeout of its
// own, only ctx cancellation bounds the wait. A Gateway implementation holds
// no secrets - the public key is the only credential it ever sees.
type Gateway interface {
	Open(ctx context.Context, checkout Checkout) (CallbackResult, error)
}
