// README: Common money value object used across modules.
package types

import "fmt"

// Money is an amount in minor units (cents) of Currency.
type Money struct {
	Amount   int64
	Currency string
}

func (m Money) String() string {
	return fmt.Sprintf("%d.%02d %s", m.Amount/100, m.Amount%100, m.Currency)
}
