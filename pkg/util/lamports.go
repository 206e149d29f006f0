package util

import "fmt"

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// FormatSOL renders a lamport amount as a fixed-point SOL string without
// going through floating point.
func FormatSOL(lamports uint64) string {
	return fmt.Sprintf("%d.%09d", lamports/LamportsPerSOL, lamports%LamportsPerSOL)
}
