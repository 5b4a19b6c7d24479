// Package recordsink implements spec §6's record sink external interface:
// a fire-and-forget destination for eth_call/eth_estimateGas revert
// samples (spec §4.1's SaveRevertsPolicy).
package recordsink

import "time"

// Sink is spec §6's record sink: fire-and-forget; callers never block on
// it and never observe an error.
type Sink interface {
	RecordRevert(userKeyID, method, to, callData string, at time.Time)
}
