package backend

// Capabilities is a bitset of optional backend capabilities, mirroring the
// teacher's preference for small bitset types (c.f. the capability flags
// implied by rpcroute.Backend's minimal interface) over map[string]bool.
type Capabilities uint8

const (
	CapArchive Capabilities = 1 << iota
	CapTrace
	CapDebug
)

// Has reports whether all of want is present in c.
func (c Capabilities) Has(want Capabilities) bool {
	return c&want == want
}
