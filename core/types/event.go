package types

// Event is a typed record of a ledger state transition. Attributes carry the
// string-encoded payload consumed by subscribers and indexers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
