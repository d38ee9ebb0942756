package internal

// QueryType defines the read-only lookups of the replicated state machine.
type QueryType uint8

const (
	QueryTRetrieve  QueryType = iota // Read the value of a key.
	QueryTExists                     // Check whether a key exists.
	QueryTListRange                  // Ranged listing of keys.
	QueryTInfo                       // Metadata about the device behind the state machine.
)

func (q QueryType) String() string {
	switch q {
	case QueryTRetrieve:
		return "Retrieve"
	case QueryTExists:
		return "Exists"
	case QueryTListRange:
		return "ListRange"
	case QueryTInfo:
		return "Info"
	default:
		return "Unknown"
	}
}

// Query is passed to SyncRead / StaleRead. Queries are executed locally and never serialized.
type Query struct {
	Type       QueryType
	Key        string // Retrieve, Exists; prefix for ListRange
	StartAfter string // ListRange
	Max        int    // ListRange: max keys; Retrieve: caller buffer size
}

// RetrieveResult is the result of a QueryTRetrieve lookup.
// Value holds at most Max bytes; ActualLen is the full value length.
type RetrieveResult struct {
	Value     []byte
	ActualLen int
}

// ListResult is the result of a QueryTListRange lookup.
type ListResult struct {
	Keys []string
	More bool
}
