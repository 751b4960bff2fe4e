package internal

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTGet       QueryType = iota // Retrieve an entry by key.
	QueryTScan                       // Retrieve all entries with a key prefix.
	QueryTGetDBInfo                  // Retrieve metadata about the database underlying the machine.
)

func (q QueryType) String() string {
	switch q {
	case QueryTGet:
		return "Get"
	case QueryTScan:
		return "Scan"
	case QueryTGetDBInfo:
		return "GetDBInfo"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or ReadStale
type Query struct {
	Type QueryType // The type of Query to perform.
	Key  string    // The key or prefix for the Query (emtpy for some queries).
}

// QueryResult is the result of a QueryTGet operation.
// All other query results are predefined types ([]db.Entry, db.DatabaseInfo).
type QueryResult struct {
	Ok      bool
	Value   []byte
	Version uint64
}
