package domain

// QueryColumn describes one column of a passthrough query result.
type QueryColumn struct {
	Name     string
	DataType string
}

// QueryResult is the outcome of a SQL statement executed directly against
// a managed postgres instance. Statements that return rows populate
// Columns, Rows and RowCount; statements that do not set RowsAffected
// instead. Truncated reports that the row limit cut the result short.
type QueryResult struct {
	Columns      []QueryColumn
	Rows         [][]any
	RowCount     int64
	RowsAffected *int64
	ExecutionMS  float64
	Truncated    bool
}
