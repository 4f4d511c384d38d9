package domain

// RowComputer classifies every cell of one row. Implementations must be pure:
// the same row of the same problem always yields the same bits.
type RowComputer interface {
	ComputeRow(row int, p Problem) RowResult
}

// RowComputerFunc adapts a plain function to RowComputer.
type RowComputerFunc func(row int, p Problem) RowResult

func (f RowComputerFunc) ComputeRow(row int, p Problem) RowResult {
	return f(row, p)
}
