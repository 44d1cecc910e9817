package xlread

import (
	"io"
	"iter"
)

// Iterator streams the rows of a sheet once, in order. A new pass needs a
// new Iterator.
type Iterator[T any] struct {
	wb     *Workbook
	cr     cellReader
	frame  Dimensions
	height int
	cell   func(rawCell) T

	pending  *rawCell
	row      []T
	position int
	done     bool
	err      error
}

// RowIterator yields rows of values.
type RowIterator = Iterator[Value]

// FormulaIterator yields rows of formula text.
type FormulaIterator = Iterator[string]

func valueOf(c rawCell) Value    { return c.value }
func formulaOf(c rawCell) string { return c.formula }

func newIterator[T any](wb *Workbook, index int, reg region, withFormulas bool, o rowOptions, cell func(rawCell) T) (*Iterator[T], error) {
	it := &Iterator[T]{wb: wb, cell: cell}
	frame, ok := reg.frame(o.skipEmptyArea)
	if !ok {
		it.done = true
		return it, nil
	}
	it.frame = frame
	it.height = frame.Height()
	if o.nrows >= 0 && o.nrows < it.height {
		it.height = o.nrows
	}
	cr, err := wb.dec.cells(index, withFormulas || wb.opts.ReadFormulas)
	if err != nil {
		return nil, err
	}
	if reg.unordered {
		wb.logger.Debug("rows out of order, buffering sheet", "sheet", wb.meta[index].Name)
		if cr, err = bufferSorted(cr); err != nil {
			return nil, err
		}
	}
	it.cr = cr
	return it, nil
}

// bufferSorted drains cr and replays its cells in row-major order.
func bufferSorted(cr cellReader) (cellReader, error) {
	defer cr.close()
	var cells []rawCell
	for {
		c, err := cr.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	sortCells(cells)
	return &sliceCellReader{cells: cells}, nil
}

// Start is the top-left cell of the rows being produced.
func (it *Iterator[T]) Start() Position { return it.frame.Start }

// Width is the length of every row.
func (it *Iterator[T]) Width() int {
	if it.height == 0 {
		return 0
	}
	return it.frame.Width()
}

// Height is the number of rows the iterator produces in total.
func (it *Iterator[T]) Height() int { return it.height }

// Position is the number of rows produced so far.
func (it *Iterator[T]) Position() int { return it.position }

// Row returns the row produced by the last call to Next.
func (it *Iterator[T]) Row() []T { return it.row }

// Err returns the error that stopped the iteration, if any.
func (it *Iterator[T]) Err() error { return it.err }

// Next advances to the next row. It returns false at the end of the sheet
// or on error, and keeps returning false afterwards.
func (it *Iterator[T]) Next() bool {
	if it.done {
		return false
	}
	if err := it.wb.checkOpen(); err != nil {
		it.fail(err)
		return false
	}
	if it.position >= it.height {
		it.finish()
		return false
	}

	r := it.frame.Start.Row + it.position
	row := make([]T, it.frame.Width())
	for {
		c, err := it.peek()
		if err == io.EOF {
			break
		}
		if err != nil {
			it.fail(err)
			return false
		}
		if c.pos.Row > r {
			break
		}
		it.pending = nil
		if c.pos.Row < r || c.pos.Col < it.frame.Start.Col || c.pos.Col > it.frame.End.Col {
			continue
		}
		row[c.pos.Col-it.frame.Start.Col] = it.cell(c)
	}
	it.row = row
	it.position++
	return true
}

func (it *Iterator[T]) peek() (rawCell, error) {
	if it.pending != nil {
		return *it.pending, nil
	}
	c, err := it.cr.next()
	if err != nil {
		return c, err
	}
	it.pending = &c
	return c, nil
}

func (it *Iterator[T]) fail(err error) {
	it.err = err
	it.finish()
}

func (it *Iterator[T]) finish() {
	it.done = true
	it.row = nil
	if it.cr != nil {
		it.cr.close()
		it.cr = nil
	}
}

// Close stops the iteration early and releases the underlying stream.
// The workbook is left untouched.
func (it *Iterator[T]) Close() error {
	it.finish()
	return nil
}

// All returns a range-over-func view of the remaining rows, keyed by their
// zero-based position. Check Err after the loop.
func (it *Iterator[T]) All() iter.Seq2[int, []T] {
	return func(yield func(int, []T) bool) {
		for it.Next() {
			if !yield(it.position-1, it.row) {
				it.finish()
				return
			}
		}
	}
}
