package codec

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-stiefel/internal/linalg"
)

// Schema is the layout of a matrix batch: one row per matrix.
var Schema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "field", Type: arrow.BinaryTypes.String},
		{Name: "rows", Type: arrow.PrimitiveTypes.Int32},
		{Name: "cols", Type: arrow.PrimitiveTypes.Int32},
		{Name: "data", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64)},
	},
	nil,
)

// RecordBatchBuilder creates Arrow RecordBatches from matrices.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &RecordBatchBuilder{mem: mem}
}

// BuildRecordBatch converts matrices into a RecordBatch with Schema. An
// empty input yields a nil batch. The caller releases the result.
func (b *RecordBatchBuilder) BuildRecordBatch(ms []*linalg.Matrix) (arrow.RecordBatch, error) {
	if len(ms) == 0 {
		return nil, nil
	}

	fb := array.NewStringBuilder(b.mem)
	defer fb.Release()
	rb := array.NewInt32Builder(b.mem)
	defer rb.Release()
	cb := array.NewInt32Builder(b.mem)
	defer cb.Release()
	lb := array.NewListBuilder(b.mem, arrow.PrimitiveTypes.Float64)
	defer lb.Release()
	vb := lb.ValueBuilder().(*array.Float64Builder)

	for _, m := range ms {
		r, c := m.Dims()
		fb.Append(m.Field().String())
		rb.Append(int32(r))
		cb.Append(int32(c))
		lb.Append(true)
		vb.AppendValues(m.Raw(), nil)
	}

	cols := []arrow.Array{fb.NewArray(), rb.NewArray(), cb.NewArray(), lb.NewArray()}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	return array.NewRecordBatch(Schema, cols, int64(len(ms))), nil
}

// ReadRecordBatch decodes every row of rec. Columns are located by name.
func ReadRecordBatch(rec arrow.RecordBatch) ([]*linalg.Matrix, error) {
	column := func(name string) (arrow.Array, error) {
		idx := rec.Schema().FieldIndices(name)
		if len(idx) == 0 {
			return nil, fmt.Errorf("%w: missing column %q", ErrMalformed, name)
		}
		return rec.Column(idx[0]), nil
	}

	fc, err := column("field")
	if err != nil {
		return nil, err
	}
	rc, err := column("rows")
	if err != nil {
		return nil, err
	}
	cc, err := column("cols")
	if err != nil {
		return nil, err
	}
	dc, err := column("data")
	if err != nil {
		return nil, err
	}

	fields, ok1 := fc.(*array.String)
	rows, ok2 := rc.(*array.Int32)
	cols, ok3 := cc.(*array.Int32)
	data, ok4 := dc.(*array.List)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, fmt.Errorf("%w: unexpected column types in %s", ErrMalformed, rec.Schema())
	}
	values, ok := data.ListValues().(*array.Float64)
	if !ok {
		return nil, fmt.Errorf("%w: data must be list<float64>", ErrMalformed)
	}

	out := make([]*linalg.Matrix, 0, rec.NumRows())
	for i := 0; i < int(rec.NumRows()); i++ {
		if fields.IsNull(i) || rows.IsNull(i) || cols.IsNull(i) || data.IsNull(i) {
			return nil, fmt.Errorf("%w: null in row %d", ErrMalformed, i)
		}
		start, end := data.ValueOffsets(i)
		w := MatrixWire{
			Field: fields.Value(i),
			Rows:  int(rows.Value(i)),
			Cols:  int(cols.Value(i)),
			Data:  values.Float64Values()[start:end],
		}
		m, err := w.Matrix()
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// WriteStream writes ms as a single-batch Arrow IPC stream. An empty input
// writes a stream holding only the schema.
func (b *RecordBatchBuilder) WriteStream(w io.Writer, ms []*linalg.Matrix) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(Schema), ipc.WithAllocator(b.mem))
	rec, err := b.BuildRecordBatch(ms)
	if err != nil {
		_ = writer.Close()
		return err
	}
	if rec != nil {
		defer rec.Release()
		if err := writer.Write(rec); err != nil {
			_ = writer.Close()
			return err
		}
	}
	return writer.Close()
}

// ReadStream decodes every batch of an Arrow IPC stream.
func (b *RecordBatchBuilder) ReadStream(r io.Reader) ([]*linalg.Matrix, error) {
	reader, err := ipc.NewReader(r, ipc.WithAllocator(b.mem))
	if err != nil {
		return nil, err
	}
	defer reader.Release()

	var out []*linalg.Matrix
	for reader.Next() {
		ms, err := ReadRecordBatch(reader.Record())
		if err != nil {
			return nil, err
		}
		out = append(out, ms...)
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		return nil, err
	}
	return out, nil
}
