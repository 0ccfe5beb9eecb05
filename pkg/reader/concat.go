package reader

type concatReader[T any] struct {
	suppliers []Supplier[T]
	current   RecordReader[T]
}

// Concat reads the suppliers one after another. A supplier is invoked only
// when the previous reader is exhausted and closed.
func Concat[T any](suppliers ...Supplier[T]) RecordReader[T] {
	return &concatReader[T]{suppliers: suppliers}
}

func (r *concatReader[T]) ReadBatch() (RecordIterator[T], error) {
	for {
		if r.current == nil {
			if len(r.suppliers) == 0 {
				return nil, nil
			}
			next, err := r.suppliers[0]()
			r.suppliers = r.suppliers[1:]
			if err != nil {
				return nil, err
			}
			r.current = next
		}
		it, err := r.current.ReadBatch()
		if err != nil {
			return nil, err
		}
		if it != nil {
			return it, nil
		}
		err = r.current.Close()
		r.current = nil
		if err != nil {
			return nil, err
		}
	}
}

func (r *concatReader[T]) Close() error {
	r.suppliers = nil
	if r.current != nil {
		err := r.current.Close()
		r.current = nil
		return err
	}
	return nil
}
