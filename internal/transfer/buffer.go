package transfer

import "errors"

// ErrDetached is returned by any access to a Buffer handle whose storage has
// been transferred away.
var ErrDetached = errors.New("buffer detached")

// Buffer is an owned handle to a float32 slice. Sending a buffer across the
// pipe moves the storage into a fresh handle and detaches the sender's one,
// so at most one live handle references the storage at any time.
type Buffer struct {
	data     []float32
	detached bool
}

// NewBuffer allocates a zeroed buffer of n floats.
func NewBuffer(n int) *Buffer {
	return &Buffer{data: make([]float32, n)}
}

// Wrap takes ownership of data. The caller must not keep other references.
func Wrap(data []float32) *Buffer {
	return &Buffer{data: data}
}

// Len returns the number of floats, or 0 once detached.
func (b *Buffer) Len() int {
	if b == nil || b.detached {
		return 0
	}
	return len(b.data)
}

func (b *Buffer) Detached() bool { return b != nil && b.detached }

// Data exposes the storage for reading and writing while b is the owner.
func (b *Buffer) Data() ([]float32, error) {
	if b == nil {
		return nil, nil
	}
	if b.detached {
		return nil, ErrDetached
	}
	return b.data, nil
}

// At reads element i.
func (b *Buffer) At(i int) (float32, error) {
	data, err := b.Data()
	if err != nil {
		return 0, err
	}
	return data[i], nil
}

// Transfer moves the storage into a new handle and detaches b. A nil buffer
// transfers to nil.
func (b *Buffer) Transfer() (*Buffer, error) {
	if b == nil {
		return nil, nil
	}
	if b.detached {
		return nil, ErrDetached
	}
	moved := &Buffer{data: b.data}
	b.data = nil
	b.detached = true
	return moved, nil
}

// take detaches b and hands the raw storage to the receiver.
func (b *Buffer) take() ([]float32, error) {
	if b == nil {
		return nil, nil
	}
	if b.detached {
		return nil, ErrDetached
	}
	data := b.data
	b.data = nil
	b.detached = true
	return data, nil
}
