package session

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	headerFormat byte = 1
	headerSize        = 1 + 1 + 4 + 8 + 8

	itemsFormat byte = 1
)

// header is the fixed-layout lock and lifecycle record:
//
//	format u8 | flag u8 | timeoutMinutes i32 | lockToken u64 | lockTime i64 (unix nanoseconds)
//
// All integers are big-endian. A zero lockTime means unlocked.
type header struct {
	flag           Flag
	timeoutMinutes int32
	lockToken      uint64
	lockTime       int64
}

func headerOf(r *Record) header {
	h := header{
		flag:           r.Flag,
		timeoutMinutes: toMinutes(r.Timeout),
		lockToken:      r.LockToken,
	}
	if r.LockToken != 0 && !r.LockTime.IsZero() {
		h.lockTime = r.LockTime.UnixNano()
	}
	return h
}

func (h header) apply(r *Record) {
	r.Flag = h.flag
	r.Timeout = time.Duration(h.timeoutMinutes) * time.Minute
	r.LockToken = h.lockToken
	r.LockTime = time.Time{}
	if h.lockTime != 0 {
		r.LockTime = time.Unix(0, h.lockTime)
	}
}

func encodeHeader(h header) []byte {
	b := make([]byte, 0, headerSize)
	b = append(b, headerFormat, byte(h.flag))
	b = binary.BigEndian.AppendUint32(b, uint32(h.timeoutMinutes))
	b = binary.BigEndian.AppendUint64(b, h.lockToken)
	b = binary.BigEndian.AppendUint64(b, uint64(h.lockTime))
	return b
}

func decodeHeader(b []byte) (header, error) {
	if len(b) != headerSize {
		return header{}, fmt.Errorf("%w: %d bytes", ErrInvalidHeader, len(b))
	}
	if b[0] != headerFormat {
		return header{}, fmt.Errorf("%w: format %d", ErrInvalidHeader, b[0])
	}
	h := header{
		flag:           Flag(b[1]),
		timeoutMinutes: int32(binary.BigEndian.Uint32(b[2:6])),
		lockToken:      binary.BigEndian.Uint64(b[6:14]),
		lockTime:       int64(binary.BigEndian.Uint64(b[14:22])),
	}
	if h.flag > FlagUninitialized {
		return header{}, fmt.Errorf("%w: flag %d", ErrInvalidHeader, h.flag)
	}
	return h, nil
}

// toMinutes rounds up so a positive timeout never becomes "no expiry".
func toMinutes(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	m := (d + time.Minute - 1) / time.Minute
	if m > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(m)
}

// ItemsCodec turns a session variable collection into the body payload and back.
type ItemsCodec interface {
	Encode(items *Items) ([]byte, error)
	Decode(data []byte) (*Items, error)
}

// BinaryCodec is the default ItemsCodec:
//
//	format u8 | count uvarint | (nameLen uvarint | name | valueLen uvarint | value)*
type BinaryCodec struct{}

// Encode implements ItemsCodec.
func (BinaryCodec) Encode(items *Items) ([]byte, error) {
	b := []byte{itemsFormat}
	b = binary.AppendUvarint(b, uint64(items.Len()))
	if items == nil {
		return b, nil
	}
	for _, name := range items.names {
		value := items.values[name]
		b = binary.AppendUvarint(b, uint64(len(name)))
		b = append(b, name...)
		b = binary.AppendUvarint(b, uint64(len(value)))
		b = append(b, value...)
	}
	return b, nil
}

// Decode implements ItemsCodec.
func (BinaryCodec) Decode(data []byte) (*Items, error) {
	if len(data) == 0 || data[0] != itemsFormat {
		return nil, fmt.Errorf("%w: unknown format", ErrInvalidItems)
	}
	r := reader{buf: data[1:]}

	count, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	items := NewItems()
	for range count {
		name, err := r.chunk()
		if err != nil {
			return nil, err
		}
		value, err := r.chunk()
		if err != nil {
			return nil, err
		}
		items.Set(string(name), value)
	}
	if len(r.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidItems, len(r.buf))
	}
	return items, nil
}

type reader struct {
	buf []byte
}

func (r *reader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		return 0, fmt.Errorf("%w: bad length", ErrInvalidItems)
	}
	r.buf = r.buf[n:]
	return v, nil
}

func (r *reader) chunk() ([]byte, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(r.buf)) {
		return nil, fmt.Errorf("%w: truncated", ErrInvalidItems)
	}
	out := make([]byte, n)
	copy(out, r.buf[:n])
	r.buf = r.buf[n:]
	return out, nil
}
