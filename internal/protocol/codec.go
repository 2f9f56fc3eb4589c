// Package protocol decodes the msgpack command stream sent by a scene
// producer and encodes the JSON replies sent back to it.
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/ugorji/go/codec"
)

// Typed arrays travel as msgpack extensions holding little-endian element
// data, one extension type per element type.
type (
	Int8Array    []int8
	Uint8Array   []uint8
	Int16Array   []int16
	Uint16Array  []uint16
	Int32Array   []int32
	Uint32Array  []uint32
	Float32Array []float32
	Float64Array []float64
)

// Extension type codes for typed arrays.
const (
	ExtInt8Array    = 0x11
	ExtUint8Array   = 0x12
	ExtInt16Array   = 0x13
	ExtUint16Array  = 0x14
	ExtInt32Array   = 0x15
	ExtUint32Array  = 0x16
	ExtFloat32Array = 0x17
	ExtFloat64Array = 0x18
)

type element interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~float32 | ~float64
}

// typedArrayExt converts between a typed array and its extension payload.
type typedArrayExt[S ~[]E, E element] struct{}

func (typedArrayExt[S, E]) WriteExt(v any) []byte {
	var s S
	switch x := v.(type) {
	case S:
		s = x
	case *S:
		s = *x
	default:
		panic(fmt.Sprintf("protocol: unexpected %T for typed array extension", v))
	}
	var buf bytes.Buffer
	buf.Grow(len(s) * binary.Size(E(0)))
	// writes to a bytes.Buffer cannot fail
	_ = binary.Write(&buf, binary.LittleEndian, []E(s))
	return buf.Bytes()
}

func (typedArrayExt[S, E]) ReadExt(dst any, src []byte) {
	size := binary.Size(E(0))
	out := make([]E, len(src)/size)
	_ = binary.Read(bytes.NewReader(src[:len(out)*size]), binary.LittleEndian, out)
	*dst.(*S) = S(out)
}

func register[S ~[]E, E element](h *codec.MsgpackHandle, tag uint64) {
	var zero S
	if err := h.SetBytesExt(reflect.TypeOf(zero), tag, typedArrayExt[S, E]{}); err != nil {
		panic(fmt.Sprintf("protocol: registering extension %#x: %v", tag, err))
	}
}

func newHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.MapType = reflect.TypeOf(map[string]any(nil))
	h.RawToString = true
	h.WriteExt = true
	register[Int8Array](h, ExtInt8Array)
	register[Uint8Array](h, ExtUint8Array)
	register[Int16Array](h, ExtInt16Array)
	register[Uint16Array](h, ExtUint16Array)
	register[Int32Array](h, ExtInt32Array)
	register[Uint32Array](h, ExtUint32Array)
	register[Float32Array](h, ExtFloat32Array)
	register[Float64Array](h, ExtFloat64Array)
	return h
}

var handle = newHandle()

// Unmarshal decodes one msgpack message into a generic map.
func Unmarshal(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := codec.NewDecoderBytes(data, handle).Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// Marshal encodes v as msgpack, writing typed arrays as extensions.
func Marshal(v any) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, handle).Encode(v); err != nil {
		return nil, err
	}
	return out, nil
}
