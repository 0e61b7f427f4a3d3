// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package-level binary format reflection. Every on-disk struct in this
// module opts into serialization simply by being an ordinary Go struct:
// its exported fields, in declaration order, become its "binary format" --
// the compile-time member-pointer lists of the original design (see
// DESIGN.md) are not expressible in Go, so the field list is instead
// computed once per type via reflection and cached. The offsets produced
// this way are exactly the offsets a hand-written member-pointer list
// would have produced, and are used identically by typed addresses and
// typed handles.
package prequel

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"sync"
)

// BinaryEncoder lets a type override the default field-wise encoding (see
// extentT for an example that reserves a size field's high bit for a
// flag). A type implementing BinaryEncoder must also report a fixed
// BinarySize and implement BinaryDecoder.
type BinaryEncoder interface {
	EncodeBinary(buf []byte)
}

// BinaryDecoder is the decoding half of BinaryEncoder.
type BinaryDecoder interface {
	DecodeBinary(buf []byte)
}

// BinarySized reports the fixed, compile-time-constant serialized size of a
// custom-encoded type.
type BinarySized interface {
	BinarySize() int
}

type fieldInfo struct {
	index  int // reflect.StructField index
	offset int
	size   int
}

type typeInfo struct {
	size     int
	fields   []fieldInfo // empty if the type is a custom codec or a leaf scalar
	isCustom bool
	kind     reflect.Kind
}

var typeInfoCache sync.Map // reflect.Type -> *typeInfo

func lookupTypeInfo(t reflect.Type) *typeInfo {
	if v, ok := typeInfoCache.Load(t); ok {
		return v.(*typeInfo)
	}
	ti := computeTypeInfo(t)
	actual, _ := typeInfoCache.LoadOrStore(t, ti)
	return actual.(*typeInfo)
}

var (
	binaryEncoderType = reflect.TypeOf((*BinaryEncoder)(nil)).Elem()
	binarySizedType   = reflect.TypeOf((*BinarySized)(nil)).Elem()
)

func computeTypeInfo(t reflect.Type) *typeInfo {
	// Custom codec: either the type itself or its pointer implements
	// BinaryEncoder/BinarySized.
	if reflect.PointerTo(t).Implements(binaryEncoderType) && reflect.PointerTo(t).Implements(binarySizedType) {
		zero := reflect.New(t).Interface().(BinarySized)
		return &typeInfo{size: zero.BinarySize(), isCustom: true, kind: t.Kind()}
	}

	switch t.Kind() {
	case reflect.Bool:
		return &typeInfo{size: 1, kind: t.Kind()}
	case reflect.Uint8, reflect.Int8:
		return &typeInfo{size: 1, kind: t.Kind()}
	case reflect.Uint16, reflect.Int16:
		return &typeInfo{size: 2, kind: t.Kind()}
	case reflect.Uint32, reflect.Int32:
		return &typeInfo{size: 4, kind: t.Kind()}
	case reflect.Uint64, reflect.Int64, reflect.Int, reflect.Uint:
		return &typeInfo{size: 8, kind: t.Kind()}
	case reflect.Array:
		elem := lookupTypeInfo(t.Elem())
		return &typeInfo{size: elem.size * t.Len(), kind: t.Kind()}
	case reflect.Struct:
		var fields []fieldInfo
		off := 0
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if sf.PkgPath != "" { // unexported
				continue
			}
			fi := lookupTypeInfo(sf.Type)
			fields = append(fields, fieldInfo{index: i, offset: off, size: fi.size})
			off += fi.size
		}
		return &typeInfo{size: off, fields: fields, kind: t.Kind()}
	default:
		panic(fmt.Sprintf("prequel: type %s is not serializable", t))
	}
}

// SerializedSize returns the fixed, compile-time-constant serialized size
// of T, in bytes. Panics if T is not serializable.
func SerializedSize[T any]() int {
	var zero T
	return lookupTypeInfo(reflect.TypeOf(zero)).size
}

// Serialize encodes v into buf, which must be at least SerializedSize[T]()
// bytes long.
func Serialize[T any](v T, buf []byte) {
	rv := reflect.ValueOf(&v).Elem()
	encodeValue(rv, buf)
}

// Deserialize decodes buf into *out. Deserialization does not validate
// semantic invariants of T; callers must invoke higher-level checks.
func Deserialize[T any](buf []byte, out *T) {
	rv := reflect.ValueOf(out).Elem()
	decodeValue(rv, buf)
}

// FieldOffset returns the byte offset of the fieldIndex-th exported field
// (in declaration order, 0-based) of T within T's serialized
// representation. This is the Go equivalent of serialized_offset<&T::m>.
func FieldOffset[T any](fieldIndex int) int {
	var zero T
	ti := lookupTypeInfo(reflect.TypeOf(zero))
	for _, f := range ti.fields {
		if f.index == fieldIndex {
			return f.offset
		}
	}
	panic(fmt.Sprintf("prequel: field index %d is not an exported field of %T", fieldIndex, zero))
}

// fieldValue returns the fieldIndex-th exported field of parent (in
// declaration order, 0-based) as an M. Used by AnchorMember, which
// round-trips whole in-memory anchor values rather than byte offsets.
func fieldValue[T any, M any](parent T, fieldIndex int) M {
	rv := reflect.ValueOf(parent)
	ti := lookupTypeInfo(rv.Type())
	for _, f := range ti.fields {
		if f.index == fieldIndex {
			return rv.Field(f.index).Interface().(M)
		}
	}
	panic(fmt.Sprintf("prequel: field index %d is not an exported field of %T", fieldIndex, parent))
}

// setFieldValue sets the fieldIndex-th exported field of *parent to v.
func setFieldValue[T any, M any](parent *T, fieldIndex int, v M) {
	rv := reflect.ValueOf(parent).Elem()
	ti := lookupTypeInfo(rv.Type())
	for _, f := range ti.fields {
		if f.index == fieldIndex {
			rv.Field(f.index).Set(reflect.ValueOf(v))
			return
		}
	}
	panic(fmt.Sprintf("prequel: field index %d is not an exported field of %T", fieldIndex, *parent))
}

func encodeValue(rv reflect.Value, buf []byte) {
	t := rv.Type()
	if reflect.PointerTo(t).Implements(binaryEncoderType) {
		if rv.CanAddr() {
			rv.Addr().Interface().(BinaryEncoder).EncodeBinary(buf)
			return
		}
		cp := reflect.New(t)
		cp.Elem().Set(rv)
		cp.Interface().(BinaryEncoder).EncodeBinary(buf)
		return
	}

	switch t.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			buf[0] = 1
		} else {
			buf[0] = 0
		}
	case reflect.Uint8:
		buf[0] = byte(rv.Uint())
	case reflect.Int8:
		buf[0] = byte(rv.Int())
	case reflect.Uint16:
		binary.BigEndian.PutUint16(buf, uint16(rv.Uint()))
	case reflect.Int16:
		binary.BigEndian.PutUint16(buf, uint16(rv.Int()))
	case reflect.Uint32:
		binary.BigEndian.PutUint32(buf, uint32(rv.Uint()))
	case reflect.Int32:
		binary.BigEndian.PutUint32(buf, uint32(rv.Int()))
	case reflect.Uint64, reflect.Uint:
		binary.BigEndian.PutUint64(buf, rv.Uint())
	case reflect.Int64, reflect.Int:
		binary.BigEndian.PutUint64(buf, uint64(rv.Int()))
	case reflect.Array:
		elemSize := lookupTypeInfo(t.Elem()).size
		for i := 0; i < rv.Len(); i++ {
			encodeValue(rv.Index(i), buf[i*elemSize:])
		}
	case reflect.Struct:
		ti := lookupTypeInfo(t)
		for _, f := range ti.fields {
			encodeValue(rv.Field(f.index), buf[f.offset:f.offset+f.size])
		}
	default:
		panic(fmt.Sprintf("prequel: type %s is not serializable", t))
	}
}

func decodeValue(rv reflect.Value, buf []byte) {
	t := rv.Type()
	if reflect.PointerTo(t).Implements(binaryEncoderType) {
		var dec BinaryDecoder
		if rv.CanAddr() {
			dec = rv.Addr().Interface().(BinaryDecoder)
		} else {
			cp := reflect.New(t)
			dec = cp.Interface().(BinaryDecoder)
			dec.DecodeBinary(buf)
			rv.Set(cp.Elem())
			return
		}
		dec.DecodeBinary(buf)
		return
	}

	switch t.Kind() {
	case reflect.Bool:
		rv.SetBool(buf[0] != 0)
	case reflect.Uint8:
		rv.SetUint(uint64(buf[0]))
	case reflect.Int8:
		rv.SetInt(int64(int8(buf[0])))
	case reflect.Uint16:
		rv.SetUint(uint64(binary.BigEndian.Uint16(buf)))
	case reflect.Int16:
		rv.SetInt(int64(int16(binary.BigEndian.Uint16(buf))))
	case reflect.Uint32:
		rv.SetUint(uint64(binary.BigEndian.Uint32(buf)))
	case reflect.Int32:
		rv.SetInt(int64(int32(binary.BigEndian.Uint32(buf))))
	case reflect.Uint64, reflect.Uint:
		rv.SetUint(binary.BigEndian.Uint64(buf))
	case reflect.Int64, reflect.Int:
		rv.SetInt(int64(binary.BigEndian.Uint64(buf)))
	case reflect.Array:
		elemSize := lookupTypeInfo(t.Elem()).size
		for i := 0; i < rv.Len(); i++ {
			decodeValue(rv.Index(i), buf[i*elemSize:])
		}
	case reflect.Struct:
		ti := lookupTypeInfo(t)
		for _, f := range ti.fields {
			decodeValue(rv.Field(f.index), buf[f.offset:f.offset+f.size])
		}
	default:
		panic(fmt.Sprintf("prequel: type %s is not serializable", t))
	}
}
