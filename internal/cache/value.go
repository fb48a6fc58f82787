package cache

import (
	"bytes"
	"sync/atomic"
)

// casSeq issues CAS tokens. A single process-wide sequence guarantees that a
// record freshly written over an existing key can never carry a token a
// client obtained from the old record.
var casSeq atomic.Uint64

// Unset is the sentinel for "no explicit expiry" and "never accessed".
const Unset float64 = -1

// Value is a single cache record: the payload plus the metadata the
// protocol exposes. The CAS token changes on every client-observable
// mutation of data, flags or exptime; refreshing the access time does not
// change it.
type Value struct {
	data    []byte
	flags   uint16
	exptime float64
	atime   float64
	casID   uint64
}

// NewValue creates a record owning data, with no expiry and no access time.
func NewValue(data []byte, flags uint16) *Value {
	v := &Value{
		data:    data,
		flags:   flags,
		exptime: Unset,
		atime:   Unset,
	}
	v.bump()

	return v
}

// Data returns the stored payload.
func (v *Value) Data() []byte {
	return v.data
}

// Flags returns the client-chosen opaque bit pattern.
func (v *Value) Flags() uint16 {
	return v.flags
}

// Exptime returns the absolute expiry in unixtime seconds, or Unset.
func (v *Value) Exptime() float64 {
	return v.exptime
}

// Atime returns the last access time in unixtime seconds, or Unset.
func (v *Value) Atime() float64 {
	return v.atime
}

// CasID returns the current CAS token.
func (v *Value) CasID() uint64 {
	return v.casID
}

// Len returns the payload length in bytes.
func (v *Value) Len() int {
	return len(v.data)
}

// SetData replaces the payload and bumps the CAS token.
func (v *Value) SetData(data []byte) {
	v.data = data
	v.bump()
}

// SetFlags replaces the flags and bumps the CAS token.
func (v *Value) SetFlags(flags uint16) {
	v.flags = flags
	v.bump()
}

// SetExptime replaces the absolute expiry and bumps the CAS token.
func (v *Value) SetExptime(exptime float64) {
	v.exptime = exptime
	v.bump()
}

// Touch refreshes the access time. Deliberately does not bump the CAS
// token: access recency is not client-observable state.
func (v *Value) Touch(now float64) {
	v.atime = now
}

// Equal compares payload and flags only; expiry, access time and CAS token
// are internal metadata.
func (v *Value) Equal(other *Value) bool {
	if other == nil {
		return false
	}

	return v.flags == other.flags && bytes.Equal(v.data, other.data)
}

func (v *Value) bump() {
	v.casID = casSeq.Add(1)
}
