package ina226

// Pure word/field transforms. Nothing here touches the bus.

// mask returns the in-place bit mask covering f.
func (f Field) mask() uint16 {
	return ((1 << f.Width) - 1) << f.Offset
}

// extract pulls f out of a raw register word. When the field is declared
// signed and its top bit is set, the value is sign-extended, so a 3-bit 100b
// decodes as -4 signed and 4 unsigned.
func extract(raw uint16, f Field) int32 {
	v := (raw >> f.Offset) & ((1 << f.Width) - 1)
	if f.Signed && v&(1<<(f.Width-1)) != 0 {
		return int32(v) - (1 << f.Width)
	}
	return int32(v)
}

// insert returns raw with the span of f replaced by v. All bits outside the
// span are preserved.
func insert(raw uint16, f Field, v uint16) uint16 {
	m := f.mask()
	return (raw &^ m) | ((v << f.Offset) & m)
}

// fits reports whether v can be represented in f's declared width.
func fits(f Field, v uint16) bool {
	return v>>f.Width == 0
}
