package stub

// SwiftVersionWire maps the model's internal small-integer swift_version
// to the integer written on the wire (spec.md §3: "the wire form maps
// '1.2' to 2 and otherwise shifts values >= 2 up by one"). Internally,
// 0 = none, 1 = Swift 1.0, 2 = the "1.2" ABI generation, 3 = Swift 2.0,
// 4 = Swift 3.0 and later ABI-stable releases. The "1.2" slot is a special
// case inserted between 1.0 and 2.0; every other generation at or past it
// is pushed one slot further out on the wire to make room.
func SwiftVersionWire(internal int) int {
	if internal < 2 {
		return internal
	}
	if internal == 2 {
		return 2
	}
	return internal + 1
}

// SwiftVersionFromWire is the inverse of SwiftVersionWire, used when
// reading a stub file back into a model (needed for the P1/P5 round-trip
// properties).
func SwiftVersionFromWire(wire int) int {
	if wire < 2 {
		return wire
	}
	if wire == 2 {
		return 2
	}
	return wire - 1
}
