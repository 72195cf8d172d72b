package buffer

// physicalIndex maps logical position i (0 = oldest, count-1 = newest) to the
// backing slot of a ring whose newest sample sits in slot head:
//
//	(head - count + 1 + i) mod capacity
//
// The result is always in [0, capacity), also while the ring is still filling.
func physicalIndex(head, count, capacity, i int) int {
	p := (head - count + 1 + i) % capacity
	if p < 0 {
		p += capacity
	}
	return p
}
