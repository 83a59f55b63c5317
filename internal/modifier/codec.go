package modifier

// NoModifierByte is the reserved wire value for the sentinel level.
const NoModifierByte byte = 0

// Codec compresses a category's effective level into one byte for
// replication. Level i of the ladder encodes to byte(i+1), so appending new
// levels stays backward compatible and byte 0 always means "no modifier".
type Codec struct {
	byLevel map[Level]byte
	byByte  []Level
}

func NewCodec(levels []Level) *Codec {
	c := &Codec{
		byLevel: make(map[Level]byte, len(levels)),
		byByte:  make([]Level, len(levels)+1),
	}
	c.byByte[0] = NoModifier
	for i, level := range levels {
		c.byLevel[level] = byte(i + 1)
		c.byByte[i+1] = level
	}
	return c
}

// Encode maps a level onto its wire byte. Levels outside the category set
// encode to the sentinel byte rather than failing; the stack already rejects
// them before they can become effective.
func (c *Codec) Encode(level Level) byte {
	if !level.IsActive() {
		return NoModifierByte
	}
	value, ok := c.byLevel[level]
	if !ok {
		return NoModifierByte
	}
	return value
}

// Decode maps a wire byte back onto a level. Malformed values decode to the
// sentinel so a corrupt frame degrades to "no modifier" instead of
// desynchronizing the receiver.
func (c *Codec) Decode(value byte) Level {
	if int(value) >= len(c.byByte) {
		return NoModifier
	}
	return c.byByte[value]
}

// Width reports the number of encodable values including the sentinel.
func (c *Codec) Width() int {
	return len(c.byByte)
}
