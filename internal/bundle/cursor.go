package bundle

import (
	"encoding/binary"
	"fmt"

	"github.com/rretrogamerr/uaedb/internal/uaerr"
)

// cursor is a sequential big-endian reader over an in-memory byte slice,
// mirroring the field-by-field style of the teacher's dds.ReadHeader
// (io.Reader + one helper per primitive) but over a slice, since a bundle is
// read whole into memory before parsing (spec §5: no streaming requirement).
type cursor struct {
	data []byte
	pos  int64
}

func (c *cursor) need(n int64) error {
	if c.pos+n > int64(len(c.data)) {
		return fmt.Errorf("%w: truncated at offset %d, need %d more bytes", uaerr.ErrFormat, c.pos, n)
	}
	return nil
}

func (c *cursor) bytes(n int64) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *cursor) u16() (uint16, error) {
	b, err := c.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (c *cursor) u32() (uint32, error) {
	b, err := c.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (c *cursor) u64() (uint64, error) {
	b, err := c.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// cstring reads a NUL-terminated string.
func (c *cursor) cstring() (string, error) {
	start := c.pos
	for {
		if err := c.need(1); err != nil {
			return "", fmt.Errorf("%w: unterminated string starting at offset %d", uaerr.ErrFormat, start)
		}
		if c.data[c.pos] == 0 {
			s := string(c.data[start:c.pos])
			c.pos++
			return s, nil
		}
		c.pos++
	}
}
