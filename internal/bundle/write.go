package bundle

import (
	"bytes"
	"encoding/binary"
	"io"
)

// WriteHeader serializes a Header in its fixed on-disk order and endianness.
// Callers fill in TotalSize/CompressedInfoSize/UncompressedInfSize only
// after the rest of the bundle is known and rewrite the header last.
func WriteHeader(w io.Writer, h *Header) error {
	if _, err := io.WriteString(w, Signature); err != nil {
		return err
	}
	if err := writeU32(w, h.FormatVersion); err != nil {
		return err
	}
	if err := writeCString(w, h.UnityVersion); err != nil {
		return err
	}
	if err := writeCString(w, h.GeneratorVersion); err != nil {
		return err
	}
	if err := writeU64(w, uint64(h.TotalSize)); err != nil {
		return err
	}
	if err := writeU32(w, h.CompressedInfoSize); err != nil {
		return err
	}
	if err := writeU32(w, h.UncompressedInfSize); err != nil {
		return err
	}
	return writeU32(w, h.DataFlags)
}

// EncodeBlockInfo serializes the uncompressed block-info section: content
// hash, block list, entry directory (spec §3).
func EncodeBlockInfo(info *BlockInfo) ([]byte, error) {
	var buf bytes.Buffer

	if _, err := buf.Write(info.ContentHash[:]); err != nil {
		return nil, err
	}

	if err := writeU32(&buf, uint32(len(info.Blocks))); err != nil { //nolint:gosec // bundle block counts never approach 2^32.
		return nil, err
	}
	for _, b := range info.Blocks {
		if err := writeU32(&buf, b.UncompressedSize); err != nil {
			return nil, err
		}
		if err := writeU32(&buf, b.CompressedSize); err != nil {
			return nil, err
		}
		if err := writeU16(&buf, b.Flags); err != nil {
			return nil, err
		}
	}

	if err := writeU32(&buf, uint32(len(info.Entries))); err != nil { //nolint:gosec // bundle entry counts never approach 2^32.
		return nil, err
	}
	for _, e := range info.Entries {
		if err := writeU64(&buf, uint64(e.Offset)); err != nil {
			return nil, err
		}
		if err := writeU64(&buf, uint64(e.Size)); err != nil {
			return nil, err
		}
		if err := writeU32(&buf, e.Flags); err != nil {
			return nil, err
		}
		if err := writeCString(&buf, e.Path); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func writeU16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeU32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeU64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeCString(w io.Writer, s string) error {
	if _, err := io.WriteString(w, s); err != nil {
		return err
	}
	_, err := w.Write([]byte{0})
	return err
}
