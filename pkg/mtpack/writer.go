package mtpack

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Writer builds a pack file. Entries are written as they are added; the
// table is written by Close.
type Writer struct {
	file    *os.File
	offset  uint64
	entries []Entry
}

// Create creates a pack at path, replacing any existing file.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating pack: %w", err)
	}

	// Header placeholder, rewritten on Close.
	if _, err := file.Write(make([]byte, HeaderSize)); err != nil {
		file.Close()
		return nil, err
	}

	return &Writer{file: file, offset: HeaderSize}, nil
}

// AddCompressed stores data zlib compressed.
func (w *Writer) AddCompressed(name string, data []byte) error {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	entry := Entry{
		Name:       name,
		Compressed: true,
		Offset:     w.offset,
		Size:       uint64(len(data)),
		StoredSize: uint64(buf.Len()),
	}
	if err := w.write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	w.entries = append(w.entries, entry)
	return nil
}

// AddRaw stores data uncompressed at an offset aligned to RawAlignment.
func (w *Writer) AddRaw(name string, data []byte) error {
	if pad := (RawAlignment - w.offset%RawAlignment) % RawAlignment; pad > 0 {
		if err := w.write(make([]byte, pad)); err != nil {
			return err
		}
	}

	entry := Entry{
		Name:       name,
		Offset:     w.offset,
		Size:       uint64(len(data)),
		StoredSize: uint64(len(data)),
	}
	if err := w.write(data); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	w.entries = append(w.entries, entry)
	return nil
}

func (w *Writer) write(data []byte) error {
	n, err := w.file.Write(data)
	w.offset += uint64(n)
	return err
}

// Close writes the table and header and closes the file.
func (w *Writer) Close() error {
	defer w.file.Close()

	var table bytes.Buffer
	for _, e := range w.entries {
		binary.Write(&table, binary.LittleEndian, uint16(len(e.Name)))
		table.WriteString(e.Name)
		var flags uint8
		if e.Compressed {
			flags |= flagCompressed
		}
		table.WriteByte(flags)
		binary.Write(&table, binary.LittleEndian, e.Offset)
		binary.Write(&table, binary.LittleEndian, e.Size)
		binary.Write(&table, binary.LittleEndian, e.StoredSize)
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(table.Bytes()); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	tableOffset := w.offset
	sizes := make([]byte, 8)
	binary.LittleEndian.PutUint32(sizes, uint32(compressed.Len()))
	binary.LittleEndian.PutUint32(sizes[4:], uint32(table.Len()))
	if err := w.write(sizes); err != nil {
		return err
	}
	if err := w.write(compressed.Bytes()); err != nil {
		return err
	}

	header := Header{
		Version:     packVersion,
		TableOffset: tableOffset,
		EntryCount:  uint32(len(w.entries)),
	}
	copy(header.Magic[:], packMagic)

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := binary.Write(w.file, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	return nil
}
