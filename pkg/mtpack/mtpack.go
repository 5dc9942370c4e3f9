// Package mtpack reads and writes MTPK asset packs.
//
// A pack holds level definitions (zlib compressed) next to raw tile pages.
// Raw entries are stored uncompressed and aligned so that tiles can be
// streamed straight from the file at a fixed offset.
package mtpack

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

const (
	packMagic   = "MTPK"
	packVersion = 1

	// HeaderSize is the size of the fixed pack header in bytes.
	HeaderSize = 32

	// RawAlignment is the file alignment of raw entries.
	RawAlignment = 2048

	flagCompressed = 0x01
)

// Pack format errors.
var (
	ErrInvalidMagic       = errors.New("invalid pack magic: expected 'MTPK'")
	ErrUnsupportedVersion = errors.New("unsupported pack version")
	ErrTruncated          = errors.New("truncated pack data")
	ErrNotFound           = errors.New("entry not found")
	ErrCompressed         = errors.New("entry is compressed and cannot be streamed")
)

// Header is the fixed pack header.
type Header struct {
	Magic       [4]byte
	Version     uint32
	TableOffset uint64
	EntryCount  uint32
	_           [12]byte
}

// Entry describes one file in the pack.
type Entry struct {
	Name       string
	Compressed bool
	Offset     uint64 // absolute file offset of the stored bytes
	Size       uint64 // uncompressed size
	StoredSize uint64
}

// Archive is an opened pack.
type Archive struct {
	file    *os.File
	header  Header
	entries map[string]*Entry
}

// Open opens a pack for reading.
func Open(path string) (*Archive, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}

	archive := &Archive{
		file:    file,
		entries: make(map[string]*Entry),
	}

	if err := archive.readHeader(); err != nil {
		file.Close()
		return nil, fmt.Errorf("reading header: %w", err)
	}

	if err := archive.readTable(); err != nil {
		file.Close()
		return nil, fmt.Errorf("reading table: %w", err)
	}

	return archive, nil
}

// Close closes the archive.
func (a *Archive) Close() error {
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}

func (a *Archive) readHeader() error {
	if err := binary.Read(io.NewSectionReader(a.file, 0, HeaderSize), binary.LittleEndian, &a.header); err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	if string(a.header.Magic[:]) != packMagic {
		return ErrInvalidMagic
	}

	if a.header.Version != packVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, a.header.Version)
	}

	return nil
}

func (a *Archive) readTable() error {
	var sizes [2]uint32
	sizeBuf := make([]byte, 8)
	if _, err := a.file.ReadAt(sizeBuf, int64(a.header.TableOffset)); err != nil {
		return fmt.Errorf("%w: table sizes: %v", ErrTruncated, err)
	}
	sizes[0] = binary.LittleEndian.Uint32(sizeBuf)
	sizes[1] = binary.LittleEndian.Uint32(sizeBuf[4:])

	compressed := make([]byte, sizes[0])
	if _, err := a.file.ReadAt(compressed, int64(a.header.TableOffset)+8); err != nil {
		return fmt.Errorf("%w: table data: %v", ErrTruncated, err)
	}

	reader, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("table zlib: %w", err)
	}
	defer reader.Close()

	table := make([]byte, sizes[1])
	if _, err := io.ReadFull(reader, table); err != nil {
		return fmt.Errorf("%w: table inflate: %v", ErrTruncated, err)
	}

	offset := 0
	for i := uint32(0); i < a.header.EntryCount; i++ {
		if offset+2 > len(table) {
			return ErrTruncated
		}
		nameLen := int(binary.LittleEndian.Uint16(table[offset:]))
		offset += 2

		if offset+nameLen+25 > len(table) {
			return ErrTruncated
		}
		name := string(table[offset : offset+nameLen])
		offset += nameLen

		entry := &Entry{
			Name:       name,
			Compressed: table[offset]&flagCompressed != 0,
			Offset:     binary.LittleEndian.Uint64(table[offset+1:]),
			Size:       binary.LittleEndian.Uint64(table[offset+9:]),
			StoredSize: binary.LittleEndian.Uint64(table[offset+17:]),
		}
		offset += 25

		a.entries[normalizePath(name)] = entry
	}

	return nil
}

// List returns all entry names in the pack, sorted.
func (a *Archive) List() []string {
	result := make([]string, 0, len(a.entries))
	for _, entry := range a.entries {
		result = append(result, entry.Name)
	}
	sort.Strings(result)
	return result
}

// Contains checks if an entry exists.
func (a *Archive) Contains(name string) bool {
	_, ok := a.entries[normalizePath(name)]
	return ok
}

// Stat returns the entry metadata.
func (a *Archive) Stat(name string) (Entry, error) {
	entry, ok := a.entries[normalizePath(name)]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return *entry, nil
}

// Read reads a whole entry, inflating it if needed.
func (a *Archive) Read(name string) ([]byte, error) {
	entry, ok := a.entries[normalizePath(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	stored := make([]byte, entry.StoredSize)
	if _, err := a.file.ReadAt(stored, int64(entry.Offset)); err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}

	if !entry.Compressed {
		return stored, nil
	}

	reader, err := zlib.NewReader(bytes.NewReader(stored))
	if err != nil {
		return nil, fmt.Errorf("inflating %s: %w", name, err)
	}
	defer reader.Close()

	result := make([]byte, entry.Size)
	if _, err := io.ReadFull(reader, result); err != nil {
		return nil, fmt.Errorf("inflating %s: %w", name, err)
	}
	return result, nil
}

// StreamOffset returns the absolute file offset of a raw entry so its bytes
// can be read in place through ReaderAt.
func (a *Archive) StreamOffset(name string) (uint64, error) {
	entry, ok := a.entries[normalizePath(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if entry.Compressed {
		return 0, fmt.Errorf("%w: %s", ErrCompressed, name)
	}
	return entry.Offset, nil
}

// ReaderAt exposes the underlying file for streaming reads.
func (a *Archive) ReaderAt() io.ReaderAt {
	return a.file
}

func normalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	return strings.ToLower(path)
}
