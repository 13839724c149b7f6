// Package trie walks the dyld export trie, a compressed prefix tree of
// exported symbol names, reconstructing one TrieEntry per terminal node
// while defending against the malformed-input classes spec.md §4.4
// calls out: self-referential and overlapping nodes, over-deep paths, and
// truncated labels.
//
// Grounded on the teacher's pkg/trie/trie.go ParseTrie/WalkTrie, which
// this rewrite keeps the shape of (ULEB terminal_size, flags-driven
// terminal payload, NUL-terminated child labels) while replacing its
// unbounded, undefended traversal with the range-stack and depth bound
// dyld itself enforces.
package trie

import (
	"errors"
	"fmt"

	"github.com/blacktop/go-tapi/internal/strbuf"
	"github.com/blacktop/go-tapi/internal/uleb"
	"github.com/blacktop/go-tapi/internal/xrange"
)

// maxDepth mirrors dyld's own export-trie recursion limit (spec.md §4.4).
const maxDepth = 128

var (
	ErrTrieCycle     = errors.New("trie: node range overlaps an ancestor on the current path")
	ErrTrieTooDeep   = errors.New("trie: exceeded maximum export-trie depth")
	ErrTrieTruncated = errors.New("trie: node extends past the end of the trie")
	ErrEmptyTerminal = errors.New("trie: terminal reached with an empty symbol buffer")
	ErrUnterminated  = errors.New("trie: child label runs to the end of the trie without a NUL")
	ErrBadExportKind = errors.New("trie: reserved export symbol kind")
)

// TrieEntry is one reconstructed export: a symbol name together with its
// flags and, depending on those flags, a re-export target or a resolver
// address.
type TrieEntry struct {
	Name         string
	ReExport     string
	Flags        ExportFlag
	Other        uint64
	Address      uint64
	FoundInDylib string
}

func (e TrieEntry) String() string {
	switch {
	case e.Flags.ReExport():
		return fmt.Sprintf("%#016x: %s (%s re-exported from %s)", e.Address, e.Name, e.ReExport, e.FoundInDylib)
	case e.Flags.StubAndResolver():
		return fmt.Sprintf("%#016x: %s (stub to %#x)", e.Address, e.Name, e.Other)
	default:
		return fmt.Sprintf("%#016x: %s", e.Address, e.Name)
	}
}

// walker holds the traversal state for a single ParseTrie call: the
// symbol-prefix buffer and the bounded stack of node ranges on the
// current root-to-node path, both restored to their entry values before
// returning from a child (spec.md §4.4, "State on return").
type walker struct {
	data        []byte
	loadAddress uint64
	entries     []TrieEntry
	buf         *strbuf.Buffer
	ranges      []xrange.Range
}

// ParseTrie reconstructs every exported symbol recorded in an export
// trie, given the trie's raw bytes and the image's load address (added to
// every non-reexport symbol address, per dyld convention).
func ParseTrie(data []byte, loadAddress uint64) ([]TrieEntry, error) {
	w := &walker{
		data:        data,
		loadAddress: loadAddress,
		buf:         strbuf.New(),
		ranges:      make([]xrange.Range, 0, maxDepth),
	}
	if err := w.visit(0); err != nil {
		return nil, err
	}
	return w.entries, nil
}

func (w *walker) visit(offset uint64) error {
	if len(w.ranges) >= maxDepth {
		return ErrTrieTooDeep
	}
	end := uint64(len(w.data))
	if offset > end {
		return ErrTrieTruncated
	}

	terminalSize, next, err := uleb.ReadU64(w.data, int(offset), int(end))
	if err != nil {
		return fmt.Errorf("trie: reading terminal_size at %#x: %w", offset, err)
	}

	// The node's range spans every byte it occupies: the terminal_size
	// ULEB itself plus the terminal block that follows, so even a
	// childless, terminal_size==0 node still covers at least one byte
	// and a self-referential child (next_offset == offset) is caught as
	// an overlap rather than silently matching a zero-length range.
	nodeEnd, err := xrange.AddChecked(uint64(next), terminalSize)
	if err != nil || nodeEnd > end {
		return ErrTrieTruncated
	}
	nodeRange := xrange.Range{Begin: offset, End: nodeEnd}
	for _, r := range w.ranges {
		if r.Overlaps(nodeRange) {
			return ErrTrieCycle
		}
	}
	w.ranges = append(w.ranges, nodeRange)
	defer func() { w.ranges = w.ranges[:len(w.ranges)-1] }()

	if terminalSize != 0 {
		if w.buf.Len() == 0 {
			return ErrEmptyTerminal
		}
		if err := w.readTerminal(next, next+int(terminalSize)); err != nil {
			return err
		}
	}

	childrenOffset := uint64(next) + terminalSize
	if childrenOffset >= end {
		return ErrTrieTruncated
	}
	childrenCount := w.data[childrenOffset]
	iter := int(childrenOffset) + 1

	for i := 0; i < int(childrenCount); i++ {
		mark := w.buf.Mark()

		labelStart := iter
		for iter < len(w.data) && w.data[iter] != 0 {
			iter++
		}
		if iter >= len(w.data) {
			return ErrUnterminated
		}
		w.buf.AppendLabel(w.data[labelStart:iter])
		iter++ // skip NUL

		childOffset, nextIter, err := uleb.ReadU64(w.data, iter, len(w.data))
		if err != nil {
			return fmt.Errorf("trie: reading child next_offset at %#x: %w", iter, err)
		}
		iter = nextIter

		if err := w.visit(childOffset); err != nil {
			return err
		}
		w.buf.Truncate(mark)
	}

	return nil
}

// readTerminal decodes the flags and, per the flag bits, either a
// re-export ordinal and NUL-terminated re-export name or an address (and
// for stub-and-resolver symbols, a resolver offset). [iter, limit) is the
// terminal block's byte extent, measured from immediately after
// terminal_size, and must be fully consumed by exactly this decode
// (spec.md §4.4: "block length ... must equal terminal_size").
func (w *walker) readTerminal(iter, limit int) error {
	symFlagInt, iter, err := uleb.ReadU64(w.data, iter, limit)
	if err != nil {
		return fmt.Errorf("trie: reading flags: %w", err)
	}
	flags := ExportFlag(symFlagInt)
	if flags.Kind() == 0x03 {
		return fmt.Errorf("%w: %#x", ErrBadExportKind, uint64(flags))
	}

	var other, address uint64
	var reExport string

	if !flags.ReExport() {
		address, iter, err = uleb.ReadU64(w.data, iter, limit)
		if err != nil {
			return fmt.Errorf("trie: reading symbol address: %w", err)
		}
		address += w.loadAddress
	}

	switch {
	case flags.ReExport():
		other, iter, err = uleb.ReadU64(w.data, iter, limit)
		if err != nil {
			return fmt.Errorf("trie: reading re-export ordinal: %w", err)
		}
		start := iter
		for iter < limit && w.data[iter] != 0 {
			iter++
		}
		if iter >= limit {
			return ErrUnterminated
		}
		reExport = string(w.data[start:iter])
		iter++
	case flags.StubAndResolver():
		other, iter, err = uleb.ReadU64(w.data, iter, limit)
		if err != nil {
			return fmt.Errorf("trie: reading resolver offset: %w", err)
		}
		other += w.loadAddress
	}

	if iter != limit {
		return fmt.Errorf("trie: terminal block ending at %#x does not match terminal_size (decoded up to %#x)", limit, iter)
	}

	w.entries = append(w.entries, TrieEntry{
		Name:     w.buf.String(),
		ReExport: reExport,
		Flags:    flags,
		Other:    other,
		Address:  address,
	})
	return nil
}
