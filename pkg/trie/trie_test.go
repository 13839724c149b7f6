package trie

import (
	"sort"
	"testing"
)

func TestParseTrieSharedPrefix(t *testing.T) {
	// Encodes the spec.md §8 scenario 5: {_a, _ab, _abc} sharing prefix
	// "_a", with "_ab" and "_abc" terminal under it.
	//
	// Layout (offsets noted inline):
	// 0: root: terminal_size=0, children_count=1, label "_a\0", next=6
	// 6: "_a" node: terminal_size=2 (flags=0,address=1), children_count=1, label "b\0", next=13
	// 13: "_ab" node: terminal_size=2 (flags=0,address=2), children_count=1, label "c\0", next=20
	// 20: "_abc" node: terminal_size=2 (flags=0,address=3), children_count=0
	var data []byte
	data = append(data, 0x00)            // root terminal_size = 0
	data = append(data, 0x01)            // children_count = 1
	data = append(data, []byte("_a")...) // label
	data = append(data, 0x00)            // NUL
	data = append(data, 6)               // next_offset = 6
	if len(data) != 6 {
		t.Fatalf("test setup: root node should end at offset 6, got %d", len(data))
	}
	data = append(data, 0x02, 0x00, 0x01) // "_a" node terminal: size=2, flags=0, address=1
	data = append(data, 0x01)             // children_count = 1
	data = append(data, 'b', 0x00)        // label "b"
	data = append(data, 13)               // next_offset = 13
	if len(data) != 13 {
		t.Fatalf("test setup: '_a' node should end at offset 13, got %d", len(data))
	}
	data = append(data, 0x02, 0x00, 0x02) // "_ab" node terminal: size=2, flags=0, address=2
	data = append(data, 0x01)             // children_count = 1
	data = append(data, 'c', 0x00)        // label "c"
	data = append(data, 20)               // next_offset = 20
	if len(data) != 20 {
		t.Fatalf("test setup: '_ab' node should end at offset 20, got %d", len(data))
	}
	data = append(data, 0x02, 0x00, 0x03) // "_abc" node terminal: size=2, flags=0, address=3
	data = append(data, 0x00)             // children_count = 0

	entries, err := ParseTrie(data, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	sort.Strings(names)
	want := []string{"_a", "_ab", "_abc"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got %v, want %v", names, want)
		}
	}
}

func TestParseTrieSelfLoop(t *testing.T) {
	// A 1-byte node (terminal_size=0) whose single child points back to
	// its own offset (next_offset == 0): spec.md §8 scenario 2/6.
	data := []byte{
		0x00,      // terminal_size = 0
		0x01,      // children_count = 1
		'a', 0x00, // label "a"
		0x00,      // next_offset = 0 (self)
	}
	if _, err := ParseTrie(data, 0); err != ErrTrieCycle {
		t.Fatalf("got err=%v, want ErrTrieCycle", err)
	}
}

func TestParseTrieRootAsTerminal(t *testing.T) {
	// Root node is itself a terminal (empty symbol buffer): must be
	// rejected even though it is otherwise well-formed.
	data := []byte{
		0x02, 0x00, 0x01, // terminal_size=2, flags=0, address=1
		0x00, // children_count = 0
	}
	if _, err := ParseTrie(data, 0); err != ErrEmptyTerminal {
		t.Fatalf("got err=%v, want ErrEmptyTerminal", err)
	}
}

func TestParseTrieUnterminatedLabel(t *testing.T) {
	data := []byte{
		0x00,     // terminal_size = 0
		0x01,     // children_count = 1
		'a', 'b', // label runs to the end of the trie without a NUL
	}
	if _, err := ParseTrie(data, 0); err != ErrUnterminated {
		t.Fatalf("got err=%v, want ErrUnterminated", err)
	}
}

func encodeULEB(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

// buildChain lays out a chain of n single-child nodes, each node's
// next_offset pointing to the following node, terminating in a childless
// node. next_offset may need more than one ULEB byte once the chain grows
// past 127 bytes, so node start offsets are computed by iterating to a
// fixed point before the final bytes are emitted.
func buildChain(n int) []byte {
	prefixes := make([]int, n)
	for {
		offset := 0
		changed := false
		for i := 0; i < n; i++ {
			if prefixes[i] != offset {
				changed = true
			}
			prefixes[i] = offset
			if i == n-1 {
				offset += 2 // terminal_size=0, children_count=0
				continue
			}
			offset += 4 + len(encodeULEB(uint64(prefixes[i+1])))
		}
		if !changed {
			break
		}
	}

	var data []byte
	for i := 0; i < n; i++ {
		if i == n-1 {
			data = append(data, 0x00, 0x00)
			continue
		}
		data = append(data, 0x00, 0x01, 'x', 0x00) // terminal_size, children_count, label "x", NUL
		data = append(data, encodeULEB(uint64(prefixes[i+1]))...)
	}
	return data
}

func TestParseTrieTooDeep(t *testing.T) {
	data := buildChain(200)
	if _, err := ParseTrie(data, 0); err != ErrTrieTooDeep {
		t.Fatalf("got err=%v, want ErrTrieTooDeep", err)
	}
}

func TestParseTrieFlags(t *testing.T) {
	f := ExportFlag(0x04) // weak definition, regular kind
	if !f.Regular() || !f.WeakDefinition() {
		t.Fatalf("expected regular+weak-definition, got %s", f)
	}
	if f.ReExport() || f.StubAndResolver() {
		t.Fatalf("independent bits must not be confused: %s", f)
	}
}
