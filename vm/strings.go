package vm

import "hash/fnv"

// ---------------------------------------------------------------------------
// StringTable: interned strings
// ---------------------------------------------------------------------------

// StringTable maps raw string contents to their canonical ObjString. It is
// owned by a single VM and handed to the Heap that allocates strings for it;
// it is not safe for concurrent use.
type StringTable struct {
	byChars map[string]*ObjString
}

// NewStringTable creates a new empty string table.
func NewStringTable() *StringTable {
	return &StringTable{
		byChars: make(map[string]*ObjString, 64),
	}
}

// Find returns the canonical string for chars, or nil if none is interned.
func (st *StringTable) Find(chars string) *ObjString {
	return st.byChars[chars]
}

// Set records s as the canonical string for its contents.
func (st *StringTable) Set(s *ObjString) {
	st.byChars[s.Chars] = s
}

// Len returns the number of interned strings.
func (st *StringTable) Len() int {
	return len(st.byChars)
}

// Clear drops every entry.
func (st *StringTable) Clear() {
	clear(st.byChars)
}

// HashString computes the 32-bit FNV-1a hash stored on every ObjString.
func HashString(chars string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(chars))
	return h.Sum32()
}
