package llm

import "fmt"

// maxNativeIDLen is the longest tool-call id passed through unchanged.
// Some providers reject long or punctuated ids, so anything beyond this
// gets a short alias for the duration of one invocation boundary.
const maxNativeIDLen = 9

// aliasTable translates provider-foreign tool-call ids to short
// alphanumeric aliases and back. One table lives per ChatStream call; ids
// never need to stay stable across calls because the history carries the
// original ids.
type aliasTable struct {
	toAlias  map[string]string
	toNative map[string]string
	seq      int
}

func newAliasTable() *aliasTable {
	return &aliasTable{
		toAlias:  make(map[string]string),
		toNative: make(map[string]string),
	}
}

// alias returns a compliant id for the given native id, minting one when
// needed. Ids that are already short and alphanumeric pass through.
func (t *aliasTable) alias(id string) string {
	if compliantID(id) {
		return id
	}
	if a, ok := t.toAlias[id]; ok {
		return a
	}
	t.seq++
	a := fmt.Sprintf("tc%d", t.seq)
	t.toAlias[id] = a
	t.toNative[a] = id
	return a
}

// resolve maps an alias back to its native id. Unknown ids (including ids
// that were never aliased) pass through unchanged.
func (t *aliasTable) resolve(id string) string {
	if native, ok := t.toNative[id]; ok {
		return native
	}
	return id
}

// next mints a fresh short id for providers that do not assign ids at all.
func (t *aliasTable) next() string {
	t.seq++
	return fmt.Sprintf("tc%d", t.seq)
}

func compliantID(id string) bool {
	if id == "" || len(id) > maxNativeIDLen {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
