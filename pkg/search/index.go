package search

import (
	"sort"
	"strings"
	"sync"

	trie "github.com/derekparker/trie/v3"
)

// Doc is the unit of indexing: one entity's searchable content.
type Doc struct {
	ID        string
	Name      string
	Fields    map[string]string // field -> raw text, "name" included
	UpdatedAt int64
}

// docEntry is the indexed form of a Doc.
type docEntry struct {
	doc      Doc
	tokens   map[string]int // token -> tf across all fields
	nameNorm string
	content  string // normalized concatenation of all fields, for verification
}

// nameRef tracks which docs share a normalized name, for suggestion upkeep.
type nameRef struct {
	display string
	ids     map[string]struct{}
}

// Index is an inverted token index with a name trie for suggestions.
// All public methods are safe for concurrent use; Rebuild swaps the whole
// structure under the write lock so readers never observe a partial index.
type Index struct {
	mu       sync.RWMutex
	postings map[string]map[string]int // token -> docID -> tf
	docs     map[string]*docEntry
	names    *trie.Trie[string] // normalized name -> display name
	nameRefs map[string]*nameRef
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		postings: make(map[string]map[string]int),
		docs:     make(map[string]*docEntry),
		names:    trie.New[string](),
		nameRefs: make(map[string]*nameRef),
	}
}

// Upsert indexes a document, diffing against its previous token set so stale
// postings are removed and unchanged ones stay put.
func (idx *Index) Upsert(d Doc) error {
	if err := validateDoc(d); err != nil {
		return err
	}

	entry := buildEntry(d)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	old := idx.docs[d.ID]

	// Drop postings for tokens no longer present.
	if old != nil {
		for token := range old.tokens {
			if _, still := entry.tokens[token]; still {
				continue
			}
			idx.removePosting(token, d.ID)
		}
		if old.nameNorm != entry.nameNorm {
			idx.releaseName(old.nameNorm, d.ID)
		}
	}

	for token, tf := range entry.tokens {
		m := idx.postings[token]
		if m == nil {
			m = make(map[string]int)
			idx.postings[token] = m
		}
		m[d.ID] = tf
	}

	idx.docs[d.ID] = entry
	idx.holdName(entry.nameNorm, d.Name, d.ID)
	return nil
}

// Remove drops every posting referencing the document id.
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entry, ok := idx.docs[id]
	if !ok {
		return
	}

	for token := range entry.tokens {
		idx.removePosting(token, id)
	}
	idx.releaseName(entry.nameNorm, id)
	delete(idx.docs, id)
}

// Rebuild recomputes the entire index from the given documents and swaps it
// in atomically. Readers see either the old index or the new one.
func (idx *Index) Rebuild(docs []Doc) error {
	fresh := NewIndex()
	for _, d := range docs {
		if err := fresh.Upsert(d); err != nil {
			return err
		}
	}

	idx.mu.Lock()
	idx.postings = fresh.postings
	idx.docs = fresh.docs
	idx.names = fresh.names
	idx.nameRefs = fresh.nameRefs
	idx.mu.Unlock()
	return nil
}

// Optimize compacts index storage. Empty posting lists are pruned eagerly on
// the update path already, so this is a sweep for anything left behind; query
// results are unchanged.
func (idx *Index) Optimize() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for token, m := range idx.postings {
		if len(m) == 0 {
			delete(idx.postings, token)
		}
	}
	for norm, ref := range idx.nameRefs {
		if len(ref.ids) == 0 {
			delete(idx.nameRefs, norm)
			idx.names.Remove(norm)
		}
	}
}

// DocCount returns the number of indexed documents.
func (idx *Index) DocCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

// TokenCount returns the number of distinct tokens with live postings.
func (idx *Index) TokenCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.postings)
}

// Suggest returns display names whose normalized form starts with prefix,
// sorted, truncated to limit. limit <= 0 means no truncation.
func (idx *Index) Suggest(prefix string, limit int) []string {
	norm := Normalize(prefix)
	if norm == "" {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	keys := idx.names.PrefixSearch(norm)
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		if ref, ok := idx.nameRefs[k]; ok {
			names = append(names, ref.display)
		}
	}
	sort.Strings(names)
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	return names
}

// =============================================================================
// Internals (callers hold idx.mu)
// =============================================================================

func (idx *Index) removePosting(token, id string) {
	m := idx.postings[token]
	if m == nil {
		return
	}
	delete(m, id)
	if len(m) == 0 {
		delete(idx.postings, token)
	}
}

func (idx *Index) holdName(norm, display, id string) {
	if norm == "" {
		return
	}
	ref, ok := idx.nameRefs[norm]
	if !ok {
		ref = &nameRef{ids: make(map[string]struct{})}
		idx.nameRefs[norm] = ref
		idx.names.Add(norm, display)
	}
	ref.display = display
	ref.ids[id] = struct{}{}
}

func (idx *Index) releaseName(norm, id string) {
	ref, ok := idx.nameRefs[norm]
	if !ok {
		return
	}
	delete(ref.ids, id)
	if len(ref.ids) == 0 {
		delete(idx.nameRefs, norm)
		idx.names.Remove(norm)
	}
}

func buildEntry(d Doc) *docEntry {
	tokens := make(map[string]int)
	var content []string

	for _, text := range fieldsInOrder(d.Fields) {
		for t, tf := range tokenCounts(text) {
			tokens[t] += tf
		}
		if norm := Normalize(text); norm != "" {
			content = append(content, norm)
		}
	}

	return &docEntry{
		doc:      d,
		tokens:   tokens,
		nameNorm: Normalize(d.Name),
		content:  strings.Join(content, " \x00 "),
	}
}

// fieldsInOrder returns field values sorted by field key so the concatenated
// content string is deterministic.
func fieldsInOrder(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]string, 0, len(keys))
	for _, k := range keys {
		vals = append(vals, fields[k])
	}
	return vals
}
