// Package trie implements the account and storage commitment store (the
// "trie-backed account store" of the state engine). It is not a
// byte-compatible Ethereum Merkle-Patricia trie: wire-format tries are an
// explicitly external concern here. Instead it gives the same
// observable guarantees the state engine needs — deterministic, content-
// addressed roots and O(1) logical clones via structural sharing — using a
// copy-on-write map layer in place of immutable trie nodes.
package trie

// cowMap is a copy-on-write map. Clone() is O(1): it hands back a map
// sharing the same backing storage, flipping a shared flag so that the
// first write on either side pays for a full copy. This mirrors the way a
// persistent trie shares unmodified subtrees across clones: readers never
// pay a cost, and only the branch that is actually mutated is copied.
type cowMap[K comparable, V any] struct {
	m      map[K]V
	shared *bool
}

func newCowMap[K comparable, V any]() *cowMap[K, V] {
	f := false
	return &cowMap[K, V]{m: make(map[K]V), shared: &f}
}

// clone returns a logical copy that shares storage with the receiver until
// one of them is next mutated.
func (c *cowMap[K, V]) clone() *cowMap[K, V] {
	*c.shared = true
	return &cowMap[K, V]{m: c.m, shared: c.shared}
}

// mutate returns a map safe to write to, copying the backing storage first
// if it is currently shared with another clone.
func (c *cowMap[K, V]) mutate() map[K]V {
	if *c.shared {
		cp := make(map[K]V, len(c.m))
		for k, v := range c.m {
			cp[k] = v
		}
		c.m = cp
		f := false
		c.shared = &f
	}
	return c.m
}

func (c *cowMap[K, V]) get(k K) (V, bool) {
	v, ok := c.m[k]
	return v, ok
}

func (c *cowMap[K, V]) set(k K, v V) {
	c.mutate()[k] = v
}

func (c *cowMap[K, V]) delete(k K) {
	if _, ok := c.m[k]; !ok {
		return
	}
	delete(c.mutate(), k)
}

func (c *cowMap[K, V]) len() int {
	return len(c.m)
}

// each calls fn for every entry, in unspecified order. fn must not mutate c.
func (c *cowMap[K, V]) each(fn func(K, V)) {
	for k, v := range c.m {
		fn(k, v)
	}
}
