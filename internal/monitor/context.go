package monitor

import (
	"fmt"
	"strings"

	"github.com/sltsclo/detecter/internal/event"
)

// GlobalNS is the namespace bindings fall under when no recursion
// binder is in scope.
const GlobalNS = "global"

// Key addresses one binding in a context: the namespace the binder was
// introduced under, and the binder's name.
type Key struct {
	NS   string
	Name string
}

func (k Key) String() string {
	return k.NS + ":" + k.Name
}

// Ctx is the binding context a monitor term carries: an
// insertion-ordered mapping from (namespace, name) to the event that
// was captured when an Act consumed it. Insertion order is preserved so
// that contexts render and compare deterministically.
type Ctx struct {
	keys  []Key
	binds map[Key]event.Event
}

// NewCtx returns an empty binding context.
func NewCtx() *Ctx {
	return &Ctx{binds: make(map[Key]event.Event)}
}

// Bind records e under (ns, name). Rebinding an existing key updates
// the value in place and keeps the original insertion position.
func (c *Ctx) Bind(ns, name string, e event.Event) {
	k := Key{NS: ns, Name: name}
	if _, ok := c.binds[k]; !ok {
		c.keys = append(c.keys, k)
	}
	c.binds[k] = e
}

// Lookup returns the binding for (ns, name), if any.
func (c *Ctx) Lookup(ns, name string) (event.Event, bool) {
	e, ok := c.binds[Key{NS: ns, Name: name}]
	return e, ok
}

// Len returns the number of bindings.
func (c *Ctx) Len() int {
	return len(c.keys)
}

// Keys returns the binding keys in insertion order.
func (c *Ctx) Keys() []Key {
	out := make([]Key, len(c.keys))
	copy(out, c.keys)
	return out
}

// Clone returns an independent copy with the same bindings and order.
func (c *Ctx) Clone() *Ctx {
	out := &Ctx{
		keys:  make([]Key, len(c.keys)),
		binds: make(map[Key]event.Event, len(c.binds)),
	}
	copy(out.keys, c.keys)
	for k, v := range c.binds {
		out.binds[k] = v
	}
	return out
}

// Merge folds other into c, returning a new context. On duplicate keys
// the receiver (left operand) wins; this is the merge parallel
// reductions use, where the left branch's bindings take precedence.
func (c *Ctx) Merge(other *Ctx) *Ctx {
	out := c.Clone()
	if other == nil {
		return out
	}
	for _, k := range other.keys {
		if _, ok := out.binds[k]; ok {
			continue
		}
		out.keys = append(out.keys, k)
		out.binds[k] = other.binds[k]
	}
	return out
}

// PurgeNS returns a copy of c with every binding under ns removed.
// Unfolding a recursion variable purges its namespace so that bindings
// from the previous iteration do not leak into the next.
func (c *Ctx) PurgeNS(ns string) *Ctx {
	out := &Ctx{binds: make(map[Key]event.Event, len(c.binds))}
	for _, k := range c.keys {
		if k.NS == ns {
			continue
		}
		out.keys = append(out.keys, k)
		out.binds[k] = c.binds[k]
	}
	return out
}

// String renders the context in insertion order.
func (c *Ctx) String() string {
	if c == nil || len(c.keys) == 0 {
		return "{}"
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range c.keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%s", k, c.binds[k])
	}
	b.WriteByte('}')
	return b.String()
}
