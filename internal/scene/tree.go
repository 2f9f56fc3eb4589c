package scene

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// ErrInvalidPath is returned for operations that cannot target the given path.
var ErrInvalidPath = errors.New("invalid path")

// ErrReadOnlyProperty is returned when a property cannot change on a tree
// node. The object's name is its key under the parent node.
var ErrReadOnlyProperty = errors.New("read-only property")

// Binder receives per-node control lifecycle events. Implementations must
// not assume a node has controls.
type Binder interface {
	Bind(path Path, obj *Object)
	Unbind(path Path)
	Refresh(path Path)
}

// Node is one addressable point of the tree. It wraps exactly one object.
type Node struct {
	path     Path
	object   *Object
	children map[string]*Node
}

// Object returns the wrapped object.
func (n *Node) Object() *Object { return n.object }

// Path returns a copy of the node's path.
func (n *Node) Path() Path { return slices.Clone(n.path) }

// Child returns the named child node.
func (n *Node) Child(name string) (*Node, bool) {
	c, ok := n.children[name]
	return c, ok
}

// ChildNames returns the child segment names in sorted order.
func (n *Node) ChildNames() []string {
	return slices.Sorted(maps.Keys(n.children))
}

// Tree is a path-indexed arena of nodes. All mutations go through Tree
// methods, which keep the node hierarchy and the object hierarchy identical.
type Tree struct {
	root      *Node
	nodes     map[string]*Node
	binder    Binder
	onDispose func(Path, *Object)
}

// Option configures a Tree.
type Option func(*Tree)

// WithBinder attaches a control binder.
func WithBinder(b Binder) Option {
	return func(t *Tree) { t.binder = b }
}

// OnDispose registers fn to be called each time a node's object is disposed.
func OnDispose(fn func(Path, *Object)) Option {
	return func(t *Tree) { t.onDispose = fn }
}

// NewTree builds a tree over root. Named children already attached to
// root become nodes; unnamed or duplicate-named children stay part of
// their parent's object.
func NewTree(root *Object, opts ...Option) *Tree {
	t := &Tree{nodes: map[string]*Node{}}
	for _, opt := range opts {
		opt(t)
	}
	t.root = t.adopt(Path{}, root)
	return t
}

func key(p Path) string { return strings.Join(p, "/") }

// adopt wraps obj in a node at p and recursively adopts its named children.
func (t *Tree) adopt(p Path, obj *Object) *Node {
	n := &Node{path: slices.Clone(p), object: obj, children: map[string]*Node{}}
	t.nodes[key(p)] = n
	t.bind(p, obj)
	for _, c := range obj.children {
		if c.Name == "" || strings.Contains(c.Name, "/") {
			continue
		}
		if _, dup := n.children[c.Name]; dup {
			continue
		}
		n.children[c.Name] = t.adopt(p.Child(c.Name), c)
	}
	return n
}

// Root returns the root node.
func (t *Tree) Root() *Node { return t.root }

// Len returns the number of nodes, including the root.
func (t *Tree) Len() int { return len(t.nodes) }

// Find returns the node at p without creating anything.
func (t *Tree) Find(p Path) (*Node, bool) {
	n, ok := t.nodes[key(p)]
	return n, ok
}

// FindOrCreate returns the node at p, creating empty groups for missing
// segments.
func (t *Tree) FindOrCreate(p Path) *Node {
	if n, ok := t.nodes[key(p)]; ok {
		return n
	}
	n := t.root
	for i, name := range p {
		child, ok := n.children[name]
		if !ok {
			obj := NewGroup(name)
			n.object.Add(obj)
			child = &Node{path: slices.Clone(p[:i+1]), object: obj, children: map[string]*Node{}}
			n.children[name] = child
			t.nodes[key(child.path)] = child
			t.bind(child.path, obj)
		}
		n = child
	}
	return n
}

// SetObject replaces the object wrapped by the node at p. The old object
// is detached and disposed; the node's children are moved onto obj.
func (t *Tree) SetObject(p Path, obj *Object) *Node {
	n := t.FindOrCreate(p)
	old := n.object
	if old == obj {
		return n
	}
	if !p.IsRoot() {
		obj.Name = p.Name()
	}

	for _, name := range n.ChildNames() {
		obj.Add(n.children[name].object)
	}
	parent := old.parent
	if parent != nil {
		parent.Remove(old)
	}
	t.disposeObject(p, old)
	if parent != nil {
		parent.Add(obj)
	}
	n.object = obj
	t.bind(p, obj)
	return n
}

// SetTransform applies a column-major 4x4 matrix to the node at p. It
// reports false when the matrix is degenerate, in which case nothing changes.
func (t *Tree) SetTransform(p Path, m mgl64.Mat4) bool {
	return t.FindOrCreate(p).object.SetMatrix(m)
}

// SetProperty applies a named property to the node at p. Renaming an
// addressed object is rejected; setting the name it already has is a no-op.
func (t *Tree) SetProperty(p Path, name string, value any) error {
	if name == "name" && !p.IsRoot() && value != any(p.Name()) {
		return fmt.Errorf("set_property %s: %w: name is the node's path segment", p, ErrReadOnlyProperty)
	}
	n := t.FindOrCreate(p)
	if err := n.object.ApplyProperty(name, value); err != nil {
		return fmt.Errorf("set_property %s: %w", p, err)
	}
	if t.binder != nil {
		t.binder.Refresh(n.Path())
	}
	return nil
}

// Delete removes the subtree at p, disposing every object in it, children
// before parents. Deleting the root is an ErrInvalidPath error; deleting a
// path that does not exist does nothing.
func (t *Tree) Delete(p Path) error {
	if p.IsRoot() {
		return fmt.Errorf("delete: %w: cannot delete the scene root", ErrInvalidPath)
	}
	parent, ok := t.Find(p.Parent())
	if !ok {
		return nil
	}
	child, ok := parent.children[p.Name()]
	if !ok {
		return nil
	}
	t.disposeNode(child)
	parent.object.Remove(child.object)
	delete(parent.children, p.Name())
	return nil
}

// Walk visits nodes depth first in sorted order. Returning false from fn
// skips the node's children.
func (t *Tree) Walk(fn func(*Node) bool) {
	var visit func(*Node)
	visit = func(n *Node) {
		if !fn(n) {
			return
		}
		for _, name := range n.ChildNames() {
			visit(n.children[name])
		}
	}
	visit(t.root)
}

// Reset disposes the whole tree and rebuilds it over root.
func (t *Tree) Reset(root *Object) {
	for _, name := range t.root.ChildNames() {
		c := t.root.children[name]
		t.disposeNode(c)
		t.root.object.Remove(c.object)
	}
	t.disposeObject(Path{}, t.root.object)
	t.unbind(Path{})
	t.nodes = map[string]*Node{}
	t.root = t.adopt(Path{}, root)
}

// disposeNode disposes n's subtree bottom-up and removes it from the index.
func (t *Tree) disposeNode(n *Node) {
	for _, name := range n.ChildNames() {
		c := n.children[name]
		t.disposeNode(c)
		n.object.Remove(c.object)
	}
	n.children = map[string]*Node{}
	t.disposeObject(n.path, n.object)
	delete(t.nodes, key(n.path))
	t.unbind(n.path)
}

// disposeObject releases obj and the unaddressed objects attached below it.
// Objects owned by child nodes must already be detached or disposed.
func (t *Tree) disposeObject(p Path, obj *Object) {
	var inner func(*Object)
	inner = func(o *Object) {
		for _, c := range o.children {
			inner(c)
		}
		DisposeObject(o)
	}
	for _, c := range obj.children {
		if n, ok := t.nodes[key(p.Child(c.Name))]; ok && n.object == c {
			continue
		}
		inner(c)
	}
	DisposeObject(obj)
	if t.onDispose != nil {
		t.onDispose(slices.Clone(p), obj)
	}
}

func (t *Tree) bind(p Path, obj *Object) {
	if t.binder != nil {
		t.binder.Bind(slices.Clone(p), obj)
	}
}

func (t *Tree) unbind(p Path) {
	if t.binder != nil {
		t.binder.Unbind(slices.Clone(p))
	}
}
