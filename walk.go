package scenetwin

// A Visitor defines a Visit method invoked for each Link encountered by Walk.
// If the result visitor w is not nil, Walk visits each child of the link with
// the visitor w, followed by a call of w.Visit(nil).
type Visitor interface {
	Visit(link *Link) (w Visitor)
}

// Walk traverses a Robot's link tree in depth-first order: It calls
// WalkSubtree(root) for each of the robot's roots, in insertion order; the
// robot must not be nil.
func Walk(v Visitor, r *Robot) {
	for _, root := range r.roots {
		WalkSubtree(v, r, root)
	}
}

// WalkSubtree traverses the subtree below the named link in depth-first order:
// It starts by calling v.Visit(link). If the visitor w returned by
// v.Visit(link) is not nil, walk is invoked recursively with visitor w for each
// child of the link, followed by a call of w.Visit(nil).
//
// Links are passed by pointer so that nil can mark the end of a subtree; do not
// modify them.
func WalkSubtree(v Visitor, r *Robot, name string) {
	i, ok := r.index[name]
	if !ok {
		return
	}
	link := r.links[i]
	if v = v.Visit(&link); v == nil {
		return
	}
	for _, child := range r.children[name] {
		WalkSubtree(v, r, child)
	}
	v.Visit(nil)
}

type inspector func(link *Link) bool

func (f inspector) Visit(link *Link) Visitor {
	if f(link) {
		return f
	}
	return nil
}

// Inspect traverses a Robot's link tree in depth-first order: It starts by
// calling f(root) for every root of the robot; the robot must not be nil. If f
// returns true, Inspect invokes f recursively for each child of the link,
// followed by a call of f(nil).
func Inspect(r *Robot, f func(link *Link) bool) {
	Walk(inspector(f), r)
}
