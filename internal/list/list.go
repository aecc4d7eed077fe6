// Package list provides an intrusive circular doubly-linked list.
// Nodes are embedded in their enclosing structure and carry only the
// prev/next links; the enclosing structure is recovered by the caller
// with offset arithmetic. The list is circular: the terminator is the
// node iteration started from, never a nil link.
package list

// Node is the embedded link pair. A zero Node is not valid; call Init
// before use.
type Node struct {
	prev *Node
	next *Node
}

// Init makes n a single-element circular list (self-loop).
func (n *Node) Init() {
	n.prev = n
	n.next = n
}

// Next returns the node following n.
func (n *Node) Next() *Node { return n.next }

// Prev returns the node preceding n.
func (n *Node) Prev() *Node { return n.prev }

// AddAfter inserts nn immediately after n.
func (n *Node) AddAfter(nn *Node) {
	nn.prev = n
	nn.next = n.next
	n.next.prev = nn
	n.next = nn
}

// AddBefore inserts nn immediately before n.
func (n *Node) AddBefore(nn *Node) {
	nn.next = n
	nn.prev = n.prev
	n.prev.next = nn
	n.prev = nn
}

// Remove unlinks n from its list and re-initializes it as a self-loop,
// so a removed node is safe to insert again.
func (n *Node) Remove() {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.Init()
}

// Empty reports whether n is the only node in its list.
func (n *Node) Empty() bool { return n.next == n }

// Len counts the nodes reachable from n, excluding n itself. It mirrors
// the iteration convention used throughout: the node the walk starts
// from is a sentinel and is never visited.
func (n *Node) Len() int {
	count := 0
	for it := n.next; it != n; it = it.next {
		count++
	}
	return count
}
