package scene

import (
	"maps"
	"slices"
	"strings"
)

type Node struct {
	ID       uint64
	Name     string
	TypeID   string
	Parent   uint64
	Children []uint64
	Props    map[string]string
}

func (n *Node) clone() *Node {
	c := *n
	c.Children = slices.Clone(n.Children)
	c.Props = maps.Clone(n.Props)
	return &c
}

// tree is the raw node graph. It knows nothing about types or revisions.
type tree struct {
	nodes  map[uint64]*Node
	rootID uint64
	nextID uint64
}

func newTree(rootName, rootType string, rootProps map[string]string) *tree {
	t := &tree{nodes: map[uint64]*Node{}, nextID: 1}
	root := &Node{ID: t.nextID, Name: rootName, TypeID: rootType, Props: rootProps}
	t.nextID++
	t.nodes[root.ID] = root
	t.rootID = root.ID
	return t
}

func (t *tree) clone() *tree {
	c := &tree{nodes: make(map[uint64]*Node, len(t.nodes)), rootID: t.rootID, nextID: t.nextID}
	for id, n := range t.nodes {
		c.nodes[id] = n.clone()
	}
	return c
}

func (t *tree) get(id uint64) *Node {
	return t.nodes[id]
}

func (t *tree) childNamed(parent *Node, name string) *Node {
	for _, cid := range parent.Children {
		if c := t.nodes[cid]; c != nil && strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

func (t *tree) add(parent *Node, name, typeID string, props map[string]string) *Node {
	n := &Node{ID: t.nextID, Name: name, TypeID: typeID, Parent: parent.ID, Props: props}
	t.nextID++
	t.nodes[n.ID] = n
	parent.Children = append(parent.Children, n.ID)
	return n
}

// remove deletes the node and its whole subtree and returns the removed ids.
func (t *tree) remove(n *Node) []uint64 {
	if p := t.nodes[n.Parent]; p != nil {
		p.Children = slices.DeleteFunc(p.Children, func(id uint64) bool { return id == n.ID })
	}
	var removed []uint64
	var walk func(id uint64)
	walk = func(id uint64) {
		cur := t.nodes[id]
		if cur == nil {
			return
		}
		for _, c := range cur.Children {
			walk(c)
		}
		delete(t.nodes, id)
		removed = append(removed, id)
	}
	walk(n.ID)
	return removed
}

func (t *tree) isAncestor(ancestor, id uint64) bool {
	for cur := t.nodes[id]; cur != nil; cur = t.nodes[cur.Parent] {
		if cur.ID == ancestor {
			return true
		}
		if cur.ID == t.rootID {
			break
		}
	}
	return false
}

func (t *tree) move(n, newParent *Node, index *int) {
	if old := t.nodes[n.Parent]; old != nil {
		old.Children = slices.DeleteFunc(old.Children, func(id uint64) bool { return id == n.ID })
	}
	pos := len(newParent.Children)
	if index != nil && *index >= 0 && *index < pos {
		pos = *index
	}
	newParent.Children = slices.Insert(newParent.Children, pos, n.ID)
	n.Parent = newParent.ID
}

func (t *tree) sortedIDs() []uint64 {
	ids := make([]uint64, 0, len(t.nodes))
	for id := range t.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
