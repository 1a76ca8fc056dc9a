// Package tree converts between the flat and nested representations of a
// disk's file items and provides subtree closure helpers.
package tree

import (
	"github.com/breezedrive/breezedrive/pkg/models"
)

// Build groups a flat item list into a nested tree. Items whose parent is
// absent from the input are promoted to the root, never dropped; parent
// cycles are broken the same way. Child order follows input order.
func Build(flat []*models.FileItem) []*models.FileItem {
	nodes := make([]*models.FileItem, len(flat))
	byID := make(map[string]*models.FileItem, len(flat))
	for i, item := range flat {
		node := item.Clone()
		if node.IsFolder {
			node.Children = []*models.FileItem{}
		}
		nodes[i] = node
		byID[node.ID] = node
	}

	var roots []*models.FileItem
	for _, node := range nodes {
		parent, ok := byID[node.ParentID]
		if node.ParentID == "" || !ok || parent == node {
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}

	// Nodes on a parent cycle are reachable from no root. Promote them in
	// input order, detaching each from its parent before re-marking.
	reached := make(map[string]bool, len(nodes))
	for _, root := range roots {
		mark(root, reached)
	}
	if len(reached) < len(nodes) {
		for _, node := range nodes {
			if reached[node.ID] {
				continue
			}
			if parent, ok := byID[node.ParentID]; ok {
				detach(parent, node.ID)
			}
			roots = append(roots, node)
			mark(node, reached)
		}
	}
	return roots
}

// Flatten emits every node of a tree exactly once, depth first, with the
// Children field stripped.
func Flatten(roots []*models.FileItem) []*models.FileItem {
	var flat []*models.FileItem
	var walk func(node *models.FileItem)
	walk = func(node *models.FileItem) {
		flat = append(flat, node.Clone())
		for _, child := range node.Children {
			walk(child)
		}
	}
	for _, root := range roots {
		walk(root)
	}
	return flat
}

// ChildIndex is an adjacency list of a flat item set, keyed by parent id.
type ChildIndex map[string][]*models.FileItem

// IndexChildren builds a ChildIndex in one pass.
func IndexChildren(flat []*models.FileItem) ChildIndex {
	index := make(ChildIndex, len(flat))
	for _, item := range flat {
		index[item.ParentID] = append(index[item.ParentID], item)
	}
	return index
}

// Closure returns the id set of the given roots plus all transitive
// descendants, computed in a single indexed pass.
func Closure(flat []*models.FileItem, rootIDs []string) map[string]bool {
	index := IndexChildren(flat)
	set := make(map[string]bool, len(rootIDs))
	queue := append([]string(nil), rootIDs...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if set[id] {
			continue
		}
		set[id] = true
		for _, child := range index[id] {
			queue = append(queue, child.ID)
		}
	}
	return set
}

// FindByID finds a node in a tree by id (recursive).
func FindByID(roots []*models.FileItem, id string) *models.FileItem {
	for _, root := range roots {
		if root.ID == id {
			return root
		}
		if found := FindByID(root.Children, id); found != nil {
			return found
		}
	}
	return nil
}

// PathTo returns the folder ids from the disk root down to the item's parent.
// Returns nil when the id is unknown.
func PathTo(flat []*models.FileItem, id string) []string {
	byID := make(map[string]*models.FileItem, len(flat))
	for _, item := range flat {
		byID[item.ID] = item
	}
	item, ok := byID[id]
	if !ok {
		return nil
	}
	var path []string
	seen := map[string]bool{item.ID: true}
	for item.ParentID != "" {
		parent, ok := byID[item.ParentID]
		if !ok || seen[parent.ID] {
			break
		}
		seen[parent.ID] = true
		path = append([]string{parent.ID}, path...)
		item = parent
	}
	return path
}

func mark(node *models.FileItem, reached map[string]bool) {
	reached[node.ID] = true
	for _, child := range node.Children {
		mark(child, reached)
	}
}

func detach(parent *models.FileItem, childID string) {
	for i, child := range parent.Children {
		if child.ID == childID {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			return
		}
	}
}
