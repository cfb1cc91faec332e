// Package tree turns remote object listings into file trees and file trees
// into the ordered list of files to download.
package tree

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"assetdl/internal/models"
)

// Flatten returns the leaves of root in depth-first order, preserving child
// order. Folders are traversed but never emitted. The input is not modified.
func Flatten(root models.FileTreeNode) []models.FileTreeNode {
	var leaves []models.FileTreeNode
	var walk func(n models.FileTreeNode)
	walk = func(n models.FileTreeNode) {
		if n.IsLeaf() {
			leaf := n
			leaf.SubTree = nil
			leaves = append(leaves, leaf)
			return
		}
		for _, child := range n.SubTree {
			walk(child)
		}
	}
	walk(root)
	return leaves
}

// ErrNoMatch is returned when a selection leaves no file to download.
var ErrNoMatch = errors.New("no files match")

// Subtree keeps only the leaves selected by prefix, a path relative to the
// asset root. A prefix naming a file selects that file. A prefix naming a
// folder selects its direct files, or every file beneath it when recursive
// is set. An empty prefix selects from the root. Folder structure and
// relative paths are preserved.
func Subtree(root models.FileTreeNode, prefix string, recursive bool) (models.FileTreeNode, error) {
	prefix = strings.Trim(prefix, "/")
	selected := func(rel string) bool {
		if rel == prefix {
			return true
		}
		rest := rel
		if prefix != "" {
			if !strings.HasPrefix(rel, prefix+"/") {
				return false
			}
			rest = rel[len(prefix)+1:]
		}
		return recursive || !strings.Contains(rest, "/")
	}

	var prune func(n models.FileTreeNode) (models.FileTreeNode, bool)
	prune = func(n models.FileTreeNode) (models.FileTreeNode, bool) {
		if n.IsLeaf() {
			return n, selected(n.RelativePath)
		}
		out := n
		out.SubTree = nil
		for _, child := range n.SubTree {
			if kept, ok := prune(child); ok {
				out.SubTree = append(out.SubTree, kept)
			}
		}
		return out, len(out.SubTree) > 0
	}

	out, ok := prune(root)
	if !ok {
		return models.FileTreeNode{}, fmt.Errorf("%w %q", ErrNoMatch, prefix)
	}
	return out, nil
}

// Flat returns a folder like root whose children are every leaf of root,
// renamed so that each leaf's relative path is its bare file name. Remote
// keys are kept. Two leaves sharing a file name are an error.
func Flat(root models.FileTreeNode) (models.FileTreeNode, error) {
	out := root
	out.SubTree = nil
	owner := make(map[string]string)
	var conflicts []string
	for _, leaf := range Flatten(root) {
		if prev, dup := owner[leaf.Name]; dup {
			conflicts = append(conflicts, fmt.Sprintf("%s (%s, %s)", leaf.Name, prev, leaf.RelativePath))
			continue
		}
		owner[leaf.Name] = leaf.RelativePath
		leaf.RelativePath = leaf.Name
		out.SubTree = append(out.SubTree, leaf)
	}
	if len(conflicts) > 0 {
		return models.FileTreeNode{}, fmt.Errorf("file name conflicts in flat download: %s", strings.Join(conflicts, ", "))
	}
	return out, nil
}

// Entry is one object of a flat remote listing. RelativePath is relative to
// the asset root; a trailing slash marks an explicit folder object.
type Entry struct {
	RelativePath string
	Key          string
	Size         int64
}

type builder struct {
	node     models.FileTreeNode
	children []*builder
	index    map[string]*builder
}

func newFolder(name, relPath, key string) *builder {
	return &builder{
		node: models.FileTreeNode{
			Name:         name,
			RelativePath: relPath,
			KeyPrefix:    key,
			IsFolder:     true,
		},
		index: make(map[string]*builder),
	}
}

// Build creates a hierarchy rooted at a folder named name from a flat
// listing. Intermediate folders are created as needed and listing order is
// preserved among siblings.
func Build(name, rootKey string, entries []Entry) (*models.FileTreeNode, error) {
	root := newFolder(name, "", rootKey)

	for _, e := range entries {
		isFolder := strings.HasSuffix(e.RelativePath, "/")
		rel := strings.Trim(e.RelativePath, "/")
		if rel == "" {
			continue
		}
		parts := strings.Split(rel, "/")

		current := root
		for i, part := range parts {
			relPath := strings.Join(parts[:i+1], "/")
			last := i == len(parts)-1

			child, ok := current.index[part]
			if ok {
				if last && !isFolder && child.node.IsFolder {
					return nil, fmt.Errorf("object %q collides with folder %q", e.Key, relPath)
				}
				if !last && !child.node.IsFolder {
					return nil, fmt.Errorf("object %q nests under file %q", e.Key, relPath)
				}
				current = child
				continue
			}

			switch {
			case last && !isFolder:
				child = &builder{node: models.FileTreeNode{
					Name:         part,
					RelativePath: relPath,
					KeyPrefix:    e.Key,
					Size:         e.Size,
				}}
			case last:
				child = newFolder(part, relPath, e.Key)
			default:
				child = newFolder(part, relPath, path.Join(rootKey, relPath)+"/")
			}
			current.index[part] = child
			current.children = append(current.children, child)
			current = child
		}
	}

	out := root.finish()
	return &out, nil
}

func (b *builder) finish() models.FileTreeNode {
	n := b.node
	if len(b.children) > 0 {
		n.SubTree = make([]models.FileTreeNode, 0, len(b.children))
		for _, c := range b.children {
			n.SubTree = append(n.SubTree, c.finish())
		}
	}
	return n
}

// Validate checks that leaf relative paths are unique and stay inside the
// destination when joined to it.
func Validate(root models.FileTreeNode) error {
	seen := make(map[string]struct{})
	for _, leaf := range Flatten(root) {
		if err := CheckRelativePath(leaf.RelativePath); err != nil {
			return err
		}
		if _, dup := seen[leaf.RelativePath]; dup {
			return fmt.Errorf("duplicate relative path %q", leaf.RelativePath)
		}
		seen[leaf.RelativePath] = struct{}{}
	}
	return nil
}

// CheckRelativePath rejects empty, absolute and parent-escaping paths.
func CheckRelativePath(rel string) error {
	if rel == "" {
		return fmt.Errorf("empty relative path")
	}
	if strings.HasPrefix(rel, "/") || strings.Contains(rel, "\\") {
		return fmt.Errorf("relative path %q must be slash separated and relative", rel)
	}
	clean := path.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, "../") || clean != rel {
		return fmt.Errorf("relative path %q is not canonical", rel)
	}
	return nil
}

// TotalSize sums the declared sizes of all leaves.
func TotalSize(root models.FileTreeNode) int64 {
	var total int64
	for _, leaf := range Flatten(root) {
		total += leaf.Size
	}
	return total
}
