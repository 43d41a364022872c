package nav

import (
	"blog-mirror/blogpath"
	"blog-mirror/tree"
)

// ParentCategory is the parent of the current category. The root is its
// own parent.
func (n *Navigator) ParentCategory() string {
	return blogpath.Dirname(n.State().Category)
}

// Categories lists the subcategories of the current category.
func (n *Navigator) Categories() []string {
	return n.children(n.State().Category, tree.Directory)
}

// Posts lists the posts of the current category.
func (n *Navigator) Posts() []string {
	return n.children(n.State().Category, tree.File)
}

// ParentCategories lists the siblings of the current category, including
// itself. Empty at the root.
func (n *Navigator) ParentCategories() []string {
	c := n.State().Category
	if c == blogpath.Root {
		return []string{}
	}
	return n.children(blogpath.Dirname(c), tree.Directory)
}

// ParentPosts lists the posts beside the current category. Empty at the
// root.
func (n *Navigator) ParentPosts() []string {
	c := n.State().Category
	if c == blogpath.Root {
		return []string{}
	}
	return n.children(blogpath.Dirname(c), tree.File)
}

func (n *Navigator) children(path string, kind tree.Kind) []string {
	idx := n.Index()
	if idx == nil {
		return []string{}
	}
	return idx.ChildrenOf(path, kind)
}
