package scene

import "strings"

// ObjectSegment is the reserved child name that holds the object set at a
// path, so transforms applied to the path itself move the enclosing group.
const ObjectSegment = "<object>"

// Path addresses a node in the tree. The empty path is the root.
type Path []string

// SplitPath splits a slash-delimited path, dropping empty segments, so
// "/a//b/" and "a/b" address the same node.
func SplitPath(s string) Path {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == '/' })
	if len(fields) == 0 {
		return Path{}
	}
	return Path(fields)
}

// IsRoot reports whether p addresses the scene root.
func (p Path) IsRoot() bool {
	return len(p) == 0
}

// Parent returns the path of the parent node. The parent of the root is the root.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return Path{}
	}
	return p[:len(p)-1:len(p)-1]
}

// Name returns the last segment, or "" for the root.
func (p Path) Name() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Child returns a new path with name appended.
func (p Path) Child(name string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, name)
}

// HasPrefix reports whether prefix is an ancestor of (or equal to) p.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (p Path) String() string {
	return "/" + strings.Join(p, "/")
}
