package viewer

import (
	"strings"

	"github.com/scenecast/scenecast/internal/scene"
)

// FilterNames returns the paths of nodes whose object name contains term,
// case-insensitively, together with their ancestors. The root is never
// listed. An empty term matches everything.
func (v *Viewer) FilterNames(term string) []scene.Path {
	term = strings.ToLower(term)
	shown := map[*scene.Node]bool{}
	var mark func(n *scene.Node) bool
	mark = func(n *scene.Node) bool {
		match := term == "" || strings.Contains(strings.ToLower(n.Object().Name), term)
		for _, name := range n.ChildNames() {
			c, _ := n.Child(name)
			if mark(c) {
				match = true
			}
		}
		shown[n] = match
		return match
	}
	mark(v.tree.Root())

	var out []scene.Path
	v.tree.Walk(func(n *scene.Node) bool {
		if !shown[n] {
			return false
		}
		if p := n.Path(); !p.IsRoot() {
			out = append(out, p)
		}
		return true
	})
	return out
}

// EnableFiltered makes every hidden node whose object name contains term
// visible and returns how many changed. An empty term does nothing.
func (v *Viewer) EnableFiltered(term string) int {
	return v.setVisibleMatching(term, true)
}

// DisableFiltered hides every visible node whose object name contains
// term and returns how many changed. An empty term does nothing.
func (v *Viewer) DisableFiltered(term string) int {
	return v.setVisibleMatching(term, false)
}

func (v *Viewer) setVisibleMatching(term string, visible bool) int {
	term = strings.ToLower(term)
	if term == "" {
		return 0
	}
	var changed []scene.Path
	v.tree.Walk(func(n *scene.Node) bool {
		obj := n.Object()
		if obj.Visible != visible && obj.Name != "" && strings.Contains(strings.ToLower(obj.Name), term) {
			changed = append(changed, n.Path())
		}
		return true
	})
	for _, p := range changed {
		if err := v.setProperty(p, "visible", visible); err != nil {
			v.log.Warn().Err(err).Str("path", p.String()).Msg("Failed to toggle visibility")
		}
	}
	if len(changed) > 0 {
		v.log.Info().Int("count", len(changed)).Bool("visible", visible).Str("term", term).Msg("Toggled filtered objects")
		v.setDirty()
	}
	return len(changed)
}
