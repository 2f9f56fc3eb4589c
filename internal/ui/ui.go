// Package ui keeps the viewer's control panel model: per-node property
// controls that follow the scene tree, and named controls defined by the
// producer whose changes are reported back to it.
package ui

import (
	"github.com/scenecast/scenecast/internal/protocol"
	"github.com/scenecast/scenecast/internal/scene"
)

// Controls is the control layer the viewer drives.
type Controls interface {
	scene.Binder
	SetControl(c protocol.SetControl)
	SetControlValue(name string, value any, invoke bool) error
	DeleteControl(name string)
}

// Nop discards every control operation.
type Nop struct{}

func (Nop) Bind(scene.Path, *scene.Object) {}
func (Nop) Unbind(scene.Path) {}
func (Nop) Refresh(scene.Path) {}
func (Nop) SetControl(protocol.SetControl) {}
func (Nop) SetControlValue(string, any, bool) error { return nil }
func (Nop) DeleteControl(string) {}

var (
	_ Controls = Nop{}
	_ Controls = (*Panel)(nil)
)
