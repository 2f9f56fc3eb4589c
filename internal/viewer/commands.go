package viewer

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/scenecast/scenecast/internal/animation"
	"github.com/scenecast/scenecast/internal/animator"
	"github.com/scenecast/scenecast/internal/descriptor"
	"github.com/scenecast/scenecast/internal/dispatcher"
	"github.com/scenecast/scenecast/internal/protocol"
	"github.com/scenecast/scenecast/internal/render"
	"github.com/scenecast/scenecast/internal/scene"
)

// Default capture_image resolution.
const (
	DefaultCaptureWidth  = 1920
	DefaultCaptureHeight = 1080
)

func (v *Viewer) registerHandlers() {
	d := v.disp
	d.Register(protocol.TypeSetTransform, v.handleSetTransform, dispatcher.Logged())
	d.Register(protocol.TypeSetObject, v.handleSetObject, dispatcher.Logged())
	d.Register(protocol.TypeSetProperty, v.handleSetProperty, dispatcher.Logged())
	d.Register(protocol.TypeDelete, v.handleDelete, dispatcher.Logged())
	d.Register(protocol.TypeSetAnimation, v.handleSetAnimation, dispatcher.Logged())
	d.Register(protocol.TypeSetTarget, v.handleSetTarget)
	d.Register(protocol.TypeSetControl, v.handleSetControl, dispatcher.Logged())
	d.Register(protocol.TypeSetControlValue, v.handleSetControlValue)
	d.Register(protocol.TypeDeleteControl, v.handleDeleteControl, dispatcher.Logged())
	d.Register(protocol.TypeCaptureImage, v.handleCaptureImage, dispatcher.Logged())
	d.Register(protocol.TypeSaveImage, v.handleSaveImage, dispatcher.Logged())
}

func (v *Viewer) handleSetTransform(cmd protocol.Command) (any, error) {
	c := cmd.(protocol.SetTransform)
	if !v.tree.SetTransform(c.Path, c.Matrix) {
		v.log.Debug().Str("path", c.Path.String()).Msg("Ignoring degenerate transform")
	}
	return nil, nil
}

func (v *Viewer) handleSetObject(cmd protocol.Command) (any, error) {
	c := cmd.(protocol.SetObject)
	res, err := v.loader.Load(c.Object)
	if err != nil {
		return nil, fmt.Errorf("set_object %s: %w", c.Path, err)
	}
	obj := res.Object
	switch {
	case obj.Geometry != nil:
		if !obj.Geometry.HasNormals() {
			obj.Geometry.ComputeVertexNormals()
		}
	case obj.Kind.IsCamera():
		v.setCamera(obj)
		w, h := v.renderer.Size()
		v.setSize(w, h)
	}
	obj.CastShadow = true
	obj.ReceiveShadow = true
	v.setObject(c.Path, obj)
	return nil, nil
}

// setObject places obj in the object slot below p.
func (v *Viewer) setObject(p scene.Path, obj *scene.Object) {
	v.tree.SetObject(p.Child(ObjectSlot), obj)
}

func (v *Viewer) handleSetProperty(cmd protocol.Command) (any, error) {
	c := cmd.(protocol.SetProperty)
	return nil, v.setProperty(c.Path, c.Property, c.Value)
}

func (v *Viewer) setProperty(p scene.Path, name string, value any) error {
	if err := v.tree.SetProperty(p, name, value); err != nil {
		return err
	}
	if len(p) > 0 && p[0] == backgroundPath[0] {
		v.updateBackground()
	}
	return nil
}

func (v *Viewer) handleDelete(cmd protocol.Command) (any, error) {
	c := cmd.(protocol.Delete)
	return nil, v.tree.Delete(c.Path)
}

func (v *Viewer) handleSetAnimation(cmd protocol.Command) (any, error) {
	c := cmd.(protocol.SetAnimation)
	bindings := make([]animator.Binding, len(c.Animations))
	for i, a := range c.Animations {
		bindings[i] = animator.Binding{Path: a.Path, Clip: a.Clip}
	}
	opts := animator.Options{
		Play:              c.Options.Play,
		LoopMode:          animation.LoopMode(c.Options.LoopMode),
		Repetitions:       c.Options.Repetitions,
		ClampWhenFinished: c.Options.ClampWhenFinished,
	}
	return nil, v.anim.Load(bindings, opts)
}

func (v *Viewer) handleSetTarget(cmd protocol.Command) (any, error) {
	v.target = cmd.(protocol.SetTarget).Target
	return nil, nil
}

func (v *Viewer) handleSetControl(cmd protocol.Command) (any, error) {
	v.controls.SetControl(cmd.(protocol.SetControl))
	return nil, nil
}

func (v *Viewer) handleSetControlValue(cmd protocol.Command) (any, error) {
	c := cmd.(protocol.SetControlValue)
	return nil, v.controls.SetControlValue(c.Name, c.Value, c.InvokeCallback)
}

func (v *Viewer) handleDeleteControl(cmd protocol.Command) (any, error) {
	v.controls.DeleteControl(cmd.(protocol.DeleteControl).Name)
	return nil, nil
}

func (v *Viewer) handleCaptureImage(cmd protocol.Command) (any, error) {
	c := cmd.(protocol.CaptureImage)
	w, h := c.XRes, c.YRes
	if w <= 0 {
		w = DefaultCaptureWidth
	}
	if h <= 0 {
		h = DefaultCaptureHeight
	}
	data, err := v.CaptureImage(w, h)
	if err != nil {
		return nil, err
	}
	return protocol.NewImageReply(descriptor.EncodeDataURI("image/png", data))
}

// CaptureImage renders one frame at w x h and returns it as PNG. The
// output size is restored afterwards.
func (v *Viewer) CaptureImage(w, h int) ([]byte, error) {
	prevW, prevH := v.renderer.Size()
	v.setSize(w, h)
	defer v.setSize(prevW, prevH)

	if err := v.renderer.Render(v.tree.Root().Object(), v.camera); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	v.renders.Add(1)
	img, err := v.renderer.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	img = render.Resize(img, w, h)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	return buf.Bytes(), nil
}

func (v *Viewer) handleSaveImage(protocol.Command) (any, error) {
	_, err := v.SaveImage()
	return nil, err
}

// SaveImage writes a capture at the current output size to the export
// directory and returns its path.
func (v *Viewer) SaveImage() (string, error) {
	w, h := v.renderer.Size()
	data, err := v.CaptureImage(w, h)
	if err != nil {
		return "", err
	}
	path, err := v.exports.WriteFile("image", "png", data)
	if err != nil {
		return "", fmt.Errorf("save image: %w", err)
	}
	v.published("image", path)
	return path, nil
}
