package descriptor

import (
	"fmt"

	"github.com/scenecast/scenecast/internal/meshfile"
	"github.com/scenecast/scenecast/internal/scene"
	"github.com/scenecast/scenecast/internal/textraster"
)

type textEntry struct {
	UUID     string `json:"uuid"`
	Text     string `json:"text"`
	FontSize int    `json:"font_size"`
	FontFace string `json:"font_face"`
}

func textTexture(e Entry) (*scene.Texture, error) {
	var te textEntry
	if err := decodeInto(e, &te); err != nil {
		return nil, err
	}
	if te.UUID == "" {
		return nil, fmt.Errorf("%w: texture uuid", ErrMissingField)
	}
	img, err := textraster.Render(textraster.Request{Text: te.Text, FontSize: te.FontSize, FontFace: te.FontFace})
	if err != nil {
		return nil, fmt.Errorf("text texture %s: %w", te.UUID, err)
	}
	tex := scene.NewTexture(img)
	tex.UUID = te.UUID
	tex.Props["text"] = te.Text
	return tex, nil
}

type meshfileEntry struct {
	UUID       string         `json:"uuid"`
	Format     string         `json:"format"`
	Data       any            `json:"data"`
	MtlLibrary string         `json:"mtl_library"`
	Resources  map[string]any `json:"resources"`
}

func (me *meshfileEntry) parse(preserveMaterials bool) (*scene.Geometry, []*scene.Material, error) {
	if me.UUID == "" {
		return nil, nil, fmt.Errorf("%w: uuid", ErrMissingField)
	}
	if !meshfile.Supported(me.Format) {
		return nil, nil, &UnsupportedFormatError{Kind: "mesh", Format: me.Format, UUID: me.UUID}
	}
	data, err := payload(me.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("mesh %s: %w", me.UUID, err)
	}
	res := meshfile.Resources{}
	for name, v := range me.Resources {
		// unreadable resources resolve as missing, like an unknown url
		if raw, err := payload(v); err == nil {
			res[name] = raw
		}
	}

	opts := meshfile.Options{Resources: res}
	if preserveMaterials {
		opts.MaterialLibrary = me.MtlLibrary
	}
	root, err := meshfile.Parse(me.Format, data, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("mesh %s: %w", me.UUID, err)
	}
	g, mats, err := meshfile.Flatten(root, preserveMaterials)
	if err != nil {
		return nil, nil, fmt.Errorf("mesh %s: %w", me.UUID, err)
	}
	g.UUID = me.UUID
	return g, mats, nil
}

func meshfileGeometry(e Entry) (*scene.Geometry, error) {
	var me meshfileEntry
	if err := decodeInto(e, &me); err != nil {
		return nil, err
	}
	g, _, err := me.parse(false)
	return g, err
}

// meshfileObject builds one mesh carrying the flattened geometry and its
// materials, positioned by the generic object fields.
func meshfileObject(e Entry, refs *Refs) (*scene.Object, error) {
	var me meshfileEntry
	if err := decodeInto(e, &me); err != nil {
		return nil, err
	}
	g, mats, err := me.parse(true)
	if err != nil {
		return nil, err
	}
	if len(mats) == 0 {
		mats = []*scene.Material{scene.NewMaterial("MeshPhongMaterial")}
	}
	obj := scene.NewMesh(scene.KindMesh, g, mats...)
	if err := applyObjectFields(obj, e, refs); err != nil {
		return nil, err
	}
	return obj, nil
}
