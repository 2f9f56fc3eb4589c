package viewer

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"

	"github.com/h2non/filetype"

	"github.com/scenecast/scenecast/internal/animator"
	"github.com/scenecast/scenecast/internal/descriptor"
)

// WriteScene serializes the whole scene as a descriptor, gzipped when
// compress is set.
func (v *Viewer) WriteScene(w io.Writer, compress bool) error {
	desc := descriptor.Encode(v.tree.Root().Object())
	if !compress {
		return json.NewEncoder(w).Encode(desc)
	}
	gzWriter := gzip.NewWriter(w)
	if err := json.NewEncoder(gzWriter).Encode(desc); err != nil {
		gzWriter.Close()
		return err
	}
	return gzWriter.Close()
}

// SaveScene writes the scene to the export directory and returns the path.
func (v *Viewer) SaveScene() (string, error) {
	ext := "json"
	if v.cfg.CompressScene {
		ext = "json.gz"
	}
	f, err := v.exports.Create("scene", ext)
	if err != nil {
		return "", fmt.Errorf("save scene: %w", err)
	}
	if err := v.WriteScene(f, v.cfg.CompressScene); err != nil {
		f.Close()
		return "", fmt.Errorf("save scene: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("save scene: %w", err)
	}
	v.log.Info().Str("path", f.Name()).Int("nodes", v.tree.Len()).Msg("Scene saved")
	v.published("scene", f.Name())
	return f.Name(), nil
}

// LoadScene replaces the scene with a saved one, plain or gzipped. The
// live animation set is dropped since its targets are disposed. The camera
// is taken from the default camera slot, or recreated.
func (v *Viewer) LoadScene(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("load scene: %w", err)
	}
	if filetype.IsArchive(data) {
		kind, _ := filetype.Match(data)
		if kind.Extension != "gz" {
			return fmt.Errorf("load scene: unsupported archive type %q", kind.Extension)
		}
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("load scene: %w", err)
		}
		defer gz.Close()
		if data, err = io.ReadAll(gz); err != nil {
			return fmt.Errorf("load scene: %w", err)
		}
	}

	res, err := v.loader.LoadJSON(data)
	if err != nil {
		return fmt.Errorf("load scene: %w", err)
	}

	if err := v.anim.Load(nil, animator.Options{}); err != nil {
		return fmt.Errorf("load scene: %w", err)
	}
	v.camera = nil
	v.tree.Reset(res.Object)
	v.updateBackground()

	if n, ok := v.tree.Find(cameraPath.Child(ObjectSlot)); ok && n.Object().Kind.IsCamera() {
		v.setCamera(n.Object())
		w, h := v.renderer.Size()
		v.setSize(w, h)
	} else {
		v.createCamera()
	}
	v.log.Info().Int("nodes", v.tree.Len()).Int("warnings", len(res.Warnings)).Msg("Scene loaded")
	v.setDirty()
	return nil
}
