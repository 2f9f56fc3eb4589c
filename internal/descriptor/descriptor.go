// Package descriptor turns portable object descriptors (the three.js JSON
// object format plus the mesh-file and text extensions) into scene objects.
package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"

	"github.com/rs/zerolog"

	"github.com/scenecast/scenecast/internal/scene"
)

// Extension type tags.
const (
	TypeText             = "_text"
	TypeMeshfile         = "_meshfile"
	TypeMeshfileGeometry = "_meshfile_geometry"
	TypeMeshfileObject   = "_meshfile_object"
)

// Entry is one raw descriptor entry as decoded from JSON or msgpack.
type Entry = map[string]any

var (
	// ErrMissingField marks descriptors lacking a required field. It aborts
	// the load.
	ErrMissingField = errors.New("missing required field")
	// ErrMalformed marks structurally broken values such as a transform
	// matrix of the wrong size. It aborts the load.
	ErrMalformed = errors.New("malformed descriptor")
)

// UnsupportedFormatError reports an entry whose format or type has no
// decoder. The entry is skipped and the load continues.
type UnsupportedFormatError struct {
	Kind   string
	Format string
	UUID   string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported %s format %q (uuid %s)", e.Kind, e.Format, e.UUID)
}

// fatal reports whether err must abort a load rather than skip an entry.
func fatal(err error) bool {
	return errors.Is(err, ErrMissingField) || errors.Is(err, ErrMalformed)
}

// Refs is the table of already-decoded resources that later stages
// resolve UUID references against. Non-fatal problems are collected in it.
type Refs struct {
	Images     map[string]image.Image
	Textures   map[string]*scene.Texture
	Geometries map[string]*scene.Geometry
	Materials  map[string]*scene.Material

	warnings []error
}

func newRefs() *Refs {
	return &Refs{
		Images:     map[string]image.Image{},
		Textures:   map[string]*scene.Texture{},
		Geometries: map[string]*scene.Geometry{},
		Materials:  map[string]*scene.Material{},
	}
}

// Warn records a non-fatal problem.
func (r *Refs) Warn(err error) { r.warnings = append(r.warnings, err) }

// Decoder is the generic decoder used for every entry no extension claims.
// Object decodes a single entry; the loader handles children.
type Decoder interface {
	Images(entries []Entry, refs *Refs) (map[string]image.Image, error)
	Textures(entries []Entry, refs *Refs) (map[string]*scene.Texture, error)
	Geometries(entries []Entry, refs *Refs) (map[string]*scene.Geometry, error)
	Materials(entries []Entry, refs *Refs) (map[string]*scene.Material, error)
	Object(entry Entry, refs *Refs) (*scene.Object, error)
}

// Extension handlers. Each receives one entry whose type tag it claims.
type (
	TextureHandler  func(e Entry) (*scene.Texture, error)
	GeometryHandler func(e Entry) (*scene.Geometry, error)
	ObjectHandler   func(e Entry, refs *Refs) (*scene.Object, error)
)

// Loader decodes descriptors by consulting its extension strategy tables
// before the generic decoder.
type Loader struct {
	log        zerolog.Logger
	generic    Decoder
	textures   map[string]TextureHandler
	geometries map[string]GeometryHandler
	objects    map[string]ObjectHandler
}

// Option configures a Loader.
type Option func(*Loader)

// WithDecoder replaces the generic fallback decoder.
func WithDecoder(d Decoder) Option {
	return func(l *Loader) { l.generic = d }
}

// WithTextureHandler registers a texture extension.
func WithTextureHandler(tag string, h TextureHandler) Option {
	return func(l *Loader) { l.textures[tag] = h }
}

// WithGeometryHandler registers a geometry extension.
func WithGeometryHandler(tag string, h GeometryHandler) Option {
	return func(l *Loader) { l.geometries[tag] = h }
}

// WithObjectHandler registers an object extension.
func WithObjectHandler(tag string, h ObjectHandler) Option {
	return func(l *Loader) { l.objects[tag] = h }
}

// NewLoader returns a loader with the built-in extensions registered.
func NewLoader(log zerolog.Logger, opts ...Option) *Loader {
	l := &Loader{
		log:     log,
		generic: Generic{},
		textures: map[string]TextureHandler{
			TypeText: textTexture,
		},
		geometries: map[string]GeometryHandler{
			TypeMeshfileGeometry: meshfileGeometry,
		},
		objects: map[string]ObjectHandler{
			TypeMeshfileObject: meshfileObject,
		},
	}
	l.geometries[TypeMeshfile] = func(e Entry) (*scene.Geometry, error) {
		l.log.Warn().Str("uuid", str(e, "uuid")).
			Msg("_meshfile is deprecated, use _meshfile_geometry for geometries and _meshfile_object for objects")
		return meshfileGeometry(e)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Result is a decoded object tree plus the problems that were skipped.
type Result struct {
	Object   *scene.Object
	Warnings []error
}

// LoadJSON decodes a JSON descriptor.
func (l *Loader) LoadJSON(data []byte) (*Result, error) {
	var desc Entry
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return l.Load(desc)
}

// Load decodes a descriptor into an object tree. Unsupported entries are
// reported in Result.Warnings and skipped; missing required fields and
// malformed values abort with an error.
func (l *Loader) Load(desc Entry) (*Result, error) {
	root, ok := desc["object"].(Entry)
	if !ok {
		return nil, fmt.Errorf("%w: object", ErrMissingField)
	}
	refs := newRefs()

	images, err := l.generic.Images(entries(desc, "images"), refs)
	if err != nil {
		return nil, fmt.Errorf("images: %w", err)
	}
	refs.Images = images

	refs.Textures, err = delegate(refs, entries(desc, "textures"), l.textures,
		func(rest []Entry) (map[string]*scene.Texture, error) { return l.generic.Textures(rest, refs) })
	if err != nil {
		return nil, fmt.Errorf("textures: %w", err)
	}

	refs.Geometries, err = delegate(refs, entries(desc, "geometries"), l.geometries,
		func(rest []Entry) (map[string]*scene.Geometry, error) { return l.generic.Geometries(rest, refs) })
	if err != nil {
		return nil, fmt.Errorf("geometries: %w", err)
	}

	refs.Materials, err = l.generic.Materials(entries(desc, "materials"), refs)
	if err != nil {
		return nil, fmt.Errorf("materials: %w", err)
	}

	obj, err := l.object(root, refs, 0)
	if err != nil {
		return nil, fmt.Errorf("object: %w", err)
	}
	for _, w := range refs.warnings {
		l.log.Warn().Err(w).Msg("descriptor entry skipped")
	}
	return &Result{Object: obj, Warnings: refs.warnings}, nil
}

// delegate partitions entries into those an extension handler claims and
// the rest, decodes both groups and merges the results. Extension results
// win on UUID collisions.
func delegate[T any, H ~func(Entry) (T, error)](refs *Refs, list []Entry, handlers map[string]H, base func([]Entry) (map[string]T, error)) (map[string]T, error) {
	out := map[string]T{}
	var rest []Entry
	for _, e := range list {
		h, ok := handlers[str(e, "type")]
		if !ok {
			rest = append(rest, e)
			continue
		}
		v, err := h(e)
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			refs.Warn(err)
			continue
		}
		out[str(e, "uuid")] = v
	}
	generic, err := base(rest)
	if err != nil {
		return nil, err
	}
	for id, v := range generic {
		if _, claimed := out[id]; !claimed {
			out[id] = v
		}
	}
	return out, nil
}

const maxDepth = 256

func (l *Loader) object(e Entry, refs *Refs, depth int) (*scene.Object, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: object nesting deeper than %d", ErrMalformed, maxDepth)
	}
	var obj *scene.Object
	var err error
	if h, ok := l.objects[str(e, "type")]; ok {
		obj, err = h(e, refs)
	} else {
		obj, err = l.generic.Object(e, refs)
	}
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		// keep the slot addressable so children still load
		refs.Warn(err)
		obj = scene.NewGroup(str(e, "name"))
	}

	for _, c := range entries(e, "children") {
		child, err := l.object(c, refs, depth+1)
		if err != nil {
			return nil, err
		}
		obj.Add(child)
	}
	return obj, nil
}

func entries(e Entry, key string) []Entry {
	list, _ := e[key].([]any)
	out := make([]Entry, 0, len(list))
	for _, v := range list {
		if m, ok := v.(Entry); ok {
			out = append(out, m)
		}
	}
	return out
}

func str(e Entry, key string) string {
	s, _ := e[key].(string)
	return s
}
