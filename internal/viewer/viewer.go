// Package viewer ties the scene tree, the command dispatcher, the animator
// and the renderer together and runs the single-goroutine viewer loop.
package viewer

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/rs/zerolog"

	"github.com/scenecast/scenecast/internal/animator"
	"github.com/scenecast/scenecast/internal/descriptor"
	"github.com/scenecast/scenecast/internal/dispatcher"
	"github.com/scenecast/scenecast/internal/encoder"
	"github.com/scenecast/scenecast/internal/logging"
	"github.com/scenecast/scenecast/internal/protocol"
	"github.com/scenecast/scenecast/internal/render"
	"github.com/scenecast/scenecast/internal/scene"
	"github.com/scenecast/scenecast/internal/ui"
)

// Config holds the viewer's output settings.
type Config struct {
	Width  int
	Height int
	// TickRate is the number of loop ticks per second. Zero means 60.
	TickRate int
	// CompressScene gzips saved scenes.
	CompressScene bool
}

// Exports writes recordings and saved files. *encoder.Exporter implements it.
type Exports interface {
	animator.Exporter
	WriteFile(kind, ext string, data []byte) (string, error)
	Create(kind, ext string) (*os.File, error)
}

// Publisher is told about every file the viewer exports.
type Publisher func(kind, path string)

// Status is a point-in-time summary of the viewer, safe to read from any
// goroutine.
type Status struct {
	Nodes      int
	Animator   string
	Time       float64
	Duration   float64
	Message    string
	Messages   int64
	Failed     int64
	Renders    int64
	LastExport string
}

// Viewer owns the scene. Apart from Submit and Status, its methods
// must be called from the goroutine running Run, or before Run starts.
type Viewer struct {
	log      zerolog.Logger
	cfg      Config
	tree     *scene.Tree
	controls ui.Controls
	renderer render.Renderer
	loader   *descriptor.Loader
	anim     *animator.Animator
	disp     *dispatcher.Dispatcher
	exports  Exports
	reply    func([]byte) error
	publish  []Publisher
	cmdLog   *protocol.LogWriter
	animOpts []animator.Option

	camera     *scene.Object
	target     mgl64.Vec3
	background *scene.Texture
	dirty      bool

	actions    chan func()
	messages   atomic.Int64
	failed     atomic.Int64
	renders    atomic.Int64
	lastExport atomic.Pointer[string]
	status     atomic.Pointer[Status]
}

var _ ui.Host = (*Viewer)(nil)

// Option configures a Viewer.
type Option func(*Viewer)

// WithControls attaches a control panel.
func WithControls(c ui.Controls) Option {
	return func(v *Viewer) { v.controls = c }
}

// WithRenderer replaces the headless renderer.
func WithRenderer(r render.Renderer) Option {
	return func(v *Viewer) { v.renderer = r }
}

// WithExports replaces the default exporter writing to the working directory.
func WithExports(e Exports) Option {
	return func(v *Viewer) { v.exports = e }
}

// WithReply sets where replies to the producer are sent.
func WithReply(fn func([]byte) error) Option {
	return func(v *Viewer) { v.reply = fn }
}

// WithPublisher registers fn to be called for every exported file.
func WithPublisher(fn Publisher) Option {
	return func(v *Viewer) { v.publish = append(v.publish, fn) }
}

// WithCommandLog tees every inbound message into w before it is applied.
func WithCommandLog(w *protocol.LogWriter) Option {
	return func(v *Viewer) { v.cmdLog = w }
}

// WithAnimatorOptions passes options through to the animator.
func WithAnimatorOptions(opts ...animator.Option) Option {
	return func(v *Viewer) { v.animOpts = append(v.animOpts, opts...) }
}

// New builds a viewer holding the default scene.
func New(log zerolog.Logger, cfg Config, opts ...Option) (*Viewer, error) {
	if cfg.Width <= 0 {
		cfg.Width = 1280
	}
	if cfg.Height <= 0 {
		cfg.Height = 720
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = 60
	}
	v := &Viewer{
		log:      log,
		cfg:      cfg,
		controls: ui.Nop{},
		actions:  make(chan func(), 64),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.renderer == nil {
		v.renderer = render.NewHeadless(cfg.Width, cfg.Height)
	}
	if v.exports == nil {
		v.exports = encoder.New(encoder.Config{}, log)
	}

	disp, err := dispatcher.New(logging.NewKV(log, "dispatcher"))
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	v.disp = disp
	v.disp.AfterEach(func(protocol.Command) { v.setDirty() })
	v.registerHandlers()

	v.loader = descriptor.NewLoader(log)
	v.tree = scene.NewTree(newRoot(), scene.WithBinder(v.controls))

	animOpts := append([]animator.Option{
		animator.WithDirty(v.setDirty),
		animator.WithStatus(func(msg string) { v.log.Info().Str("status", msg).Msg("Animator") }),
		animator.WithExportHook(v.exported),
	}, v.animOpts...)
	v.anim = animator.New(log, v.tree, v.renderer, v.exports, animOpts...)
	if a, ok := v.controls.(ui.Attachable); ok {
		a.Attach(v, v.setDirty)
	}

	v.buildDefaultScene()
	v.setSize(cfg.Width, cfg.Height)
	v.refreshStatus()
	return v, nil
}

// Tree returns the scene tree.
func (v *Viewer) Tree() *scene.Tree { return v.tree }

// Animator returns the animation controller.
func (v *Viewer) Animator() *animator.Animator { return v.anim }

// Camera returns the active camera.
func (v *Viewer) Camera() *scene.Object { return v.camera }

// Target returns the orbit target set by set_target.
func (v *Viewer) Target() mgl64.Vec3 { return v.target }

// Dirty reports whether a render is pending.
func (v *Viewer) Dirty() bool { return v.dirty }

func (v *Viewer) setDirty() { v.dirty = true }

// Handle applies one inbound wire message and sends its reply, if any.
func (v *Viewer) Handle(msg []byte) {
	v.messages.Add(1)
	if v.cmdLog != nil {
		if err := v.cmdLog.Write(msg); err != nil {
			v.log.Warn().Err(err).Msg("Failed to log inbound message")
		}
	}
	result, err := v.disp.DispatchMessage(msg)
	if err != nil {
		v.failed.Add(1)
		return
	}
	reply, ok := result.([]byte)
	if !ok || reply == nil {
		return
	}
	if v.reply == nil {
		v.log.Debug().Msg("No producer connection, dropping reply")
		return
	}
	if err := v.reply(reply); err != nil {
		v.log.Warn().Err(err).Msg("Failed to send reply")
	}
}

// Apply dispatches an already decoded command.
func (v *Viewer) Apply(cmd protocol.Command) (any, error) {
	return v.disp.Dispatch(cmd)
}

// Tick advances animation and renders when something changed.
func (v *Viewer) Tick() {
	v.anim.Update()
	if v.dirty {
		v.render()
	}
	v.refreshStatus()
}

func (v *Viewer) render() {
	if err := v.renderer.Render(v.tree.Root().Object(), v.camera); err != nil {
		v.log.Error().Err(err).Msg("Render failed")
		return
	}
	v.renders.Add(1)
	v.anim.AfterRender()
	v.dirty = false
}

// Submit queues fn to run on the viewer goroutine. It is how input
// handlers on other goroutines reach the scene.
func (v *Viewer) Submit(fn func()) bool {
	select {
	case v.actions <- fn:
		return true
	default:
		return false
	}
}

// Run drives the viewer until ctx is done or inbound is closed. Messages
// are applied in arrival order between ticks.
func (v *Viewer) Run(ctx context.Context, inbound <-chan []byte) error {
	ticker := time.NewTicker(time.Second / time.Duration(v.cfg.TickRate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			v.Handle(msg)
		case fn := <-v.actions:
			fn()
		case <-ticker.C:
			v.Tick()
		}
	}
}

// Status returns the summary captured at the last tick.
func (v *Viewer) Status() Status {
	if s := v.status.Load(); s != nil {
		return *s
	}
	return Status{}
}

func (v *Viewer) refreshStatus() {
	s := &Status{
		Nodes:    v.tree.Len(),
		Animator: v.anim.State().String(),
		Time:     v.anim.Time(),
		Duration: v.anim.Duration(),
		Message:  v.anim.Status(),
		Messages: v.messages.Load(),
		Failed:   v.failed.Load(),
		Renders:  v.renders.Load(),
	}
	if p := v.lastExport.Load(); p != nil {
		s.LastExport = *p
	}
	v.status.Store(s)
}

func (v *Viewer) exported(res animator.ExportResult) {
	if res.Err != nil {
		return
	}
	kind := "video"
	if res.Format.Sequence() {
		kind = "sequence"
	}
	v.published(kind, res.Path)
}

func (v *Viewer) published(kind, path string) {
	v.lastExport.Store(&path)
	for _, fn := range v.publish {
		fn(kind, path)
	}
}

// setSize resizes the output and keeps the active camera's projection
// matching it.
func (v *Viewer) setSize(w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	if c := v.camera; c != nil && c.Camera != nil {
		if c.Kind == scene.KindOrthographicCamera {
			c.Camera.Right = c.Camera.Left + float64(w)*(c.Camera.Top-c.Camera.Bottom)/float64(h)
		} else {
			c.Camera.Aspect = float64(w) / float64(h)
		}
	}
	v.renderer.SetSize(w, h)
	v.setDirty()
}

// Resize changes the output size.
func (v *Viewer) Resize(w, h int) {
	v.cfg.Width, v.cfg.Height = w, h
	v.setSize(w, h)
}

func (v *Viewer) setCamera(obj *scene.Object) {
	v.camera = obj
	v.setDirty()
}
