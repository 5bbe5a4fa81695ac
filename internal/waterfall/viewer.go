package waterfall

import (
	"context"
	"image"
	"time"

	"github.com/roman-kulish/radio-waterfall/internal/spectrum"
)

// Viewer is the surface the UI layer talks to: it ties a session, its
// acquisition loop and a renderer together.
type Viewer struct {
	session  *Session
	loop     *Loop
	renderer *Renderer
}

// NewViewer creates a viewer around an existing session. The loop is created
// stopped; Activate starts it.
func NewViewer(session *Session, provider Provider, renderer *Renderer, options ...func(l *Loop)) *Viewer {
	return &Viewer{
		session:  session,
		loop:     NewLoop(provider, session, options...),
		renderer: renderer,
	}
}

// Activate starts acquisition, typically when the view becomes visible
func (v *Viewer) Activate(ctx context.Context) error {
	return v.loop.Start(ctx)
}

// Deactivate stops acquisition and releases spectrum mode
func (v *Viewer) Deactivate() {
	v.loop.Stop()
}

// Active returns true while acquisition is running
func (v *Viewer) Active() bool {
	return v.loop.IsRunning()
}

// Session returns the underlying session
func (v *Viewer) Session() *Session {
	return v.session
}

// Status returns the acquisition status
func (v *Viewer) Status() Status {
	return v.session.Status()
}

// Range returns the current color range
func (v *Viewer) Range() Range {
	return v.session.Range()
}

// History returns the rows, oldest first
func (v *Viewer) History() []*spectrum.Row {
	return v.session.History()
}

// Settings returns a copy of the runtime configuration
func (v *Viewer) Settings() Settings {
	return v.session.Settings()
}

// Reset clears the history, the color range is kept
func (v *Viewer) Reset() {
	v.session.Reset()
}

// SetIntegrationTime sets how long the provider integrates each row
func (v *Viewer) SetIntegrationTime(d time.Duration) error {
	return v.session.SetIntegrationTime(d)
}

// SetMaxRows sets the history capacity, dropping the oldest rows at once
func (v *Viewer) SetMaxRows(n int) error {
	return v.session.SetMaxRows(n)
}

// SetDBSmoothing sets the range smoothing factor in [0, 1]
func (v *Viewer) SetDBSmoothing(alpha float64) error {
	return v.session.SetDBSmoothing(alpha)
}

// SetDBMargin sets the headroom added around each row's extremes
func (v *Viewer) SetDBMargin(db float64) error {
	return v.session.SetDBMargin(db)
}

// SetMinRangeDB sets the narrowest allowed color range and applies it now
func (v *Viewer) SetMinRangeDB(db float64) error {
	return v.session.SetMinRangeDB(db)
}

// SetSpan sets the requested span in MHz
func (v *Viewer) SetSpan(mhz float64) error {
	return v.session.SetSpan(mhz)
}

// SetCenterFrequency retunes to mhz. History and range are kept.
func (v *Viewer) SetCenterFrequency(mhz float64) error {
	return v.session.SetCenterFrequency(mhz)
}

// SetUpdateInterval changes the tick interval and reschedules a running loop
func (v *Viewer) SetUpdateInterval(d time.Duration) error {
	if err := v.session.SetUpdateInterval(d); err != nil {
		return err
	}
	v.loop.Reschedule(d)
	return nil
}

// Subscribe forwards to Session.Subscribe
func (v *Viewer) Subscribe(buffer int) (<-chan Update, func()) {
	return v.session.Subscribe(buffer)
}

// Render draws the current state onto a new raster of the given size
func (v *Viewer) Render(width, height int) (*image.RGBA, error) {
	return v.renderer.Render(v.session.Frame(), image.Pt(width, height))
}
