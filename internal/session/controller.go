// Package session owns the lifecycle of the external recorder process:
// it resolves configuration, coordinates selection, builds the command,
// supervises the process, and reports transitions to subscribers.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"wayrec/internal/config"
	"wayrec/internal/logger"
	"wayrec/internal/recorder"
	"wayrec/internal/selector"
)

var (
	// ErrAlreadyActive is returned when a start is requested while a
	// session is in flight; the controller is single-session only.
	ErrAlreadyActive = errors.New("recording already in progress")
	// ErrNotActive is returned for a stop request with nothing to stop
	ErrNotActive = errors.New("no recording in progress")
)

// Notifier receives desktop-notification hooks; nil disables them
type Notifier interface {
	RecordingStarted(target string)
	RecordingComplete(outputPath string)
	RecordingFailed(reason string)
}

// Options tune the controller's supervision timing
type Options struct {
	// GracePeriod bounds the wait for a graceful stop before the
	// recorder is killed (default 5s)
	GracePeriod time.Duration
	// SettleWindow is how long a freshly spawned recorder is watched
	// for immediate death before the session counts as recording
	// (default 500ms)
	SettleWindow time.Duration
	Notifier     Notifier
}

const (
	defaultGracePeriod  = 5 * time.Second
	defaultSettleWindow = 500 * time.Millisecond
)

// Controller is the recording session state machine. One instance exists
// per application; it exclusively owns the recorder process handle.
type Controller struct {
	store   *config.Store
	builder *recorder.Builder
	opts    Options

	mu           sync.Mutex
	status       Status
	proc         *os.Process
	waitDone     chan struct{}
	cancelSelect context.CancelFunc
	stopRequest  bool

	lmu       sync.Mutex
	listeners []chan Event
}

// New creates a controller around the given store
func New(store *config.Store, opts Options) *Controller {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = defaultGracePeriod
	}
	if opts.SettleWindow <= 0 {
		opts.SettleWindow = defaultSettleWindow
	}
	return &Controller{
		store:   store,
		builder: recorder.NewBuilder(nil),
		opts:    opts,
		status:  Status{State: StateIdle},
	}
}

// Status returns the current session snapshot
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Settings returns the current configuration snapshot
func (c *Controller) Settings() config.Settings {
	return c.store.Current()
}

// Subscribe registers an event channel. Events for a session arrive in
// transition order.
func (c *Controller) Subscribe() chan Event {
	ch := make(chan Event, 64)
	c.lmu.Lock()
	c.listeners = append(c.listeners, ch)
	c.lmu.Unlock()
	return ch
}

// Unsubscribe removes and closes an event channel
func (c *Controller) Unsubscribe(ch chan Event) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	for i, l := range c.listeners {
		if l == ch {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

func (c *Controller) broadcast(ev Event) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	for _, ch := range c.listeners {
		select {
		case ch <- ev:
		default:
			logger.WithComponent("session").Warn().
				Str("event", string(ev.Type)).
				Msg("dropping event for slow subscriber")
		}
	}
}

// setState updates the status and emits the transition (caller must not
// hold the mutex).
func (c *Controller) setState(status Status) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	c.broadcast(Event{
		Type:       EventStateChanged,
		State:      status.State,
		Reason:     status.Reason,
		OutputPath: status.OutputPath,
		WindowID:   status.WindowID,
	})
}

func (c *Controller) emitError(kind ErrorKind, message string) {
	c.broadcast(Event{Type: EventError, Kind: kind, Message: message})
}

// Start begins a recording session with the given capture mode; an empty
// mode uses the configured one. It returns immediately, with the session
// progressing in the background.
func (c *Controller) Start(mode config.CaptureMode) error {
	cfg := c.store.Current()
	if mode != "" {
		cfg.CaptureMode = mode
	}
	if !cfg.CaptureMode.Valid() {
		return &config.ValidationError{Field: "capture_mode", Reason: "must be full-screen, region or window"}
	}

	c.mu.Lock()
	if c.status.State != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyActive
	}

	c.stopRequest = false
	c.waitDone = make(chan struct{})

	var ctx context.Context
	if cfg.CaptureMode.NeedsSelection() {
		ctx, c.cancelSelect = context.WithCancel(context.Background())
		c.status = Status{State: StateSelecting}
	} else {
		ctx = context.Background()
		c.status = Status{State: StateStarting}
	}
	first := c.status
	c.mu.Unlock()

	c.broadcast(Event{Type: EventStateChanged, State: first.State})
	go c.run(ctx, cfg)
	return nil
}

// Stop requests the end of the current session. During selection it
// kills the selector; during recording it starts the graceful stop path.
func (c *Controller) Stop() error {
	c.mu.Lock()
	switch c.status.State {
	case StateSelecting:
		cancel := c.cancelSelect
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	case StateStarting:
		// The recorder is still settling; flag the stop and let the
		// supervision loop shut it down once the process is up.
		c.stopRequest = true
		c.mu.Unlock()
		return nil
	case StateRecording:
		c.stopRequest = true
		c.status.State = StateStopping
		status := c.status
		proc := c.proc
		done := c.waitDone
		c.mu.Unlock()

		c.broadcast(Event{
			Type:       EventStateChanged,
			State:      status.State,
			OutputPath: status.OutputPath,
			WindowID:   status.WindowID,
		})
		c.terminate(proc, done)
		return nil
	default:
		c.mu.Unlock()
		return ErrNotActive
	}
}

// terminate signals a graceful stop and escalates to a kill when the
// recorder outlives the grace period.
func (c *Controller) terminate(proc *os.Process, done chan struct{}) {
	if proc == nil {
		return
	}
	log := logger.WithComponent("session")

	// Signal the whole process group so children the recorder forked
	// see the stop as well.
	if err := syscall.Kill(-proc.Pid, syscall.SIGINT); err != nil {
		log.Warn().Err(err).Msg("failed to signal recorder, killing")
		sweepProcessGroup(proc.Pid)
		return
	}

	go func() {
		select {
		case <-done:
		case <-time.After(c.opts.GracePeriod):
			log.Warn().Dur("grace", c.opts.GracePeriod).
				Msg("recorder ignored graceful stop, killing")
			sweepProcessGroup(proc.Pid)
		}
	}()
}

// Close cancels any in-flight selection, stops a running recording, and
// waits for the session to wind down. Used on daemon shutdown.
func (c *Controller) Close() {
	c.mu.Lock()
	state := c.status.State
	done := c.waitDone
	c.mu.Unlock()

	if state == StateIdle {
		return
	}
	if err := c.Stop(); err != nil && !errors.Is(err, ErrNotActive) {
		logger.WithComponent("session").Warn().Err(err).Msg("stop on shutdown failed")
	}
	if done != nil && (state == StateRecording || state == StateStopping || state == StateStarting) {
		select {
		case <-done:
		case <-time.After(c.opts.GracePeriod + 2*time.Second):
		}
	}
}

// run drives one session from selection to termination
func (c *Controller) run(ctx context.Context, cfg config.Settings) {
	log := logger.WithComponent("session")

	var sel *selector.Result
	if cfg.CaptureMode.NeedsSelection() {
		res, err := selector.New(cfg.SelectorBinary).Select(ctx, cfg.CaptureMode)

		c.mu.Lock()
		c.cancelSelect = nil
		c.mu.Unlock()

		if err != nil {
			log.Warn().Err(err).Msg("selection failed")
			c.emitError(ErrorSelectionFailed, err.Error())
			c.finish(Status{State: StateIdle, Reason: "selection failed"})
			return
		}
		if res.Cancelled {
			// Not a failure: no process was ever touched
			log.Debug().Msg("selection cancelled")
			c.finish(Status{State: StateIdle, Reason: "selection cancelled"})
			return
		}
		sel = &res
		c.setState(Status{State: StateStarting})
	}

	// The output directory must exist before the command is built:
	// building validates it, and first recordings create it.
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		msg := fmt.Sprintf("cannot create output directory: %v", err)
		c.emitError(ErrorSpawn, msg)
		c.fail(msg)
		return
	}

	spec, err := c.builder.Build(cfg, sel)
	if err != nil {
		c.emitError(ErrorValidation, err.Error())
		c.fail(err.Error())
		return
	}

	stderr := newTailBuffer(64 * 1024)
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Stderr = stderr
	// Own process group: stop signals must reach children the recorder
	// forks, and Wait must not hang on a pipe a straggler holds open.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = time.Second

	log.Info().Str("recorder", spec.Path).Strs("args", spec.Args).Msg("spawning recorder")
	if err := cmd.Start(); err != nil {
		// Missing binary or permission problem: reported, never
		// retried automatically.
		msg := fmt.Sprintf("cannot start recorder: %v", err)
		c.emitError(ErrorSpawn, msg)
		c.fail(msg)
		c.notifyFailed(msg)
		return
	}

	c.mu.Lock()
	c.proc = cmd.Process
	done := c.waitDone
	c.mu.Unlock()

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
		close(done)
	}()

	// A recorder that dies within the settle window never started: the
	// session fails instead of completing an empty recording.
	select {
	case err := <-waitCh:
		sweepProcessGroup(cmd.Process.Pid)
		msg := startFailureReason(err, stderr.String())
		log.Error().Str("reason", msg).Msg("recorder died immediately")
		c.clearProc()
		c.emitError(ErrorSpawn, msg)
		c.fail(msg)
		c.notifyFailed(msg)
		return
	case <-time.After(c.opts.SettleWindow):
	}

	c.mu.Lock()
	stopEarly := c.stopRequest
	c.mu.Unlock()

	if stopEarly {
		// Stop arrived during the settle window; go straight to the
		// graceful shutdown.
		c.setState(Status{State: StateStopping, OutputPath: spec.OutputPath, WindowID: spec.WindowID})
		c.terminate(cmd.Process, done)
	} else {
		recording := Status{
			State:      StateRecording,
			OutputPath: spec.OutputPath,
			WindowID:   spec.WindowID,
			StartedAt:  time.Now(),
		}
		c.setState(recording)
		log.Info().Str("output", spec.OutputPath).Int("pid", cmd.Process.Pid).Msg("recording started")
		if c.opts.Notifier != nil {
			c.opts.Notifier.RecordingStarted(targetLabel(cfg.CaptureMode, sel))
		}
	}

	err = <-waitCh
	sweepProcessGroup(cmd.Process.Pid)

	c.mu.Lock()
	stopRequested := c.stopRequest
	c.proc = nil
	c.mu.Unlock()

	if err != nil && errors.Is(err, exec.ErrWaitDelay) {
		// The recorder exited cleanly; a forked child merely held the
		// output pipes open past it.
		err = nil
	}

	if err == nil || stopRequested {
		if err != nil {
			// Forced kill after the grace period: the stop was
			// explicit, so the recording still counts.
			log.Warn().Err(err).Msg("recorder did not exit cleanly on stop")
		}
		c.setState(Status{State: StateCompleted, OutputPath: spec.OutputPath, WindowID: spec.WindowID})
		log.Info().Str("output", spec.OutputPath).Msg("recording completed")
		if c.opts.Notifier != nil {
			c.opts.Notifier.RecordingComplete(spec.OutputPath)
		}
		c.finish(Status{State: StateIdle})
		return
	}

	// Unexpected death: report with whatever diagnostics the recorder
	// left behind; the partial file stays in place for inspection.
	reason := startFailureReason(err, stderr.String())
	log.Error().Str("reason", reason).Msg("recorder exited unexpectedly")
	c.emitError(ErrorRuntime, reason)
	c.fail(reason)
	c.notifyFailed(reason)
}

// fail reports a failed session and returns the controller to idle
func (c *Controller) fail(reason string) {
	c.setState(Status{State: StateFailed, Reason: reason})
	c.finish(Status{State: StateIdle})
}

// finish parks the controller back in idle (or the given terminal state)
func (c *Controller) finish(status Status) {
	c.mu.Lock()
	c.cancelSelect = nil
	c.proc = nil
	c.mu.Unlock()
	c.setState(status)
}

// sweepProcessGroup kills anything left in the recorder's process group
// so a finished session never leaks helpers the recorder forked.
func sweepProcessGroup(pid int) {
	syscall.Kill(-pid, syscall.SIGKILL)
}

func (c *Controller) clearProc() {
	c.mu.Lock()
	c.proc = nil
	c.mu.Unlock()
}

func (c *Controller) notifyFailed(reason string) {
	if c.opts.Notifier != nil {
		c.opts.Notifier.RecordingFailed(reason)
	}
}

// SaveSettings validates and persists new settings, emitting a
// configurationChanged event on success and a typed error event on
// failure. The in-memory configuration stays usable when persisting
// fails.
func (c *Controller) SaveSettings(s config.Settings) error {
	if err := c.store.Save(s); err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			c.emitError(ErrorValidation, err.Error())
		} else {
			c.emitError(ErrorPersist, err.Error())
		}
		return err
	}
	saved := c.store.Current()
	c.broadcast(Event{Type: EventConfigChanged, Settings: &saved})
	return nil
}

// ResetSettings restores and persists the built-in defaults
func (c *Controller) ResetSettings() (config.Settings, error) {
	defaults, err := c.store.Reset()
	if err != nil {
		c.emitError(ErrorPersist, err.Error())
		return defaults, err
	}
	c.broadcast(Event{Type: EventConfigChanged, Settings: &defaults})
	return defaults, nil
}

// ConfigReloaded announces settings that changed outside the controller
// (file watcher).
func (c *Controller) ConfigReloaded(s config.Settings) {
	c.broadcast(Event{Type: EventConfigChanged, Settings: &s})
}

func startFailureReason(err error, stderr string) string {
	diag := strings.TrimSpace(stderr)
	if diag == "" {
		if err != nil {
			return err.Error()
		}
		return "recorder exited without diagnostics"
	}
	// Keep the tail: the recorder's last lines carry the actual error
	if idx := strings.LastIndexByte(strings.TrimRight(diag, "\n"), '\n'); idx >= 0 && len(diag) > 512 {
		diag = diag[idx+1:]
	}
	return diag
}

func targetLabel(mode config.CaptureMode, sel *selector.Result) string {
	switch mode {
	case config.CaptureRegion:
		if sel != nil {
			return "region " + sel.Geometry.String()
		}
		return "region"
	case config.CaptureWindow:
		if sel != nil && sel.WindowID != "" {
			return "window " + sel.WindowID
		}
		return "window"
	default:
		return "full screen"
	}
}

// tailBuffer keeps the last max bytes written to it; the recorder's
// stderr can be unbounded.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
