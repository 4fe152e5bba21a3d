// File: internal/platform/cdp.go
package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/marionette/internal/config"
)

// CDPAdapter drives a Chrome page over the DevTools protocol as the agent's
// surface: screenshots come from Page.captureScreenshot, actuation goes
// through Input.dispatchMouseEvent / dispatchKeyEvent.
type CDPAdapter struct {
	browserCtx context.Context
	cancels    []context.CancelFunc
	logger     *zap.Logger
	width      int
	height     int
}

var _ Adapter = (*CDPAdapter)(nil)

// NewCDPAdapter launches a browser, pins the viewport to the configured size
// and navigates to the start URL (about:blank when unset).
func NewCDPAdapter(ctx context.Context, cfg config.SurfaceConfig, logger *zap.Logger) (*CDPAdapter, error) {
	width, height := cfg.Width, cfg.Height
	if width <= 0 || height <= 0 {
		width, height = 1280, 720
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.WindowSize(width, height),
	)
	if cfg.Headless {
		allocOpts = append(allocOpts, chromedp.Headless)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	a := &CDPAdapter{
		browserCtx: browserCtx,
		cancels:    []context.CancelFunc{browserCancel, allocCancel},
		logger:     logger.Named("cdp_surface"),
		width:      width,
		height:     height,
	}

	startURL := cfg.StartURL
	if startURL == "" {
		startURL = "about:blank"
	}

	if err := chromedp.Run(browserCtx,
		emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1.0, false),
		chromedp.Navigate(startURL),
	); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to start CDP surface: %w", err)
	}

	a.logger.Info("CDP surface ready",
		zap.String("start_url", startURL),
		zap.Int("width", width),
		zap.Int("height", height))
	return a, nil
}

// Close tears down the browser. Safe to call more than once.
func (a *CDPAdapter) Close() {
	for _, cancel := range a.cancels {
		cancel()
	}
}

// run executes chromedp actions against the browser with a bounded timeout,
// honoring the caller's context.
func (a *CDPAdapter) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(a.browserCtx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(opCtx, actions...) }()

	select {
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (a *CDPAdapter) Capture(ctx context.Context) (*Screenshot, error) {
	var buf []byte
	if err := a.run(ctx, 15*time.Second, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return &Screenshot{PNG: buf, Width: a.width, Height: a.height}, nil
}

func (a *CDPAdapter) ScreenSize(ctx context.Context) (int, int, error) {
	return a.width, a.height, nil
}

func (a *CDPAdapter) Move(ctx context.Context, x, y int) error {
	p := input.DispatchMouseEvent(input.MouseMoved, float64(x), float64(y)).
		WithButton(input.None)
	return a.run(ctx, 10*time.Second, p)
}

func (a *CDPAdapter) Click(ctx context.Context, x, y, clicks int) error {
	if clicks < 1 {
		clicks = 1
	}
	fx, fy := float64(x), float64(y)

	actions := []chromedp.Action{
		input.DispatchMouseEvent(input.MouseMoved, fx, fy).WithButton(input.None),
	}
	for i := 1; i <= clicks; i++ {
		actions = append(actions,
			input.DispatchMouseEvent(input.MousePressed, fx, fy).
				WithButton(input.Left).
				WithButtons(1).
				WithClickCount(int64(i)),
			input.DispatchMouseEvent(input.MouseReleased, fx, fy).
				WithButton(input.Left).
				WithClickCount(int64(i)),
		)
	}
	return a.run(ctx, 10*time.Second, actions...)
}

func (a *CDPAdapter) Drag(ctx context.Context, startX, startY, endX, endY int) error {
	sx, sy := float64(startX), float64(startY)
	ex, ey := float64(endX), float64(endY)

	// A handful of intermediate moves so drop targets that track dragover
	// fire; the pressed-buttons bitmask must stay set while moving.
	const hops = 8
	actions := []chromedp.Action{
		input.DispatchMouseEvent(input.MouseMoved, sx, sy).WithButton(input.None),
		input.DispatchMouseEvent(input.MousePressed, sx, sy).
			WithButton(input.Left).
			WithButtons(1).
			WithClickCount(1),
	}
	for i := 1; i <= hops; i++ {
		t := float64(i) / hops
		actions = append(actions,
			input.DispatchMouseEvent(input.MouseMoved, sx+(ex-sx)*t, sy+(ey-sy)*t).
				WithButton(input.Left).
				WithButtons(1),
		)
	}
	actions = append(actions,
		input.DispatchMouseEvent(input.MouseReleased, ex, ey).
			WithButton(input.Left).
			WithClickCount(1),
	)
	return a.run(ctx, 15*time.Second, actions...)
}

func (a *CDPAdapter) Scroll(ctx context.Context, dx, dy int) error {
	// Wheel events land at the viewport center.
	p := input.DispatchMouseEvent(input.MouseWheel, float64(a.width)/2, float64(a.height)/2).
		WithButton(input.None).
		WithDeltaX(float64(dx)).
		WithDeltaY(float64(dy))
	return a.run(ctx, 10*time.Second, p)
}

func (a *CDPAdapter) TypeText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	return a.run(ctx, 15*time.Second, input.InsertText(text))
}

// keyAliases maps planner-friendly key names onto chromedp's key constants.
// Unrecognized names pass through unchanged, which covers single characters.
var keyAliases = map[string]string{
	"enter":     kb.Enter,
	"return":    kb.Enter,
	"tab":       kb.Tab,
	"esc":       kb.Escape,
	"escape":    kb.Escape,
	"backspace": kb.Backspace,
	"delete":    kb.Delete,
	"space":     " ",
	"up":        kb.ArrowUp,
	"down":      kb.ArrowDown,
	"left":      kb.ArrowLeft,
	"right":     kb.ArrowRight,
	"home":      kb.Home,
	"end":       kb.End,
	"pageup":    kb.PageUp,
	"pagedown":  kb.PageDown,
}

// modifierFlags maps modifier key names onto the CDP modifier bitmask.
var modifierFlags = map[string]input.Modifier{
	"ctrl":    input.ModifierCtrl,
	"control": input.ModifierCtrl,
	"alt":     input.ModifierAlt,
	"shift":   input.ModifierShift,
	"meta":    input.ModifierMeta,
	"cmd":     input.ModifierMeta,
	"super":   input.ModifierMeta,
}

// Keypress dispatches a key combination: leading modifier names fold into the
// modifier bitmask, the final key gets keyDown/keyUp. holdMillis keeps the key
// down between the two events; repeat replays the whole combination.
func (a *CDPAdapter) Keypress(ctx context.Context, keys []string, repeat int, holdMillis int) error {
	if len(keys) == 0 {
		return nil
	}
	if repeat < 1 {
		repeat = 1
	}

	var modifiers input.Modifier
	key := ""
	for _, name := range keys {
		if flag, ok := modifierFlags[normalizeKey(name)]; ok {
			modifiers |= flag
			continue
		}
		key = name
	}
	if key == "" {
		// A pure modifier chord (e.g. just "ctrl") has no main key to press.
		return nil
	}
	if alias, ok := keyAliases[normalizeKey(key)]; ok {
		key = alias
	}

	hold := time.Duration(holdMillis) * time.Millisecond
	for i := 0; i < repeat; i++ {
		down := input.DispatchKeyEvent(input.KeyDown).
			WithModifiers(modifiers).
			WithKey(key)
		up := input.DispatchKeyEvent(input.KeyUp).
			WithModifiers(modifiers).
			WithKey(key)

		if err := a.run(ctx, 5*time.Second, down); err != nil {
			return err
		}
		if hold > 0 {
			if err := sleepCtx(ctx, hold); err != nil {
				return err
			}
		}
		if err := a.run(ctx, 5*time.Second, up); err != nil {
			return err
		}
	}
	return nil
}

func normalizeKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
