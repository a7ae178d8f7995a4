package notify

import (
	"context"
	"errors"
	"os"
	"runtime"
	"strings"

	"github.com/gen2brain/beeep"

	"countdown/internal/goerror"
	appLog "countdown/internal/log"
)

// Sink kinds accepted by DefaultSink (config key notify.sink).
const (
	SinkAuto    = "auto"
	SinkDesktop = "desktop"
	SinkLog     = "log"
)

// Sink delivers a notification to the user. Implementations may block; the
// dispatcher never cancels an in-flight Notify.
type Sink interface {
	Notify(ctx context.Context, title, message string) error
}

// desktopSink shows a native desktop notification through beeep
// (libnotify/D-Bus on Linux, toast on Windows, osascript on macOS).
type desktopSink struct{}

// logSink writes notifications to the application log. It is used on
// headless hosts and as a fallback when no desktop session is available.
type logSink struct{}

// NewDesktopSink constructs a desktop notification Sink. appName is shown as
// the notification source where the platform supports it.
func NewDesktopSink(appName string) Sink {
	if appName != "" {
		beeep.AppName = appName
	}
	return &desktopSink{}
}

// NewLogSink constructs a Sink that only logs.
func NewLogSink() Sink {
	return &logSink{}
}

func (d *desktopSink) Notify(_ context.Context, title, message string) error {
	return beeep.Notify(title, message, "")
}

func (l *logSink) Notify(_ context.Context, title, message string) error {
	appLog.Info("notification", "title", title, "message", message)
	return nil
}

// DefaultSink returns the Sink that should be used by the main program.
//
// "desktop" always returns the desktop sink, "log" the log sink. "auto" (and
// anything else) picks the desktop sink when a graphical session looks
// available and falls back to the log sink otherwise.
func DefaultSink(kind, appName string) Sink {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case SinkDesktop:
		return NewDesktopSink(appName)
	case SinkLog:
		return NewLogSink()
	}

	if !hasDesktopSession() {
		appLog.Info("no desktop session detected, notifications go to the log")
		return NewLogSink()
	}
	return NewDesktopSink(appName)
}

// hasDesktopSession reports whether a notification daemon is plausibly
// reachable. Only Linux and the BSDs need a display server for it.
func hasDesktopSession() bool {
	switch runtime.GOOS {
	case "windows", "darwin":
		return true
	}
	return os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != "" ||
		os.Getenv("DBUS_SESSION_BUS_ADDRESS") != ""
}

// Test notification texts.
const (
	TestTitle   = "Countdown Widget Test"
	TestMessage = "Notifications are working correctly!"
)

// SendTest sends the fixed test notification through s.
func SendTest(ctx context.Context, s Sink) error {
	if s == nil {
		return goerror.NewSink(errors.New("no notification sink configured"))
	}
	if err := s.Notify(ctx, TestTitle, TestMessage); err != nil {
		return goerror.NewSink(err)
	}
	return nil
}
