// Package theme manages the display themes kept in the settings table and
// the priority/urgency color scale.
package theme

import (
	"context"
	"encoding/json"
	"slices"
	"strings"

	"github.com/samber/lo"

	"countdown/internal/goerror"
	appLog "countdown/internal/log"
	"countdown/internal/validator"
)

const (
	// CurrentKey is the settings key holding the selected theme id.
	CurrentKey = "current_theme"
	// DefaultID is used when nothing (or something unknown) is selected.
	DefaultID = "light"

	customPrefix = "custom_theme_"
)

// Theme is a named set of display colors.
type Theme struct {
	ID              string `json:"id"`
	Name            string `json:"name" validate:"notblank,max=64"`
	BgColor         string `json:"bg_color" validate:"required,hexcolor"`
	TextColor       string `json:"text_color" validate:"required,hexcolor"`
	AccentColor     string `json:"accent_color" validate:"required,hexcolor"`
	ButtonColor     string `json:"button_color" validate:"required,hexcolor"`
	ButtonTextColor string `json:"button_text_color" validate:"required,hexcolor"`
	WindowBg        string `json:"window_bg" validate:"required,hexcolor"`
	FrameBg         string `json:"frame_bg" validate:"required,hexcolor"`
	Custom          bool   `json:"custom"`
}

// Preview is the short form listed by Available.
type Preview struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Bg     string `json:"bg"`
	Text   string `json:"text"`
	Accent string `json:"accent"`
}

// CustomInput creates a custom theme from a base theme. Nil colors keep the
// base value.
type CustomInput struct {
	ID              string  `json:"id" validate:"required,alphanum,max=32"`
	Name            string  `json:"name" validate:"notblank,max=64"`
	Base            string  `json:"base"`
	BgColor         *string `json:"bg_color" validate:"omitnil,hexcolor"`
	TextColor       *string `json:"text_color" validate:"omitnil,hexcolor"`
	AccentColor     *string `json:"accent_color" validate:"omitnil,hexcolor"`
	ButtonColor     *string `json:"button_color" validate:"omitnil,hexcolor"`
	ButtonTextColor *string `json:"button_text_color" validate:"omitnil,hexcolor"`
	WindowBg        *string `json:"window_bg" validate:"omitnil,hexcolor"`
	FrameBg         *string `json:"frame_bg" validate:"omitnil,hexcolor"`
}

var defaults = []Theme{
	{ID: "light", Name: "Light", BgColor: "#f5f5dc", TextColor: "#013220", AccentColor: "#4a90e2",
		ButtonColor: "#ffffff", ButtonTextColor: "#013220", WindowBg: "#ffffff", FrameBg: "#f0f0f0"},
	{ID: "dark", Name: "Dark", BgColor: "#2b2b2b", TextColor: "#ffffff", AccentColor: "#ff6b35",
		ButtonColor: "#404040", ButtonTextColor: "#ffffff", WindowBg: "#1e1e1e", FrameBg: "#333333"},
	{ID: "blue", Name: "Ocean Blue", BgColor: "#e3f2fd", TextColor: "#0d47a1", AccentColor: "#2196f3",
		ButtonColor: "#bbdefb", ButtonTextColor: "#0d47a1", WindowBg: "#f3e5f5", FrameBg: "#e1bee7"},
	{ID: "green", Name: "Forest Green", BgColor: "#e8f5e8", TextColor: "#1b5e20", AccentColor: "#4caf50",
		ButtonColor: "#c8e6c9", ButtonTextColor: "#1b5e20", WindowBg: "#f1f8e9", FrameBg: "#dcedc8"},
	{ID: "purple", Name: "Royal Purple", BgColor: "#f3e5f5", TextColor: "#4a148c", AccentColor: "#9c27b0",
		ButtonColor: "#e1bee7", ButtonTextColor: "#4a148c", WindowBg: "#fce4ec", FrameBg: "#f8bbd9"},
	{ID: "sunset", Name: "Sunset", BgColor: "#fff3e0", TextColor: "#e65100", AccentColor: "#ff9800",
		ButtonColor: "#ffcc02", ButtonTextColor: "#e65100", WindowBg: "#fff8e1", FrameBg: "#ffecb3"},
}

// Defaults returns a copy of the built-in themes.
func Defaults() []Theme {
	return slices.Clone(defaults)
}

func lookupDefault(id string) (Theme, bool) {
	return lo.Find(defaults, func(t Theme) bool { return t.ID == id })
}

// Settings is the key/value storage themes live in.
type Settings interface {
	GetSetting(ctx context.Context, key, def string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context, prefix string) (map[string]string, error)
}

// Manager reads and writes themes through Settings.
type Manager struct {
	settings Settings
	valid    validator.Validator
}

// NewManager constructs a Manager.
func NewManager(s Settings, v validator.Validator) *Manager {
	return &Manager{settings: s, valid: v}
}

// Current returns the selected theme. A custom theme wins over a built-in
// one of the same id; an unknown or unreadable selection falls back to light.
func (m *Manager) Current(ctx context.Context) (Theme, error) {
	id, err := m.settings.GetSetting(ctx, CurrentKey, DefaultID)
	if err != nil {
		return Theme{}, err
	}

	if t, ok, err := m.custom(ctx, id); err != nil {
		return Theme{}, err
	} else if ok {
		return t, nil
	}

	if t, ok := lookupDefault(id); ok {
		return t, nil
	}
	t, _ := lookupDefault(DefaultID)
	return t, nil
}

// Set selects the theme with the given id.
func (m *Manager) Set(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if _, ok := lookupDefault(id); !ok {
		_, ok, err := m.custom(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return goerror.NewNotFound("theme", id)
		}
	}

	if err := m.settings.SetSetting(ctx, CurrentKey, id); err != nil {
		return err
	}
	appLog.Info("theme selected", "id", id)
	return nil
}

// Available lists the built-in themes followed by custom ones sorted by id.
func (m *Manager) Available(ctx context.Context) ([]Preview, error) {
	out := lo.Map(defaults, func(t Theme, _ int) Preview { return preview(t, "default") })

	raw, err := m.settings.ListSettings(ctx, customPrefix)
	if err != nil {
		return nil, err
	}

	keys := lo.Keys(raw)
	slices.Sort(keys)
	for _, key := range keys {
		t, err := decode(strings.TrimPrefix(key, customPrefix), raw[key])
		if err != nil {
			appLog.Warn("skipping unreadable custom theme", "key", key, "err", err)
			continue
		}
		out = append(out, preview(t, "custom"))
	}

	return out, nil
}

// SaveCustom derives a theme from in.Base (light when empty), applies the
// given colors and stores it. Built-in ids cannot be overwritten.
func (m *Manager) SaveCustom(ctx context.Context, in CustomInput) (Theme, error) {
	in.ID = strings.TrimSpace(in.ID)
	if err := m.valid.Validate(in); err != nil {
		return Theme{}, goerror.NewValidation(err)
	}
	if _, ok := lookupDefault(in.ID); ok {
		return Theme{}, goerror.NewValidation(nil, "id", "id is reserved by a built-in theme")
	}

	base, ok := lookupDefault(lo.CoalesceOrEmpty(in.Base, DefaultID))
	if !ok {
		return Theme{}, goerror.NewValidation(nil, "base", "base must name a built-in theme")
	}

	t := base
	t.ID = in.ID
	t.Name = strings.TrimSpace(in.Name)
	t.Custom = true
	for _, c := range []struct {
		dst *string
		src *string
	}{
		{&t.BgColor, in.BgColor},
		{&t.TextColor, in.TextColor},
		{&t.AccentColor, in.AccentColor},
		{&t.ButtonColor, in.ButtonColor},
		{&t.ButtonTextColor, in.ButtonTextColor},
		{&t.WindowBg, in.WindowBg},
		{&t.FrameBg, in.FrameBg},
	} {
		if c.src != nil {
			*c.dst = *c.src
		}
	}

	if err := m.valid.Validate(t); err != nil {
		return Theme{}, goerror.NewValidation(err)
	}

	b, err := json.Marshal(t)
	if err != nil {
		return Theme{}, err
	}
	if err := m.settings.SetSetting(ctx, customPrefix+t.ID, string(b)); err != nil {
		return Theme{}, err
	}

	appLog.Info("custom theme saved", "id", t.ID, "base", base.ID)
	return t, nil
}

func (m *Manager) custom(ctx context.Context, id string) (Theme, bool, error) {
	raw, err := m.settings.GetSetting(ctx, customPrefix+id, "")
	if err != nil || raw == "" {
		return Theme{}, false, err
	}
	t, err := decode(id, raw)
	if err != nil {
		appLog.Warn("ignoring unreadable custom theme", "id", id, "err", err)
		return Theme{}, false, nil
	}
	return t, true, nil
}

func decode(id, raw string) (Theme, error) {
	var t Theme
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return Theme{}, err
	}
	t.ID = id
	t.Custom = true
	if t.Name == "" {
		t.Name = id
	}
	return t, nil
}

func preview(t Theme, kind string) Preview {
	return Preview{ID: t.ID, Name: t.Name, Type: kind, Bg: t.BgColor, Text: t.TextColor, Accent: t.AccentColor}
}
