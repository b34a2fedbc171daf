// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package template

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/wneessen/geopin/internal/config"
	"github.com/wneessen/geopin/internal/i18n"
)

const defaultLang = "en"

func testTemplates(t *testing.T, lang, text string) *Templates {
	t.Helper()
	conf, err := config.New()
	if err != nil {
		t.Fatalf("failed to create config: %s", err)
	}
	loc, err := i18n.New(lang)
	if err != nil {
		t.Fatalf("failed to create localizer: %s", err)
	}
	if text != "" {
		conf.Templates.Text = text
	}
	tpl, err := New(conf, loc)
	if err != nil {
		t.Fatalf("failed to create template: %s", err)
	}
	return tpl
}

func render(t *testing.T, tpl *Templates, data any) string {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	if err := tpl.Text.Execute(buf, data); err != nil {
		t.Fatalf("failed to render template: %s", err)
	}
	return buf.String()
}

func TestNew(t *testing.T) {
	t.Run("new template succeeds", func(t *testing.T) {
		tpl := testTemplates(t, defaultLang, "")
		if tpl == nil {
			t.Fatal("expected template to be non-nil")
		}
	})
	t.Run("rendering template succeeds", func(t *testing.T) {
		tpl := testTemplates(t, defaultLang, "{{ .Data }}")
		expect := "test"
		if got := render(t, tpl, map[string]string{"Data": expect}); got != expect {
			t.Errorf("expected rendered template to be %q, got %q", expect, got)
		}
	})

	tests := []struct {
		name      string
		configure func(*config.Config)
	}{
		{
			name: "parsing text template fails",
			configure: func(c *config.Config) {
				c.Templates.Text = "{{ .Data }"
			},
		},
		{
			name: "parsing tooltip template fails",
			configure: func(c *config.Config) {
				c.Templates.Tooltip = "{{ .Data }"
			},
		},
		{
			name: "parsing alt text template fails",
			configure: func(c *config.Config) {
				c.Templates.AltText = "{{ .Data }"
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			conf, err := config.New()
			if err != nil {
				t.Fatalf("failed to create config: %s", err)
			}
			loc, err := i18n.New(defaultLang)
			if err != nil {
				t.Fatalf("failed to create localizer: %s", err)
			}

			tc.configure(conf)
			_, err = New(conf, loc)
			if err == nil {
				t.Fatal("expected template parsing to fail, but didn't")
			}
		})
	}

	t.Run("localizer function translates correctly", func(t *testing.T) {
		tpl := testTemplates(t, "de", "{{loc .Data}}")
		want := "Genauigkeit"
		if got := render(t, tpl, map[string]string{"Data": "accuracy"}); got != want {
			t.Errorf("expected rendered template to be %q, got %q", want, got)
		}
	})
	t.Run("localizer function returns original value on unsupported translation", func(t *testing.T) {
		tpl := testTemplates(t, "de", "{{loc .Data}}")
		has := "invalid-unknown"
		if got := render(t, tpl, map[string]string{"Data": has}); got != has {
			t.Errorf("expected rendered template to be %q, got %q", has, got)
		}
	})
	t.Run("localize translates status messages", func(t *testing.T) {
		tpl := testTemplates(t, "de", "")
		want := "Standortzugriff verweigert"
		if got := tpl.Localize("Location access denied"); got != want {
			t.Errorf("expected translation to be %q, got %q", want, got)
		}
	})
	t.Run("localized time function returns correct format", func(t *testing.T) {
		wantTime := time.Date(2025, time.January, 1, 16, 56, 0, 0, time.UTC)
		tests := []struct {
			name string
			lang string
			want string
		}{
			{"english 12h", "en", "4:56 p.m."},
			{"german 24h", "de", "16:56"},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				tpl := testTemplates(t, tc.lang, "{{localizedTime .Data}}")
				got := render(t, tpl, map[string]time.Time{"Data": wantTime})
				if !strings.EqualFold(got, tc.want) {
					t.Errorf("expected rendered template to be %q, got %q", tc.want, got)
				}
			})
		}
	})
	t.Run("humanized zero time renders a dash", func(t *testing.T) {
		tpl := testTemplates(t, defaultLang, "{{hum .Data}}")
		if got := render(t, tpl, map[string]time.Time{"Data": {}}); got != "-" {
			t.Errorf("expected rendered template to be %q, got %q", "-", got)
		}
	})
}

func TestFormatFuncs(t *testing.T) {
	t.Run("coordinates use six decimals", func(t *testing.T) {
		if got := coord(37.7749); got != "37.774900" {
			t.Errorf("expected coordinate to be %q, got %q", "37.774900", got)
		}
		if got := coord(-122.41941234); got != "-122.419412" {
			t.Errorf("expected coordinate to be %q, got %q", "-122.419412", got)
		}
	})
	t.Run("accuracy in meters", func(t *testing.T) {
		tests := []struct {
			val  float64
			want string
		}{
			{12.4, "±12m"},
			{999, "±999m"},
			{1500, "±1.5km"},
			{math.Inf(1), "-"},
		}
		for _, tc := range tests {
			if got := meters(tc.val); got != tc.want {
				t.Errorf("expected accuracy %f to be %q, got %q", tc.val, tc.want, got)
			}
		}
	})
	t.Run("float format", func(t *testing.T) {
		if got := floatFormat(1.23456, 2); got != "1.23" {
			t.Errorf("expected float to be %q, got %q", "1.23", got)
		}
	})
	t.Run("emoji with space", func(t *testing.T) {
		if got := EmojiWithSpace("📍"); got != "📍   " {
			t.Errorf("expected emoji with padding, got %q", got)
		}
	})
}
