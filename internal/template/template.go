// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package template

import (
	"fmt"
	"math"
	"strings"
	"text/template"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/vorlif/humanize"
	"github.com/vorlif/humanize/locale/de"
	"github.com/vorlif/spreak"
	"github.com/vorlif/spreak/localize"

	"github.com/wneessen/geopin/internal/config"
)

type Templates struct {
	Text      *template.Template
	AltText   *template.Template
	Tooltip   *template.Template
	localizer *spreak.Localizer
	humanizer *humanize.Humanizer
}

var i18nVars = map[string]localize.MsgID{
	"position": "Position",
	"accuracy": "Accuracy",
	"updated":  "Last update",
	"samples":  "Samples",
	"source":   "Source",
	"sunrise":  "Sunrise",
	"sunset":   "Sunset",
	"error":    "Error",
}

var humanizers = humanize.MustNew(humanize.WithLocale(de.New()))

func New(conf *config.Config, loc *spreak.Localizer) (*Templates, error) {
	tpls := &Templates{
		localizer: loc,
		humanizer: humanizers.CreateHumanizer(loc.Language()),
	}

	tpl, err := template.New("text").Funcs(tpls.templateFuncMap()).Parse(conf.Templates.Text)
	if err != nil {
		return tpls, fmt.Errorf("failed to parse text template: %w", err)
	}
	tpls.Text = tpl

	tpl, err = template.New("alt_text").Funcs(tpls.templateFuncMap()).Parse(conf.Templates.AltText)
	if err != nil {
		return tpls, fmt.Errorf("failed to parse alt text template: %w", err)
	}
	tpls.AltText = tpl

	tpl, err = template.New("tooltip").Funcs(tpls.templateFuncMap()).Parse(conf.Templates.Tooltip)
	if err != nil {
		return tpls, fmt.Errorf("failed to parse tooltip template: %w", err)
	}
	tpls.Tooltip = tpl

	return tpls, nil
}

// Localize returns the translation of msg.
func (t *Templates) Localize(msg string) string {
	return t.localizer.Get(msg)
}

func (t *Templates) templateFuncMap() template.FuncMap {
	return template.FuncMap{
		"timeFormat":    timeFormat,
		"localizedTime": t.localizedTime,
		"hum":           t.naturalTime,
		"floatFormat":   floatFormat,
		"coord":         coord,
		"meters":        meters,
		"loc":           t.loc,
		"lc":            strings.ToLower,
		"uc":            strings.ToUpper,
	}
}

func (t *Templates) loc(val string) string {
	if raw, ok := i18nVars[strings.ToLower(val)]; ok {
		return t.localizer.Get(raw)
	}
	return val
}

func (t *Templates) localizedTime(val time.Time) string {
	return t.humanizer.FormatTime(val, humanize.TimeFormat)
}

func (t *Templates) naturalTime(val time.Time) string {
	if val.IsZero() {
		return "-"
	}
	return t.humanizer.NaturalTime(val)
}

func timeFormat(val time.Time, fmt string) string {
	if val.IsZero() {
		return "-"
	}
	return val.Format(fmt)
}

func floatFormat(val float64, precision int) string {
	return fmt.Sprintf("%.*f", precision, val)
}

// coord formats a latitude or longitude with six decimals.
func coord(val float64) string {
	return fmt.Sprintf("%.6f", val)
}

// meters formats an accuracy radius in meters, switching to kilometers above 1000m.
func meters(val float64) string {
	switch {
	case math.IsNaN(val) || math.IsInf(val, 0):
		return "-"
	case val >= 1000:
		return fmt.Sprintf("±%.1fkm", val/1000)
	default:
		return fmt.Sprintf("±%.0fm", val)
	}
}

func EmojiWithSpace(emoji string) string {
	width := runewidth.StringWidth(emoji)
	return fmt.Sprintf("%s%s", emoji, strings.Repeat(" ", width+1))
}
