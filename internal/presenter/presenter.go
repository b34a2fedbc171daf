// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"bytes"
	"fmt"
	"time"

	"github.com/nathan-osman/go-sunrise"
	"github.com/vorlif/spreak"

	"github.com/wneessen/geopin/internal/config"
	"github.com/wneessen/geopin/internal/marker"
	"github.com/wneessen/geopin/internal/template"
	"github.com/wneessen/geopin/internal/tracker"
	"github.com/wneessen/geopin/internal/viewport"
)

const OutputClass = "geopin"

// TemplateContext is the data available to the output templates.
type TemplateContext struct {
	Status        string
	StatusKey     Status
	Icon          string
	IconWithSpace string
	State         string
	Source        string
	Error         string
	Hint          string

	HasFix     bool
	Latitude   float64
	Longitude  float64
	Accuracy   float64
	Samples    int
	UpdateTime time.Time

	SunriseTime time.Time
	SunsetTime  time.Time

	InBounds bool
	MapX     float64
	MapY     float64
	ScreenX  float64
	ScreenY  float64
	Scale    float64
}

// Output is a single line of waybar custom module JSON.
type Output struct {
	Text    string   `json:"text"`
	Alt     string   `json:"alt"`
	Tooltip string   `json:"tooltip"`
	Classes []string `json:"class"`
}

type Presenter struct {
	templates *template.Templates
	source    string
}

// New parses the configured templates and makes sure they render against an empty context.
func New(conf *config.Config, loc *spreak.Localizer, source string) (*Presenter, error) {
	tpls, err := template.New(conf, loc)
	if err != nil {
		return nil, err
	}
	pres := &Presenter{templates: tpls, source: source}

	probe := pres.BuildContext(marker.Snapshot{View: viewport.ViewState{Scale: 1}})
	if _, err = pres.Render(probe, false); err != nil {
		return nil, err
	}
	if _, err = pres.Render(probe, true); err != nil {
		return nil, err
	}
	return pres, nil
}

// BuildContext turns a marker snapshot into the template context.
func (p *Presenter) BuildContext(snap marker.Snapshot) TemplateContext {
	status := statusOf(snap)
	ctx := TemplateContext{
		StatusKey:     status,
		Icon:          StatusIcons[status],
		IconWithSpace: template.EmojiWithSpace(StatusIcons[status]),
		State:         snap.State.String(),
		Source:        p.source,
		Error:         snap.Error,
		HasFix:        snap.HasFix(),
		InBounds:      snap.InBounds,
		Scale:         snap.View.Scale,
		UpdateTime:    snap.Updated,
	}
	if status == StatusError {
		ctx.Status = p.templates.Localize(snap.Error)
	} else {
		ctx.Status = p.templates.Localize(StatusMessages[status])
	}
	if snap.Error != "" {
		ctx.Error = p.templates.Localize(snap.Error)
	}
	if hint, ok := StatusHints[status]; ok {
		ctx.Hint = p.templates.Localize(hint)
	}

	if snap.Estimate == nil {
		return ctx
	}
	est := snap.Estimate
	ctx.Latitude = est.Lat
	ctx.Longitude = est.Lon
	ctx.Accuracy = est.Accuracy
	ctx.Samples = est.Samples
	if !est.At.IsZero() {
		ctx.UpdateTime = est.At
	}
	if snap.MapPixel != nil {
		ctx.MapX, ctx.MapY = snap.MapPixel.X, snap.MapPixel.Y
	}
	if snap.Screen != nil {
		ctx.ScreenX, ctx.ScreenY = snap.Screen.X, snap.Screen.Y
	}

	day := ctx.UpdateTime
	if day.IsZero() {
		day = time.Now()
	}
	rise, set := sunrise.SunriseSunset(est.Lat, est.Lon, day.Year(), day.Month(), day.Day())
	ctx.SunriseTime, ctx.SunsetTime = rise.Local(), set.Local()
	return ctx
}

// Render executes the templates. With alt set the alternative text template is used for the
// module text.
func (p *Presenter) Render(ctx TemplateContext, alt bool) (Output, error) {
	textTpl, textName := p.templates.Text, "text"
	if alt {
		textTpl, textName = p.templates.AltText, "alt text"
	}

	textBuf := bytes.NewBuffer(nil)
	if err := textTpl.Execute(textBuf, ctx); err != nil {
		return Output{}, fmt.Errorf("failed to render %s template: %w", textName, err)
	}
	tooltipBuf := bytes.NewBuffer(nil)
	if err := p.templates.Tooltip.Execute(tooltipBuf, ctx); err != nil {
		return Output{}, fmt.Errorf("failed to render tooltip template: %w", err)
	}

	return Output{
		Text:    textBuf.String(),
		Alt:     string(ctx.StatusKey),
		Tooltip: tooltipBuf.String(),
		Classes: []string{OutputClass, string(ctx.StatusKey)},
	}, nil
}

func statusOf(snap marker.Snapshot) Status {
	switch {
	case snap.HasFix() && snap.InBounds:
		return StatusLocated
	case snap.HasFix():
		return StatusOutside
	case snap.State == tracker.StateDenied:
		return StatusDenied
	case snap.Error != "":
		return StatusError
	case snap.State == tracker.StatePrompting:
		return StatusPrompting
	default:
		return StatusAcquiring
	}
}
