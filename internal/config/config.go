// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/kkyr/fig"
)

const (
	configEnv         = "GEOPIN"
	DefaultTextTpl    = "{{.Icon}} {{.Status}}"
	DefaultAltTextTpl = "{{.Icon}} {{coord .Latitude}}, {{coord .Longitude}}"
	DefaultTooltipTpl = "{{.Status}}\n{{if .Hint}}{{.Hint}}\n{{end}}" +
		"{{if .HasFix}}{{loc \"position\"}}: {{coord .Latitude}}, {{coord .Longitude}}\n" +
		"{{loc \"accuracy\"}}: {{meters .Accuracy}}\n" +
		"{{loc \"updated\"}}: {{hum .UpdateTime}}\n" +
		"{{loc \"sunrise\"}}: {{timeFormat .SunriseTime \"15:04\"}} / " +
		"{{loc \"sunset\"}}: {{timeFormat .SunsetTime \"15:04\"}}\n{{end}}" +
		"{{loc \"source\"}}: {{.Source}}"
)

// Sources lists the supported location sources.
var Sources = []string{"gpsd", "geoclue", "nmea", "file", "ichnaea", "geoip"}

// Config represents the application's configuration structure.
type Config struct {
	Locale   string     `fig:"locale"`
	LogLevel slog.Level `fig:"loglevel" default:"0"`

	Tracker struct {
		WindowSize       int           `fig:"window_size" default:"8"`
		FallbackAccuracy float64       `fig:"fallback_accuracy" default:"1000"`
		SettleDelay      time.Duration `fig:"settle_delay" default:"80ms"`
		PromptTimeout    time.Duration `fig:"prompt_timeout" default:"20s"`
		GrantedMaxAge    time.Duration `fig:"granted_max_age" default:"2s"`
		WatchMaxAge      time.Duration `fig:"watch_max_age" default:"2s"`
		WatchTimeout     time.Duration `fig:"watch_timeout" default:"15s"`
	} `fig:"tracker"`

	Location struct {
		// Allowed values: gpsd, geoclue, nmea, file, ichnaea, geoip
		Source string `fig:"source" default:"gpsd"`
		GPSD   struct {
			Host string `fig:"host" default:"localhost"`
			Port string `fig:"port" default:"2947"`
		} `fig:"gpsd"`
		GeoClue struct {
			DesktopID string `fig:"desktop_id" default:"geopin"`
		} `fig:"geoclue"`
		NMEA struct {
			Port     string `fig:"port" default:"/dev/ttyACM0"`
			BaudRate uint   `fig:"baud_rate" default:"9600"`
		} `fig:"nmea"`
		File struct {
			Path   string        `fig:"path"`
			Period time.Duration `fig:"period" default:"30s"`
		} `fig:"file"`
		Ichnaea struct {
			Endpoint string `fig:"endpoint" default:"https://api.beacondb.net/v1/geolocate"`
		} `fig:"ichnaea"`
		GeoIP struct {
			Endpoint string `fig:"endpoint" default:"https://reallyfreegeoip.org/json/"`
		} `fig:"geoip"`
	} `fig:"location"`

	Map struct {
		North        float64 `fig:"north" default:"38.0"`
		South        float64 `fig:"south" default:"37.0"`
		East         float64 `fig:"east" default:"-122.0"`
		West         float64 `fig:"west" default:"-123.0"`
		Width        float64 `fig:"width" default:"800"`
		Height       float64 `fig:"height" default:"600"`
		ScreenWidth  float64 `fig:"screen_width" default:"1280"`
		ScreenHeight float64 `fig:"screen_height" default:"800"`
	} `fig:"map"`

	Viewport struct {
		MinScale   float64 `fig:"min_scale" default:"0.5"`
		MaxScale   float64 `fig:"max_scale" default:"3.0"`
		ZoomStep   float64 `fig:"zoom_step" default:"0.2"`
		ZoomFactor float64 `fig:"zoom_factor" default:"1.2"`
		// Allowed values: step, focal
		ZoomMode string `fig:"zoom_mode" default:"step"`
	} `fig:"viewport"`

	Intervals struct {
		Output         time.Duration `fig:"output" default:"5s"`
		PermissionPoll time.Duration `fig:"permission_poll" default:"1m"`
	} `fig:"intervals"`

	Templates struct {
		Text    string `fig:"text"`
		AltText string `fig:"alt_text"`
		Tooltip string `fig:"tooltip"`
	} `fig:"templates"`

	API struct {
		Enabled bool   `fig:"enabled"`
		Listen  string `fig:"listen" default:"127.0.0.1:8088"`
	} `fig:"api"`

	MQTT struct {
		Enabled     bool    `fig:"enabled"`
		Broker      string  `fig:"broker" default:"tcp://localhost:1883"`
		Topic       string  `fig:"topic" default:"geopin/position"`
		ClientID    string  `fig:"client_id"`
		MinDistance float64 `fig:"min_distance" default:"25"`
		QoS         uint8   `fig:"qos"`
		Retain      bool    `fig:"retain"`
	} `fig:"mqtt"`
}

func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read Config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func (c *Config) Validate() error {
	if c.Locale == "" {
		c.Locale = getLocale()
	}
	if c.Tracker.WindowSize < 1 {
		return fmt.Errorf("invalid tracker window size: %d", c.Tracker.WindowSize)
	}
	if c.Tracker.FallbackAccuracy <= 0 {
		return fmt.Errorf("invalid fallback accuracy: %f", c.Tracker.FallbackAccuracy)
	}
	if c.Tracker.SettleDelay < 0 || c.Tracker.PromptTimeout < 0 || c.Tracker.WatchTimeout < 0 ||
		c.Tracker.GrantedMaxAge < 0 || c.Tracker.WatchMaxAge < 0 {
		return fmt.Errorf("tracker durations must not be negative")
	}

	c.Location.Source = strings.ToLower(c.Location.Source)
	if !slices.Contains(Sources, c.Location.Source) {
		return fmt.Errorf("invalid location source: %s", c.Location.Source)
	}
	if c.Location.File.Path == "" {
		home, _ := os.UserHomeDir()
		c.Location.File.Path = filepath.Join(home, ".config", "geopin", "geolocation")
	}

	if c.Map.North <= c.Map.South {
		return fmt.Errorf("invalid map bounds: north %f must be greater than south %f", c.Map.North, c.Map.South)
	}
	if c.Map.East <= c.Map.West {
		return fmt.Errorf("invalid map bounds: east %f must be greater than west %f", c.Map.East, c.Map.West)
	}
	if c.Map.Width <= 0 || c.Map.Height <= 0 {
		return fmt.Errorf("invalid map size: %fx%f", c.Map.Width, c.Map.Height)
	}

	if c.Viewport.MinScale <= 0 || c.Viewport.MaxScale < c.Viewport.MinScale {
		return fmt.Errorf("invalid viewport scale range: %f to %f", c.Viewport.MinScale, c.Viewport.MaxScale)
	}
	c.Viewport.ZoomMode = strings.ToLower(c.Viewport.ZoomMode)
	if c.Viewport.ZoomMode != "step" && c.Viewport.ZoomMode != "focal" {
		return fmt.Errorf("invalid zoom mode: %s", c.Viewport.ZoomMode)
	}

	if c.Intervals.Output <= 0 {
		return fmt.Errorf("invalid output interval: %s", c.Intervals.Output)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("invalid MQTT QoS: %d", c.MQTT.QoS)
	}

	if c.Templates.Text == "" {
		c.Templates.Text = DefaultTextTpl
	}
	if c.Templates.AltText == "" {
		c.Templates.AltText = DefaultAltTextTpl
	}
	if c.Templates.Tooltip == "" {
		c.Templates.Tooltip = DefaultTooltipTpl
	}

	return nil
}

func getLocale() string {
	locale := os.Getenv("LC_MESSAGES")
	if idx := strings.Index(locale, "."); idx != -1 {
		lang := locale[:idx]
		return strings.ReplaceAll(lang, "_", "-")
	}
	return locale
}
