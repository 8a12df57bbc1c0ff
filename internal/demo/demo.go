// Package demo ships the weather application used to try hot swapping.
//
// The units are embedded and extracted into the first unit root when it is
// empty. Editing them (or the stylesheet and data file next to them) while
// the service runs swaps the displayed view.
package demo

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/zot/hotswap/internal/config"
	"github.com/zot/hotswap/internal/hook"
	"github.com/zot/hotswap/internal/hotswap"
	"github.com/zot/hotswap/internal/luaunit"
	"github.com/zot/hotswap/internal/redefine"
	"github.com/zot/hotswap/internal/scene"
	"github.com/zot/hotswap/internal/typeid"
	"github.com/zot/hotswap/internal/watcher"
)

//go:embed units
var units embed.FS

const (
	// ViewType is the qualified name of the application root.
	ViewType = "apps.weather.WeatherView"
	// ViewID is the id the root is registered under.
	ViewID = "weather-view"
	// Package is the qualified name prefix of every unit in the app.
	Package = "apps.weather."

	// DataFile and StyleFile are relative to the unit root.
	DataFile  = "apps/weather/data.toml"
	StyleFile = "apps/weather/WeatherApp.css"
)

var ErrNoRoot = errors.New("demo: no unit root configured")

// Files lists the embedded files, slash separated and relative to a root.
func Files() []string {
	var files []string
	fs.WalkDir(units, "units", func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files = append(files, strings.TrimPrefix(path, "units/"))
		}
		return nil
	})
	return files
}

// Extract writes the embedded units into root when root is missing or
// empty, and returns the number of files written. A root that already has
// content is left alone unless force is set, in which case only missing
// files are written.
func Extract(root string, force bool) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	if len(entries) > 0 && !force {
		return 0, nil
	}

	written := 0
	err = fs.WalkDir(units, "units", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(path, "units")
		target := filepath.Join(root, filepath.FromSlash(rel))
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if _, err := os.Stat(target); err == nil {
			return nil
		}
		data, err := units.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.WriteFile(target, data, 0644); err != nil {
			return err
		}
		written++
		return nil
	})
	if err != nil {
		return written, fmt.Errorf("extract into %s: %w", root, err)
	}
	return written, nil
}

// Forecast is one hour of the forecast strip.
type Forecast struct {
	Hour        string  `toml:"hour"`
	Condition   string  `toml:"condition"`
	Temperature float64 `toml:"temperature"`
}

// Today summarizes the current day.
type Today struct {
	Min       float64 `toml:"min"`
	Max       float64 `toml:"max"`
	Condition string  `toml:"condition"`
}

// Data is the weather shown by the app.
type Data struct {
	City       string     `toml:"city"`
	Sunrise    string     `toml:"sunrise"`
	Sunset     string     `toml:"sunset"`
	RainChance float64    `toml:"rain_chance"`
	Pressure   float64    `toml:"pressure"`
	WindSpeed  float64    `toml:"wind_speed"`
	UVIndex    int        `toml:"uv_index"`
	FeelsLike  float64    `toml:"feels_like"`
	Visibility float64    `toml:"visibility"`
	Today      Today      `toml:"today"`
	Forecasts  []Forecast `toml:"forecast"`
}

// LoadData reads the data file under root, falling back to the embedded
// copy when root has none.
func LoadData(root string) (Data, error) {
	var d Data
	raw, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(DataFile)))
	if os.IsNotExist(err) {
		raw, err = units.ReadFile("units/" + DataFile)
	}
	if err != nil {
		return d, err
	}
	if _, err := toml.Decode(string(raw), &d); err != nil {
		return d, fmt.Errorf("parse %s: %w", DataFile, err)
	}
	if d.City == "" {
		d.City = "Dummy"
	}
	return d, nil
}

// Args is the construction argument map of the root view.
func (d Data) Args() map[string]any {
	forecasts := make([]any, len(d.Forecasts))
	for i, f := range d.Forecasts {
		forecasts[i] = map[string]any{
			"hour":        f.Hour,
			"condition":   f.Condition,
			"temperature": f.Temperature,
		}
	}
	return map[string]any{
		"city": d.City,
		"today": map[string]any{
			"min":       d.Today.Min,
			"max":       d.Today.Max,
			"condition": d.Today.Condition,
		},
		"forecasts": forecasts,
		"details": map[string]any{
			"sunrise":     d.Sunrise,
			"sunset":      d.Sunset,
			"rain_chance": d.RainChance,
			"pressure":    d.Pressure,
			"wind_speed":  d.WindSpeed,
			"uv_index":    d.UVIndex,
			"feels_like":  d.FeelsLike,
			"visibility":  d.Visibility,
		},
	}
}

// App is a running weather application: one scene on its own ui thread,
// with the root view registered for hot swapping.
type App struct {
	config  *config.Config
	service *hotswap.Service
	root    string
	scene   *scene.Scene
	thread  *scene.Thread
	view    *hotswap.Component
	assets  hook.Hook[watcher.Event]
}

// New builds the application from the units under the first root,
// extracting the embedded units there first when the root is empty. The
// service is created but not started.
func New(cfg *config.Config) (*App, error) {
	catalog := scene.NewCatalog()
	svc := hotswap.NewService(cfg, catalog, luaunit.NewDefiner(cfg, catalog))
	return NewWithService(cfg, svc)
}

// NewWithService builds the application on an existing service.
func NewWithService(cfg *config.Config, svc *hotswap.Service) (*App, error) {
	roots := svc.Roots()
	if len(roots) == 0 {
		return nil, ErrNoRoot
	}
	root, err := filepath.Abs(roots[0])
	if err != nil {
		return nil, err
	}
	n, err := Extract(root, false)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		cfg.Log(1, "Demo: extracted %d files into %s", n, root)
	}
	if _, err := svc.Preload(); err != nil {
		cfg.Log(0, "Demo: some units failed to load: %v", err)
	}

	a := &App{
		config:  cfg,
		service: svc,
		root:    root,
		thread:  scene.NewThread(),
	}
	a.scene = scene.New("weather", a.thread)

	view, err := a.build()
	if err != nil {
		a.thread.Stop()
		return nil, err
	}
	if _, err := scene.Sync(a.thread, func() (struct{}, error) {
		a.scene.SetRoot(view)
		return struct{}{}, nil
	}); err != nil {
		a.thread.Stop()
		return nil, err
	}

	a.view = hotswap.NewComponent(ViewID, view).
		SetInstantiator(func(*scene.Node) (*scene.Node, error) { return a.build() }).
		MonitorChildren(a.tracks)
	if err := svc.Register(a.view); err != nil {
		a.thread.Stop()
		return nil, err
	}
	a.assets = hook.Func(a.onAsset)
	if err := svc.EarlyHook(a.assets); err != nil {
		svc.UnregisterComponent(a.view, true)
		a.thread.Stop()
		return nil, err
	}
	return a, nil
}

// build makes a fresh root view from the current definitions and data.
func (a *App) build() (*scene.Node, error) {
	data, err := LoadData(a.root)
	if err != nil {
		return nil, err
	}
	return a.service.Catalog().Instantiate(ViewType, data.Args())
}

// tracks reloads the view for its direct children and for every other
// unit of the app, since forecast cards sit deeper in the tree. The root
// type itself is reloaded by the service.
func (a *App) tracks(id typeid.Identity, children hotswap.ChildSet) bool {
	if id.Name() == ViewType {
		return false
	}
	return hotswap.MembershipStrategy(id, children) || strings.HasPrefix(id.Name(), Package)
}

// onAsset reloads the view when a file of the app that is not a unit
// changes, such as the stylesheet or the data file.
func (a *App) onAsset(ev watcher.Event) error {
	if redefine.IsUnit(ev.Path, a.config.HotSwap.Suffix) {
		return nil
	}
	path, err := filepath.Abs(ev.Path)
	if err != nil {
		return nil
	}
	rel, err := filepath.Rel(a.root, path)
	if err != nil || !strings.HasPrefix(filepath.ToSlash(rel), "apps/weather/") {
		return nil
	}
	a.config.Log(2, "Demo: %s changed, reloading %s", filepath.ToSlash(rel), ViewID)
	return a.service.Reload(ViewID)
}

// Service returns the hot swap service driving the app.
func (a *App) Service() *hotswap.Service { return a.service }

// Scene returns the displayed scene.
func (a *App) Scene() *scene.Scene { return a.scene }

// Thread returns the ui thread owning the scene.
func (a *App) Thread() *scene.Thread { return a.thread }

// Root returns the directory the app's units live in.
func (a *App) Root() string { return a.root }

// View returns the registered root component.
func (a *App) View() *hotswap.Component { return a.view }

// Close stops watching and shuts the ui thread down.
func (a *App) Close() {
	a.service.RemoveHook(a.assets)
	a.service.Dispose()
	a.thread.Stop()
}
