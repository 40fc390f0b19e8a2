// Package pricing holds per-model token prices and computes call cost.
// Built-in prices can be overridden by a models.yaml file that is
// re-read when it changes.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	pmetrics "github.com/cgs-mvp/cgs/go/engine/internal/metrics"
	"github.com/cgs-mvp/cgs/go/engine/internal/models"
)

// Price is USD per million tokens.
type Price struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// Cost returns in*input/1e6 + out*output/1e6.
func (p Price) Cost(tokensIn, tokensOut int) float64 {
	if tokensIn < 0 {
		tokensIn = 0
	}
	if tokensOut < 0 {
		tokensOut = 0
	}
	return float64(tokensIn)*p.InputPerMillion/1e6 + float64(tokensOut)*p.OutputPerMillion/1e6
}

// file is the pricing section of models.yaml
type file struct {
	Pricing struct {
		Fallbacks map[string]Price            `yaml:"fallbacks"`
		Models    map[string]map[string]Price `yaml:"models"` // provider -> model -> price
	} `yaml:"pricing"`
}

var builtinModels = map[string]Price{
	"gpt-4o":                    {2.50, 10.00},
	"gpt-4o-mini":               {0.15, 0.60},
	"claude-sonnet-4-20250514":  {3.00, 15.00},
	"claude-3-5-haiku-20241022": {0.80, 4.00},
	"gemini-1.5-pro":            {1.25, 5.00},
	"gemini-1.5-flash":          {0.075, 0.30},
}

var builtinFallbacks = map[models.Provider]Price{
	models.ProviderOpenAI:    {5.00, 15.00},
	models.ProviderAnthropic: {3.00, 15.00},
	models.ProviderGemini:    {1.25, 5.00},
}

// Table is a concurrency-safe price list.
type Table struct {
	mu        sync.RWMutex
	models    map[string]Price
	fallbacks map[models.Provider]Price
	path      string
	logger    *zap.Logger
}

// NewTable returns the built-in prices.
func NewTable(logger *zap.Logger) *Table {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Table{logger: logger}
	t.models, t.fallbacks = builtins()
	return t
}

// Load returns the built-in prices overlaid with the file at path. An empty
// path yields the built-ins.
func Load(path string, logger *zap.Logger) (*Table, error) {
	t := NewTable(logger)
	if path == "" {
		return t, nil
	}
	t.path = path
	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

func builtins() (map[string]Price, map[models.Provider]Price) {
	m := make(map[string]Price, len(builtinModels))
	for k, v := range builtinModels {
		m[k] = v
	}
	f := make(map[models.Provider]Price, len(builtinFallbacks))
	for k, v := range builtinFallbacks {
		f[k] = v
	}
	return m, f
}

// Reload re-reads the pricing file. On error the current prices are kept.
func (t *Table) Reload() error {
	if t.path == "" {
		return nil
	}
	data, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("failed to read pricing file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse pricing file %s: %w", t.path, err)
	}
	if err := f.validate(); err != nil {
		return err
	}

	m, fb := builtins()
	for _, byModel := range f.Pricing.Models {
		for name, p := range byModel {
			m[name] = p
		}
	}
	for prov, p := range f.Pricing.Fallbacks {
		parsed, err := models.ParseProvider(prov)
		if err != nil {
			return fmt.Errorf("pricing fallback: %w", err)
		}
		fb[parsed] = p
	}

	t.mu.Lock()
	t.models, t.fallbacks = m, fb
	t.mu.Unlock()

	t.logger.Info("Loaded pricing configuration",
		zap.String("path", t.path),
		zap.Int("models", len(m)),
	)
	return nil
}

func (f file) validate() error {
	check := func(where string, p Price) error {
		if p.InputPerMillion < 0 || p.OutputPerMillion < 0 {
			return errors.New("negative price for " + where)
		}
		return nil
	}
	for prov, byModel := range f.Pricing.Models {
		for name, p := range byModel {
			if err := check(prov+":"+name, p); err != nil {
				return err
			}
		}
	}
	for prov, p := range f.Pricing.Fallbacks {
		if err := check("fallback "+prov, p); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the exact price of model.
func (t *Table) Lookup(model string) (Price, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.models[model]
	return p, ok
}

// Fallback returns the tier used for models missing from the table.
func (t *Table) Fallback(provider models.Provider) Price {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.fallbacks[provider]; ok {
		return p
	}
	return t.fallbacks[models.DefaultProvider]
}

// Cost prices one call. Unknown models use the provider fallback tier.
func (t *Table) Cost(provider models.Provider, model string, tokensIn, tokensOut int) float64 {
	if p, ok := t.Lookup(model); ok {
		return p.Cost(tokensIn, tokensOut)
	}
	pmetrics.PricingFallbacks.WithLabelValues(string(provider), model).Inc()
	return t.Fallback(provider).Cost(tokensIn, tokensOut)
}

// Watch reloads the table whenever its file is written or replaced, until
// ctx is done. Editors that swap files are handled by watching the
// directory.
func (t *Table) Watch(ctx context.Context) error {
	if t.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch pricing directory: %w", err)
	}

	target := filepath.Clean(t.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := t.Reload(); err != nil {
					t.logger.Warn("Pricing reload failed, keeping previous prices", zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				t.logger.Warn("Pricing watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
