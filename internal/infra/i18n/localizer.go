// Package i18n renders user-facing messages from embedded YAML catalogs.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

// BaseLocale is the fallback for missing locales and keys.
const BaseLocale = "en-US"

//go:embed locales/*/*.yaml
var embeddedCatalogFS embed.FS

type catalogFile struct {
	Locale    string            `yaml:"locale"`
	Namespace string            `yaml:"namespace"`
	Messages  map[string]string `yaml:"messages"`
}

// Catalog holds the messages of every locale.
type Catalog struct {
	locales map[string]map[string]string
}

// LoadEmbedded loads the catalogs compiled into the binary.
func LoadEmbedded() (*Catalog, error) {
	return LoadFromFS(embeddedCatalogFS)
}

// LoadFromFS loads locales/<locale>/<namespace>.yaml files from fsys.
func LoadFromFS(fsys fs.FS) (*Catalog, error) {
	paths, err := fs.Glob(fsys, "locales/*/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob locale catalogs: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no catalog files found")
	}
	sort.Strings(paths)

	c := &Catalog{locales: map[string]map[string]string{}}
	for _, path := range paths {
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", path, err)
		}
		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", path, err)
		}
		if dir := filepath.Base(filepath.Dir(path)); file.Locale != dir {
			return nil, fmt.Errorf("catalog %s: locale %q must match path locale %q", path, file.Locale, dir)
		}
		msgs, ok := c.locales[file.Locale]
		if !ok {
			msgs = map[string]string{}
			c.locales[file.Locale] = msgs
		}
		for k, v := range file.Messages {
			msgs[k] = v
		}
	}
	if _, ok := c.locales[BaseLocale]; !ok {
		return nil, fmt.Errorf("base locale %s is not defined in catalogs", BaseLocale)
	}
	return c, nil
}

// HasLocale reports whether locale has a catalog.
func (c *Catalog) HasLocale(locale string) bool {
	_, ok := c.locales[locale]
	return ok
}

// Localizer renders messages for one locale.
type Localizer struct {
	catalog *Catalog
	locale  string
	printer *message.Printer
}

// Localizer returns a renderer for locale, falling back to BaseLocale when
// the locale has no catalog.
func (c *Catalog) Localizer(locale string) *Localizer {
	if !c.HasLocale(locale) {
		locale = BaseLocale
	}
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.AmericanEnglish
	}
	return &Localizer{catalog: c, locale: locale, printer: message.NewPrinter(tag)}
}

// Locale is the locale actually used.
func (l *Localizer) Locale() string { return l.locale }

var placeholder = regexp.MustCompile(`\{(\w+)\}`)

// T renders key with params substituted for {name} placeholders. A key
// missing in the locale falls back to BaseLocale, then to the key itself.
func (l *Localizer) T(key string, params map[string]any) string {
	tmpl, ok := l.catalog.locales[l.locale][key]
	if !ok {
		tmpl, ok = l.catalog.locales[BaseLocale][key]
	}
	if !ok {
		return key
	}
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := strings.Trim(m, "{}")
		v, ok := params[name]
		if !ok {
			return m
		}
		return l.format(v)
	})
}

func (l *Localizer) format(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case time.Time:
		return x.Format("2006-01-02")
	case int, int32, int64, float64:
		return l.printer.Sprint(x)
	}
	return fmt.Sprint(v)
}
