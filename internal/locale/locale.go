// ABOUTME: Localized user-facing strings loaded from TOML bundles
// ABOUTME: Built-in en/zh bundles are embedded; a directory can override or add languages

package locale

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Fallback is the language used for unknown languages and missing keys
const Fallback = "en"

//go:embed locales/*.toml
var builtin embed.FS

// Bundle holds the strings of every loaded language.
type Bundle struct {
	langs map[string]map[string]string
}

// Load reads the embedded bundles, then any *.toml files in dir. Keys from dir
// override the embedded ones. An empty dir loads only the embedded bundles.
func Load(dir string) (*Bundle, error) {
	b := &Bundle{langs: make(map[string]map[string]string)}

	entries, err := builtin.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("reading embedded locales: %w", err)
	}
	for _, e := range entries {
		data, err := builtin.ReadFile("locales/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading embedded locale %s: %w", e.Name(), err)
		}
		if err := b.merge(e.Name(), data); err != nil {
			return nil, err
		}
	}

	if dir == "" {
		return b, nil
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.toml"))
	if err != nil {
		return nil, fmt.Errorf("listing locale dir: %w", err)
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading locale file: %w", err)
		}
		if err := b.merge(filepath.Base(path), data); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Default returns the embedded bundles. It panics if they are malformed,
// which only a broken build can cause.
func Default() *Bundle {
	b, err := Load("")
	if err != nil {
		panic(err)
	}
	return b
}

func (b *Bundle) merge(filename string, data []byte) error {
	lang := strings.TrimSuffix(filename, filepath.Ext(filename))
	var strs map[string]string
	if _, err := toml.Decode(string(data), &strs); err != nil {
		return fmt.Errorf("parsing locale %s: %w", filename, err)
	}
	if b.langs[lang] == nil {
		b.langs[lang] = make(map[string]string, len(strs))
	}
	for k, v := range strs {
		b.langs[lang][k] = v
	}
	return nil
}

// Resolve maps a client language code to a bundle language.
func Resolve(code string) string {
	if strings.HasPrefix(strings.ToLower(code), "zh") {
		return "zh"
	}
	return Fallback
}

// resolve prefers a loaded bundle matching the code or its base language
func (b *Bundle) resolve(code string) string {
	code = strings.ToLower(code)
	if _, ok := b.langs[code]; ok {
		return code
	}
	base, _, _ := strings.Cut(code, "-")
	if _, ok := b.langs[base]; ok {
		return base
	}
	return Resolve(code)
}

// Languages lists loaded bundle languages in sorted order.
func (b *Bundle) Languages() []string {
	langs := make([]string, 0, len(b.langs))
	for l := range b.langs {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// Text returns key in lang, falling back to English and then to the key itself.
func (b *Bundle) Text(key, lang string) string {
	if b == nil {
		return key
	}
	if s, ok := b.langs[b.resolve(lang)][key]; ok {
		return s
	}
	if s, ok := b.langs[Fallback][key]; ok {
		return s
	}
	return key
}

// Format returns Text with $name placeholders replaced from vars.
func (b *Bundle) Format(key, lang string, vars map[string]string) string {
	s := b.Text(key, lang)
	if len(vars) == 0 {
		return s
	}
	return os.Expand(s, func(name string) string {
		if v, ok := vars[name]; ok {
			return v
		}
		return "$" + name
	})
}
