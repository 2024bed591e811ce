package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/sitepub/internal/model"
)

const defaultMaxTitleLength = 60

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// DefaultComponents lists the renderable component types and their required props.
var DefaultComponents = map[string][]string{
	"header":       nil,
	"navbar":       nil,
	"hero":         {"title"},
	"text":         {"content"},
	"features":     {"items"},
	"pricing":      {"plans"},
	"testimonials": {"items"},
	"faq":          {"items"},
	"stats":        {"items"},
	"team":         {"members"},
	"gallery":      {"images"},
	"logos":        {"items"},
	"cta":          {"title", "buttonText"},
	"contact":      {"email"},
	"image":        {"src"},
	"footer":       nil,
}

type Config struct {
	// ExtraComponents registers additional component types with their required props.
	ExtraComponents map[string][]string `yaml:"extra_components"`
	MaxTitleLength  int                 `yaml:"max_title_length" env:"VALIDATION_MAX_TITLE_LENGTH"`
}

func (c *Config) PrepareAndValidate() error {
	c.MaxTitleLength = lang.Check(c.MaxTitleLength, defaultMaxTitleLength)
	for name := range c.ExtraComponents {
		if strings.TrimSpace(name) == "" {
			return model.NewConfigurationError("validation.extra_components", "empty component type")
		}
	}
	return nil
}

// Gate checks a site state before anything is generated or committed.
// It is synchronous and makes no network calls.
type Gate struct {
	components     map[string][]string
	maxTitleLength int
}

func NewGate(cfg Config) (*Gate, error) {
	if err := cfg.PrepareAndValidate(); err != nil {
		return nil, err
	}
	components := make(map[string][]string, len(DefaultComponents)+len(cfg.ExtraComponents))
	for name, props := range DefaultComponents {
		components[name] = props
	}
	for name, props := range cfg.ExtraComponents {
		components[name] = props
	}
	return &Gate{components: components, maxTitleLength: cfg.MaxTitleLength}, nil
}

// Validate returns all errors and warnings found in site. Errors block publishing.
func (g *Gate) Validate(site model.Website) model.ValidationResult {
	r := &result{}

	r.check("meta.title", validation.Validate(site.Meta.Title, validation.Required))
	if site.Meta.Description == "" {
		r.warn("meta.description is empty, search engines will generate their own")
	}
	if len(site.Meta.Title) > g.maxTitleLength {
		r.warn(fmt.Sprintf("meta.title is longer than %d characters", g.maxTitleLength))
	}

	colors := site.Theme.Colors()
	for _, name := range sortedKeys(colors) {
		r.check("theme."+name, validateColor(colors[name]))
	}

	if len(site.Pages) == 0 {
		r.fail("site has no pages")
	}

	slugs := make(map[string]int, len(site.Pages))
	for i, page := range site.Pages {
		where := pageLabel(i, page)
		r.check(where+".slug", validation.Validate(page.Slug, validation.Required))
		r.check(where+".title", validation.Validate(page.Title, validation.Required))
		if len(page.Title) > g.maxTitleLength {
			r.warn(fmt.Sprintf("%s.title is longer than %d characters", where, g.maxTitleLength))
		}
		if page.Slug != "" {
			if first, ok := slugs[page.Slug]; ok {
				r.fail(fmt.Sprintf("%s: duplicate slug %q (also used by page %d)", where, page.Slug, first+1))
			} else {
				slugs[page.Slug] = i
			}
		}
		if len(page.Components) == 0 {
			r.warn(where + " has no components")
		}
		for j, comp := range page.Components {
			g.validateComponent(r, fmt.Sprintf("%s.components[%d]", where, j), comp)
		}
	}

	return model.ValidationResult{
		Valid:    len(r.errors) == 0,
		Errors:   r.errors,
		Warnings: r.warnings,
	}
}

func (g *Gate) validateComponent(r *result, where string, comp model.Component) {
	required, ok := g.components[comp.Type]
	if !ok {
		r.fail(fmt.Sprintf("%s: unregistered component type %q", where, comp.Type))
		return
	}
	for _, prop := range required {
		r.check(fmt.Sprintf("%s (%s).%s", where, comp.Type, prop), validation.Validate(comp.Props[prop], validation.Required))
	}
	for _, prop := range sortedKeys(comp.Props) {
		if !strings.HasSuffix(prop, "Color") {
			continue
		}
		if value, ok := comp.Props[prop].(string); ok && value != "" {
			r.check(fmt.Sprintf("%s (%s).%s", where, comp.Type, prop), validateColor(value))
		}
	}
}

func validateColor(value string) error {
	return validation.Validate(value, validation.Match(hexColor).Error("must be a hex color like #fff or #ffffff"))
}

type result struct {
	errors   []string
	warnings []string
}

func (r *result) check(field string, err error) {
	if err != nil {
		r.fail(field + ": " + err.Error())
	}
}

func (r *result) fail(msg string) { r.errors = append(r.errors, msg) }

func (r *result) warn(msg string) { r.warnings = append(r.warnings, msg) }

func pageLabel(i int, page model.Page) string {
	if page.Slug != "" {
		return fmt.Sprintf("pages[%s]", page.Slug)
	}
	return fmt.Sprintf("pages[%d]", i)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
