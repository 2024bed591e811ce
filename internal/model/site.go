package model

// Website is the site state edited by the user and published by the pipeline.
type Website struct {
	Meta  SiteMeta `json:"meta"`
	Theme Theme    `json:"theme"`
	Pages []Page   `json:"pages"`
}

type SiteMeta struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Language    string   `json:"language,omitempty"`
	Favicon     string   `json:"favicon,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
}

type Theme struct {
	PrimaryColor    string `json:"primaryColor,omitempty"`
	SecondaryColor  string `json:"secondaryColor,omitempty"`
	AccentColor     string `json:"accentColor,omitempty"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
	TextColor       string `json:"textColor,omitempty"`
	Font            string `json:"font,omitempty"`
}

// Colors returns the theme colors keyed by their JSON field name, skipping unset ones.
func (t Theme) Colors() map[string]string {
	out := make(map[string]string, 5)
	for name, value := range map[string]string{
		"primaryColor":    t.PrimaryColor,
		"secondaryColor":  t.SecondaryColor,
		"accentColor":     t.AccentColor,
		"backgroundColor": t.BackgroundColor,
		"textColor":       t.TextColor,
	} {
		if value != "" {
			out[name] = value
		}
	}
	return out
}

type Page struct {
	ID         string      `json:"id"`
	Slug       string      `json:"slug"`
	Title      string      `json:"title"`
	Components []Component `json:"components"`
}

type Component struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	Props map[string]any `json:"props,omitempty"`
}

// Slugs returns page slugs in page order.
func (w Website) Slugs() []string {
	out := make([]string, 0, len(w.Pages))
	for _, p := range w.Pages {
		out = append(out, p.Slug)
	}
	return out
}

// PublishRequest is the input of a single publish.
type PublishRequest struct {
	Website       Website `json:"website"`
	CommitMessage string  `json:"commitMessage"`
	DryRun        bool    `json:"dryRun"`
}

// ValidationResult is the outcome of the validation gate.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Err returns a *ValidationError when the result is not valid.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Errors: r.Errors}
}
