// Package views renders the printable HTML pages.
package views

import (
	"github.com/a-h/templ"

	"github.com/pavelanni/penmark/internal/model"
)

// themeVars exposes the theme colours as CSS custom properties.
func themeVars(t model.Theme) templ.Attributes {
	return templ.Attributes{
		"style": "--primary:" + t.Primary + ";--secondary:" + t.Secondary + ";--accent:" + t.Accent,
	}
}

// workImageAttrs sets the data URL as the image source. templ's URL
// sanitiser only lets http(s) and relative URLs through, so the stored
// data URL is passed as a plain attribute value.
func workImageAttrs(img model.EncodedImage) templ.Attributes {
	return templ.Attributes{"src": string(img)}
}
