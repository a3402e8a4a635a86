package model

// Theme is a colour scheme for the report UI.
type Theme struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
	Accent    string `json:"accent"`
	Premium   bool   `json:"isPremium"`
}

// Themes is the built-in theme list.
var Themes = []Theme{
	{ID: "indigo", Name: "Klasik İndigo", Primary: "#4f46e5", Secondary: "#eef2ff", Accent: "#6366f1"},
	{ID: "emerald", Name: "Zümrüt Yeşili", Primary: "#059669", Secondary: "#ecfdf5", Accent: "#10b981"},
	{ID: "rose", Name: "Gül Kurusu", Primary: "#e11d48", Secondary: "#fff1f2", Accent: "#fb7185"},
}

// FindTheme returns the built-in theme with the given id.
func FindTheme(id string) (Theme, bool) {
	for _, t := range Themes {
		if t.ID == id {
			return t, true
		}
	}
	return Theme{}, false
}

// ThemeOrDefault returns the theme with the given id, falling back to the default.
func ThemeOrDefault(id string) Theme {
	if t, ok := FindTheme(id); ok {
		return t
	}
	t, _ := FindTheme(DefaultThemeID)
	return t
}
