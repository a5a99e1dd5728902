package models

// Recipe is one suggestion from the recipe lookup service, trimmed to the
// fields the API serves.
type Recipe struct {
	ID                    int    `json:"id"`
	Title                 string `json:"title"`
	Image                 string `json:"image,omitempty"`
	UsedIngredientCount   int    `json:"used_ingredient_count"`
	MissedIngredientCount int    `json:"missed_ingredient_count"`
	Likes                 int    `json:"likes"`
}
