package domain

// Station is a stop returned by the upstream location search
type Station struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Place string `json:"place,omitempty"`
}
