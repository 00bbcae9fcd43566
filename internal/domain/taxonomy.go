package domain

// Category is a complaint category with its subcategories, as served by the
// department structure feed.
type Category struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Subcategories []Subcategory `json:"subcategories,omitempty"`
}

// Subcategory belongs to one category and routes to one or more departments.
type Subcategory struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Departments []Department `json:"departments,omitempty"`
}

// Department is an LGU office complaints are dispatched to.
type Department struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}
