package complaints

import (
	"context"
	"fmt"
	"net/url"

	"github.com/citizenlink/heatmap-service/internal/domain"
)

const structurePath = "/api/department-structure"

// Categories lists complaint categories without their subcategories.
func (c *Client) Categories(ctx context.Context) ([]domain.Category, error) {
	var out []domain.Category
	if err := c.get(ctx, structurePath+"/categories", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Subcategories lists the subcategories of one category.
func (c *Client) Subcategories(ctx context.Context, categoryID string) ([]domain.Subcategory, error) {
	var out []domain.Subcategory
	path := fmt.Sprintf("%s/categories/%s/subcategories", structurePath, url.PathEscape(categoryID))
	if err := c.get(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Departments lists the departments a subcategory routes to.
func (c *Client) Departments(ctx context.Context, subcategoryID string) ([]domain.Department, error) {
	var out []domain.Department
	path := fmt.Sprintf("%s/subcategories/%s/departments", structurePath, url.PathEscape(subcategoryID))
	if err := c.get(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TaxonomySource is the department structure feed.
type TaxonomySource interface {
	Categories(ctx context.Context) ([]domain.Category, error)
	Subcategories(ctx context.Context, categoryID string) ([]domain.Subcategory, error)
	Departments(ctx context.Context, subcategoryID string) ([]domain.Department, error)
}

// Taxonomy assembles the full category tree used to populate filter dropdowns.
func Taxonomy(ctx context.Context, src TaxonomySource) ([]domain.Category, error) {
	cats, err := src.Categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	for i := range cats {
		subs, err := src.Subcategories(ctx, cats[i].ID)
		if err != nil {
			return nil, fmt.Errorf("list subcategories of %s: %w", cats[i].ID, err)
		}
		for j := range subs {
			depts, err := src.Departments(ctx, subs[j].ID)
			if err != nil {
				return nil, fmt.Errorf("list departments of %s: %w", subs[j].ID, err)
			}
			subs[j].Departments = depts
		}
		cats[i].Subcategories = subs
	}
	return cats, nil
}
