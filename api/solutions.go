package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jrsteele09/go-auth-gateway/users"
	"github.com/pkg/errors"
)

// Solution is a published or draft fix for a known crash.
type Solution struct {
	ID                string   `json:"id"`
	Title             string   `json:"title"`
	CategoryID        string   `json:"categoryId"`
	CategoryName      string   `json:"categoryName,omitempty"`
	Difficulty        string   `json:"difficulty,omitempty"`
	Version           string   `json:"version,omitempty"`
	UpdateTime        string   `json:"updateTime,omitempty"`
	Description       string   `json:"description,omitempty"`
	Steps             []string `json:"steps,omitempty"`
	Notes             string   `json:"notes,omitempty"`
	Images            []string `json:"images,omitempty"`
	CreatedByUsername string   `json:"createdByUsername,omitempty"`
}

type SolutionCreate struct {
	CategoryID  string   `json:"categoryId"`
	Title       string   `json:"title"`
	Difficulty  string   `json:"difficulty,omitempty"`
	Version     string   `json:"version,omitempty"`
	Description string   `json:"description,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	Steps       []string `json:"steps,omitempty"`
}

// SolutionUpdate replaces the non-empty fields of a solution.
type SolutionUpdate struct {
	Title       string   `json:"title,omitempty"`
	Difficulty  string   `json:"difficulty,omitempty"`
	Version     string   `json:"version,omitempty"`
	Description string   `json:"description,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	Steps       []string `json:"steps,omitempty"`
	ImageURLs   []string `json:"imageUrls,omitempty"`
}

type Category struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Icon              string `json:"icon,omitempty"`
	Description       string `json:"description,omitempty"`
	Color             string `json:"color,omitempty"`
	CreatedByUsername string `json:"createdByUsername,omitempty"`
}

func solutionPath(prefix, id string, action ...string) string {
	p := prefix + "/" + url.PathEscape(id)
	for _, a := range action {
		p += "/" + a
	}
	return p
}

// ListSolutions pages through published solutions.
func (c *Client) ListSolutions(ctx context.Context, page PageRequest) (*Page[Solution], error) {
	var out Page[Solution]
	if err := c.call(ctx, http.MethodGet, "/solutions", page.values(), nil, &out); err != nil {
		return nil, errors.Wrap(err, "list solutions")
	}
	return &out, nil
}

func (c *Client) GetSolution(ctx context.Context, id string) (*Solution, error) {
	var out Solution
	if err := c.call(ctx, http.MethodGet, solutionPath("/solutions", id), nil, nil, &out); err != nil {
		return nil, errors.Wrapf(err, "get solution %s", id)
	}
	return &out, nil
}

func (c *Client) ListCategories(ctx context.Context) ([]Category, error) {
	var out []Category
	if err := c.call(ctx, http.MethodGet, "/solutions/categories", nil, nil, &out); err != nil {
		return nil, errors.Wrap(err, "list categories")
	}
	return out, nil
}

// GetUser looks up any user's profile. Admin only.
func (c *Client) GetUser(ctx context.Context, userID int64) (*users.UserInfo, error) {
	var out users.UserInfo
	if err := c.call(ctx, http.MethodGet, "/admin/users/"+strconv.FormatInt(userID, 10), nil, nil, &out); err != nil {
		return nil, errors.Wrapf(err, "get user %d", userID)
	}
	return &out, nil
}

func (c *Client) CreateSolution(ctx context.Context, create SolutionCreate) (*Solution, error) {
	var out Solution
	if err := c.call(ctx, http.MethodPost, "/admin/solutions", nil, create, &out); err != nil {
		return nil, errors.Wrap(err, "create solution")
	}
	return &out, nil
}

func (c *Client) UpdateSolution(ctx context.Context, id string, update SolutionUpdate) (*Solution, error) {
	var out Solution
	if err := c.call(ctx, http.MethodPut, solutionPath("/admin/solutions", id), nil, update, &out); err != nil {
		return nil, errors.Wrapf(err, "update solution %s", id)
	}
	return &out, nil
}

func (c *Client) DeleteSolution(ctx context.Context, id string) error {
	return errors.Wrapf(c.call(ctx, http.MethodDelete, solutionPath("/admin/solutions", id), nil, nil, nil), "delete solution %s", id)
}

// SubmitSolution sends a draft for developer review.
func (c *Client) SubmitSolution(ctx context.Context, id string) error {
	return errors.Wrapf(c.call(ctx, http.MethodPost, solutionPath("/admin/solutions", id, "submit-review"), nil, nil, nil), "submit solution %s", id)
}

// WithdrawSolution takes a submitted solution back to draft.
func (c *Client) WithdrawSolution(ctx context.Context, id string) error {
	return errors.Wrapf(c.call(ctx, http.MethodPost, solutionPath("/admin/solutions", id, "withdraw"), nil, nil, nil), "withdraw solution %s", id)
}

// MySolutions pages through the caller's own solutions, optionally filtered by review status.
func (c *Client) MySolutions(ctx context.Context, page PageRequest, status string) (*Page[Solution], error) {
	query := page.values()
	if status != "" {
		query.Set("status", status)
	}
	var out Page[Solution]
	if err := c.call(ctx, http.MethodGet, "/admin/solutions/my", query, nil, &out); err != nil {
		return nil, errors.Wrap(err, "list my solutions")
	}
	return &out, nil
}
