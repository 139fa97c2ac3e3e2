package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jrsteele09/go-auth-gateway/users"
	"github.com/pkg/errors"
)

// AdminApplication is a user's request to be granted the admin role.
type AdminApplication struct {
	ID                int64  `json:"id"`
	UserID            int64  `json:"userId"`
	Username          string `json:"username"`
	Email             string `json:"email,omitempty"`
	Status            string `json:"status"`
	Reason            string `json:"reason,omitempty"`
	Feedback          string `json:"feedback,omitempty"`
	ProcessorUsername string `json:"processorUsername,omitempty"`
	CreatedAt         string `json:"createdAt,omitempty"`
	ProcessedAt       string `json:"processedAt,omitempty"`
}

func developerPath(resource string, id int64, action string) string {
	return "/developer/" + resource + "/" + strconv.FormatInt(id, 10) + "/" + action
}

func reasonQuery(reason string) url.Values {
	if reason == "" {
		return nil
	}
	return url.Values{"reason": {reason}}
}

func (c *Client) ListUsers(ctx context.Context, page PageRequest) (*Page[users.UserInfo], error) {
	var out Page[users.UserInfo]
	if err := c.call(ctx, http.MethodGet, "/developer/users", page.values(), nil, &out); err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	return &out, nil
}

func (c *Client) PromoteToAdmin(ctx context.Context, userID int64) error {
	return errors.Wrapf(c.call(ctx, http.MethodPost, developerPath("users", userID, "promote"), nil, nil, nil), "promote user %d", userID)
}

func (c *Client) RevokeAdmin(ctx context.Context, userID int64) error {
	return errors.Wrapf(c.call(ctx, http.MethodPost, developerPath("users", userID, "revoke-admin"), nil, nil, nil), "revoke admin from user %d", userID)
}

func (c *Client) PendingApplications(ctx context.Context, page PageRequest) (*Page[AdminApplication], error) {
	var out Page[AdminApplication]
	if err := c.call(ctx, http.MethodGet, "/developer/admin-applications/pending", page.values(), nil, &out); err != nil {
		return nil, errors.Wrap(err, "list pending applications")
	}
	return &out, nil
}

func (c *Client) ApproveApplication(ctx context.Context, applicationID int64) error {
	return errors.Wrapf(c.call(ctx, http.MethodPost, developerPath("admin-applications", applicationID, "approve"), nil, nil, nil), "approve application %d", applicationID)
}

// RejectApplication declines an admin application. reason is optional.
func (c *Client) RejectApplication(ctx context.Context, applicationID int64, reason string) error {
	return errors.Wrapf(c.call(ctx, http.MethodPost, developerPath("admin-applications", applicationID, "reject"), reasonQuery(reason), nil, nil), "reject application %d", applicationID)
}

// PendingSolutions pages through solutions awaiting review.
func (c *Client) PendingSolutions(ctx context.Context, page PageRequest) (*Page[Solution], error) {
	var out Page[Solution]
	if err := c.call(ctx, http.MethodGet, "/developer/solutions/pending", page.values(), nil, &out); err != nil {
		return nil, errors.Wrap(err, "list pending solutions")
	}
	return &out, nil
}

func (c *Client) ApproveSolution(ctx context.Context, id string) error {
	return errors.Wrapf(c.call(ctx, http.MethodPost, solutionPath("/developer/solutions", id, "approve"), nil, nil, nil), "approve solution %s", id)
}

func (c *Client) RejectSolution(ctx context.Context, id, reason string) error {
	return errors.Wrapf(c.call(ctx, http.MethodPost, solutionPath("/developer/solutions", id, "reject"), reasonQuery(reason), nil, nil), "reject solution %s", id)
}

// UpdatePublishedSolution edits a solution that is already live.
func (c *Client) UpdatePublishedSolution(ctx context.Context, id string, update SolutionUpdate) (*Solution, error) {
	var out Solution
	if err := c.call(ctx, http.MethodPut, solutionPath("/developer/solutions", id), nil, update, &out); err != nil {
		return nil, errors.Wrapf(err, "update published solution %s", id)
	}
	return &out, nil
}
