package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/noah-isme/uni-onboarding-api/pkg/config"
)

// LearningProfile carries the attributes for creating a platform user.
type LearningProfile struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// LearningClient consumes the external learning platform.
type LearningClient struct {
	http httpClient
}

// NewLearningClient builds a learning-platform client.
func NewLearningClient(cfg config.ClientConfig) *LearningClient {
	return &LearningClient{http: newHTTPClient(cfg)}
}

// FindOrCreateUser returns the platform user id for a username, creating the
// user when absent. A 409 from the platform means the user already exists
// and is resolved with a lookup.
func (c *LearningClient) FindOrCreateUser(ctx context.Context, username string, profile LearningProfile) (string, error) {
	body := struct {
		Username string `json:"username"`
		LearningProfile
	}{Username: username, LearningProfile: profile}

	var out struct {
		ID string `json:"id"`
	}
	status, err := c.http.doJSON(ctx, http.MethodPost, "/users", body, &out)
	if err != nil {
		return "", err
	}
	switch status {
	case http.StatusOK, http.StatusCreated:
		return out.ID, nil
	case http.StatusConflict:
		return c.findUser(ctx, username)
	default:
		return "", fmt.Errorf("create user %s: unexpected status %d", username, status)
	}
}

func (c *LearningClient) findUser(ctx context.Context, username string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	status, err := c.http.doJSON(ctx, http.MethodGet, "/users/"+url.PathEscape(username), nil, &out)
	if err != nil {
		return "", err
	}
	switch status {
	case http.StatusOK:
		return out.ID, nil
	case http.StatusNotFound:
		return "", ErrNotFound
	default:
		return "", fmt.Errorf("find user %s: unexpected status %d", username, status)
	}
}

// FindCourse resolves a course id by short code. Returns ErrNotFound when
// the platform has no matching course.
func (c *LearningClient) FindCourse(ctx context.Context, shortcode string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	status, err := c.http.doJSON(ctx, http.MethodGet, "/courses/"+url.PathEscape(shortcode), nil, &out)
	if err != nil {
		return "", err
	}
	switch status {
	case http.StatusOK:
		return out.ID, nil
	case http.StatusNotFound:
		return "", ErrNotFound
	default:
		return "", fmt.Errorf("find course %s: unexpected status %d", shortcode, status)
	}
}

// Enroll registers a platform user into a course with the given role.
// Enrolling twice is accepted by the platform and treated as success.
func (c *LearningClient) Enroll(ctx context.Context, userID, courseID, role string) error {
	body := struct {
		UserID   string `json:"user_id"`
		CourseID string `json:"course_id"`
		Role     string `json:"role"`
	}{UserID: userID, CourseID: courseID, Role: role}

	status, err := c.http.doJSON(ctx, http.MethodPost, "/enrollments", body, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusConflict {
		return fmt.Errorf("enroll user %s in %s: unexpected status %d", userID, courseID, status)
	}
	return nil
}

// DeleteUser removes a platform user.
func (c *LearningClient) DeleteUser(ctx context.Context, username string) error {
	status, err := c.http.doJSON(ctx, http.MethodDelete, "/users/"+url.PathEscape(username), nil, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("delete user %s: unexpected status %d", username, status)
	}
}
