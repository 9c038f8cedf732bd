package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/noah-isme/uni-onboarding-api/internal/models"
	"github.com/noah-isme/uni-onboarding-api/pkg/config"
)

// RosterCandidate is one entry of a candidate listing for a category window.
type RosterCandidate struct {
	ExternalID     string    `json:"external_id"`
	DocumentType   string    `json:"document_type"`
	DocumentNumber string    `json:"document_number"`
	FullName       string    `json:"full_name"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RosterDetail is the full roster record looked up by external id.
type RosterDetail struct {
	ExternalID     string   `json:"external_id"`
	DocumentType   string   `json:"document_type"`
	DocumentNumber string   `json:"document_number"`
	FullName       string   `json:"full_name"`
	Email          string   `json:"email"`
	Phone          string   `json:"phone"`
	Program        string   `json:"program"`
	Modality       string   `json:"modality"`
	Section        string   `json:"section"`
	CourseCodes    []string `json:"course_codes"`
}

// RosterClient consumes the external roster source.
type RosterClient struct {
	http httpClient
}

// NewRosterClient builds a roster client.
func NewRosterClient(cfg config.ClientConfig) *RosterClient {
	return &RosterClient{http: newHTTPClient(cfg)}
}

// ListCandidates returns candidate records for a category, optionally
// bounded to [from, to].
func (c *RosterClient) ListCandidates(ctx context.Context, category models.RecordCategory, from, to *time.Time) ([]RosterCandidate, error) {
	q := url.Values{}
	q.Set("category", string(category))
	if from != nil {
		q.Set("from", from.UTC().Format(time.RFC3339))
	}
	if to != nil {
		q.Set("to", to.UTC().Format(time.RFC3339))
	}

	var out struct {
		Records []RosterCandidate `json:"records"`
	}
	status, err := c.http.doJSON(ctx, http.MethodGet, "/candidates?"+q.Encode(), nil, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("list candidates: unexpected status %d", status)
	}
	return out.Records, nil
}

// GetDetail resolves the total record for an external id. Returns
// ErrNotFound when the roster has no such record.
func (c *RosterClient) GetDetail(ctx context.Context, externalID string) (*RosterDetail, error) {
	var out RosterDetail
	status, err := c.http.doJSON(ctx, http.MethodGet, "/records/"+url.PathEscape(externalID), nil, &out)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return &out, nil
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("get detail %s: unexpected status %d", externalID, status)
	}
}
