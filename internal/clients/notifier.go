package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/noah-isme/uni-onboarding-api/pkg/config"
)

// NotifierClient consumes the external templated-message service.
type NotifierClient struct {
	http httpClient
}

// NewNotifierClient builds a notifier client.
func NewNotifierClient(cfg config.ClientConfig) *NotifierClient {
	return &NotifierClient{http: newHTTPClient(cfg)}
}

// Send dispatches a templated message to an address.
func (c *NotifierClient) Send(ctx context.Context, address, template string, variables map[string]string) error {
	body := struct {
		Address   string            `json:"address"`
		Template  string            `json:"template"`
		Variables map[string]string `json:"variables,omitempty"`
	}{Address: address, Template: template, Variables: variables}

	status, err := c.http.doJSON(ctx, http.MethodPost, "/messages", body, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusAccepted && status != http.StatusCreated {
		return fmt.Errorf("send %s to %s: unexpected status %d", template, address, status)
	}
	return nil
}
