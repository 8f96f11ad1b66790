package googleads

import (
	"context"
	"net/http"
	"strings"

	"github.com/ajitpratap0/adsync/pkg/errors"
	jsonpkg "github.com/ajitpratap0/adsync/pkg/json"
	"go.uber.org/zap"
)

const customerPathPrefix = "customers/"

// Row is one GoogleAdsRow as returned by the REST search endpoint
type Row jsonpkg.RawMessage

// Decode unmarshals the row into v
func (r Row) Decode(v interface{}) error {
	if err := jsonpkg.Unmarshal(r, v); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decode search row")
	}
	return nil
}

// Map decodes the row into nested maps, keeping numbers as json.Number
func (r Row) Map() (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := jsonpkg.UnmarshalNumbers(r, &m); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode search row")
	}
	return m, nil
}

// MarshalJSON returns the raw row
func (r Row) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	return r, nil
}

type searchRequest struct {
	Query     string `json:"query"`
	PageToken string `json:"pageToken,omitempty"`
}

type searchResponse struct {
	Results       []jsonpkg.RawMessage `json:"results"`
	NextPageToken string               `json:"nextPageToken"`
}

type listAccessibleCustomersResponse struct {
	ResourceNames []string `json:"resourceNames"`
}

// Search runs a GAQL query against customerID and returns every row,
// following page tokens until the result set is exhausted.
func (c *Client) Search(ctx context.Context, customerID, query string) ([]Row, error) {
	url := c.endpoint(customerPathPrefix + customerID + "/googleAds:search")

	var (
		rows      []Row
		pageToken string
		pages     int
	)
	for {
		body, err := c.do(ctx, OpSearch, http.MethodPost, url, searchRequest{Query: query, PageToken: pageToken})
		if err != nil {
			return nil, err.WithDetail("customer_id", customerID)
		}

		var resp searchResponse
		if err := jsonpkg.Unmarshal(body, &resp); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode search response").
				WithDetail("customer_id", customerID)
		}
		for _, raw := range resp.Results {
			rows = append(rows, Row(raw))
		}
		pages++

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	c.logger.Debug("search complete",
		zap.String("customer_id", customerID),
		zap.Int("rows", len(rows)),
		zap.Int("pages", pages))
	return rows, nil
}

// ListAccessibleCustomers returns the resource names ("customers/{id}") of
// the accounts directly accessible to the authenticated user.
func (c *Client) ListAccessibleCustomers(ctx context.Context) ([]string, error) {
	body, err := c.do(ctx, OpListAccessibleCustomers, http.MethodGet, c.endpoint("customers:listAccessibleCustomers"), nil)
	if err != nil {
		return nil, err
	}

	var resp listAccessibleCustomersResponse
	if err := jsonpkg.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode accessible customers")
	}
	return resp.ResourceNames, nil
}

// ParseCustomerPath extracts the customer ID from a "customers/{id}" resource name
func ParseCustomerPath(name string) (string, error) {
	id, ok := strings.CutPrefix(name, customerPathPrefix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", errors.Newf(errors.ErrorTypeValidation, "invalid customer resource name %q", name)
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return "", errors.Newf(errors.ErrorTypeValidation, "invalid customer resource name %q", name)
		}
	}
	return id, nil
}
