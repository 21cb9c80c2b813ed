package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cellsentry/cell-sentry/pkg/models"
)

// DefaultOpenCellIDURL is the cell/get endpoint base.
const DefaultOpenCellIDURL = "https://opencellid.org/cell/get"

// OpenCellID queries the OpenCellID database. Requires an API key sent
// as a Bearer token.
type OpenCellID struct {
	url    string
	apiKey string
	client *http.Client
}

// NewOpenCellID creates the provider. An empty url selects the default.
func NewOpenCellID(url, apiKey string) *OpenCellID {
	if url == "" {
		url = DefaultOpenCellIDURL
	}
	return &OpenCellID{url: url, apiKey: apiKey, client: newHTTPClient()}
}

func (o *OpenCellID) Name() string { return "OpenCellID" }

type openCellIDResponse struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Range      float64 `json:"range"`
	Samples    int     `json:"samples"`
	Changeable bool    `json:"changeable"`
	Stat       string  `json:"stat"`
}

func (o *OpenCellID) Lookup(ctx context.Context, req Request) models.LookupResult {
	if o.apiKey == "" {
		return notFound()
	}
	cellID, mcc, mnc, err := numericIdentity(req)
	if err != nil {
		return notFound()
	}

	q := url.Values{}
	q.Set("mcc", strconv.Itoa(mcc))
	q.Set("mnc", strconv.Itoa(mnc))
	q.Set("lac", strconv.Itoa(req.LAC))
	q.Set("cellid", strconv.FormatInt(cellID, 10))
	q.Set("format", "json")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url+"?"+q.Encode(), nil)
	if err != nil {
		return failed(err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return failed(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return notFound()
	}
	if resp.StatusCode != http.StatusOK {
		return failed(fmt.Errorf("opencellid: status %d", resp.StatusCode))
	}

	var out openCellIDResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return failed(err)
	}
	// The API reports misses as stat:"fail" with HTTP 200.
	if out.Stat == "fail" {
		return notFound()
	}
	if out.Lat == 0 && out.Lon == 0 {
		return notFound()
	}

	result := models.LookupResult{
		Found:  true,
		Lat:    out.Lat,
		Lon:    out.Lon,
		Source: o.Name(),
	}
	if out.Range > 0 {
		result.Range = models.FloatPtr(out.Range)
	}
	if out.Samples > 0 {
		result.Samples = models.IntPtr(out.Samples)
	}
	result.Changeable = models.BoolPtr(out.Changeable)
	return result
}
