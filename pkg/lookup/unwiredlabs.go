package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cellsentry/cell-sentry/pkg/models"
)

// DefaultUnwiredLabsURL is the LocationAPI process endpoint.
const DefaultUnwiredLabsURL = "https://us1.unwiredlabs.com/v2/process.php"

// UnwiredLabs queries the LocationAPI service. Requires a token; runs
// last in the chain.
type UnwiredLabs struct {
	url    string
	token  string
	client *http.Client
}

// NewUnwiredLabs creates the provider. An empty url selects the default.
func NewUnwiredLabs(url, token string) *UnwiredLabs {
	if url == "" {
		url = DefaultUnwiredLabsURL
	}
	return &UnwiredLabs{url: url, token: token, client: newHTTPClient()}
}

func (u *UnwiredLabs) Name() string { return "UnwiredLabs" }

type unwiredCell struct {
	LAC int   `json:"lac"`
	CID int64 `json:"cid"`
}

type unwiredRequest struct {
	Token   string        `json:"token"`
	Radio   string        `json:"radio"`
	MCC     int           `json:"mcc"`
	MNC     int           `json:"mnc"`
	Cells   []unwiredCell `json:"cells"`
	Address int           `json:"address"`
}

type unwiredResponse struct {
	Status   string   `json:"status"`
	Lat      float64  `json:"lat"`
	Lon      *float64 `json:"lon"`
	Lng      *float64 `json:"lng"`
	Accuracy float64  `json:"accuracy"`
}

func (u *UnwiredLabs) Lookup(ctx context.Context, req Request) models.LookupResult {
	if u.token == "" {
		return notFound()
	}
	cellID, mcc, mnc, err := numericIdentity(req)
	if err != nil {
		return notFound()
	}

	body, err := json.Marshal(unwiredRequest{
		Token: u.token,
		Radio: radioType(req.RAT, false),
		MCC:   mcc,
		MNC:   mnc,
		Cells: []unwiredCell{{LAC: req.LAC, CID: cellID}},
	})
	if err != nil {
		return failed(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(body))
	if err != nil {
		return failed(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(httpReq)
	if err != nil {
		return failed(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return failed(fmt.Errorf("unwiredlabs: status %d", resp.StatusCode))
	}

	var out unwiredResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return failed(err)
	}
	if out.Status != "ok" {
		return notFound()
	}

	// Some deployments answer with "lon", others with "lng".
	var lon float64
	switch {
	case out.Lon != nil:
		lon = *out.Lon
	case out.Lng != nil:
		lon = *out.Lng
	default:
		return notFound()
	}
	if out.Lat == 0 && lon == 0 {
		return notFound()
	}

	result := models.LookupResult{
		Found:  true,
		Lat:    out.Lat,
		Lon:    lon,
		Source: u.Name(),
	}
	if out.Accuracy > 0 {
		result.Range = models.FloatPtr(out.Accuracy)
	}
	return result
}
