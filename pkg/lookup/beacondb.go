package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cellsentry/cell-sentry/pkg/models"
)

// DefaultBeaconDBURL is the public geolocate endpoint.
const DefaultBeaconDBURL = "https://api.beacondb.net/v2/geolocate"

// BeaconDB queries the BeaconDB geolocate API (MLS wire format). No key
// required, so it runs first in the chain.
type BeaconDB struct {
	url    string
	client *http.Client
}

// NewBeaconDB creates the provider. An empty url selects the default.
func NewBeaconDB(url string) *BeaconDB {
	if url == "" {
		url = DefaultBeaconDBURL
	}
	return &BeaconDB{url: url, client: newHTTPClient()}
}

func (b *BeaconDB) Name() string { return "BeaconDB" }

type mlsCellTower struct {
	RadioType         string `json:"radioType"`
	MobileCountryCode int    `json:"mobileCountryCode"`
	MobileNetworkCode int    `json:"mobileNetworkCode"`
	LocationAreaCode  int    `json:"locationAreaCode"`
	CellID            int64  `json:"cellId"`
	PSC               *int   `json:"psc,omitempty"`
	TimingAdvance     *int   `json:"timingAdvance,omitempty"`
	SignalStrength    *int   `json:"signalStrength,omitempty"`
}

type mlsRequest struct {
	CellTowers []mlsCellTower `json:"cellTowers"`
	ConsiderIP bool           `json:"considerIp"`
}

type mlsResponse struct {
	Location struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
}

func (b *BeaconDB) Lookup(ctx context.Context, req Request) models.LookupResult {
	cellID, mcc, mnc, err := numericIdentity(req)
	if err != nil {
		return notFound()
	}

	body, err := json.Marshal(mlsRequest{
		CellTowers: []mlsCellTower{{
			RadioType:         radioType(req.RAT, true),
			MobileCountryCode: mcc,
			MobileNetworkCode: mnc,
			LocationAreaCode:  req.LAC,
			CellID:            cellID,
			PSC:               req.PCI,
			TimingAdvance:     req.TA,
			SignalStrength:    req.SignalDBM,
		}},
		ConsiderIP: false,
	})
	if err != nil {
		return failed(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return failed(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return failed(err)
	}
	defer resp.Body.Close()

	// 404 is the documented "cell unknown" answer.
	if resp.StatusCode == http.StatusNotFound {
		return notFound()
	}
	if resp.StatusCode != http.StatusOK {
		return failed(fmt.Errorf("beacondb: status %d", resp.StatusCode))
	}

	var out mlsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return failed(err)
	}
	if out.Location.Lat == 0 && out.Location.Lng == 0 {
		return notFound()
	}

	result := models.LookupResult{
		Found:  true,
		Lat:    out.Location.Lat,
		Lon:    out.Location.Lng,
		Source: b.Name(),
	}
	if out.Accuracy > 0 {
		result.Range = models.FloatPtr(out.Accuracy)
	}
	return result
}
