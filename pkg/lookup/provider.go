// Package lookup implements the tower verification pipeline: a
// prioritized chain of geolocation providers, a GPS cross-check, and
// updates to the tower registry.
package lookup

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cellsentry/cell-sentry/pkg/models"
)

const callTimeout = 10 * time.Second

// Request identifies the cell to verify, with optional radio context
// forwarded to providers that accept it.
type Request struct {
	CellID  string
	MCC     string
	MNC     string
	LAC     int
	RAT     string
	SimSlot int

	PCI       *int
	TA        *int
	SignalDBM *int
}

// Provider resolves a cell identity to coordinates. Implementations
// return Found=false for "this provider does not know the cell"; an Err
// is only set for transport or protocol failures. Either way the chain
// moves on to the next provider.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, req Request) models.LookupResult
}

// newHTTPClient builds the shared provider client. TLS 1.2 minimum,
// bounded connect and call timeouts.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: callTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			DialContext: (&net.Dialer{
				Timeout: 5 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 5 * time.Second,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// radioType maps a RAT label to a provider dialect token. The wcdma
// argument selects between "wcdma" and "umts" for 3G.
func radioType(rat string, wcdma bool) string {
	switch {
	case strings.Contains(rat, "NR"), strings.Contains(rat, "5G"):
		return "nr"
	case strings.Contains(rat, "LTE"), strings.Contains(rat, "4G"):
		return "lte"
	case strings.Contains(rat, "WCDMA"), strings.Contains(rat, "HSPA"), strings.Contains(rat, "UMTS"):
		if wcdma {
			return "wcdma"
		}
		return "umts"
	case strings.Contains(rat, "GSM"):
		return "gsm"
	default:
		return "lte"
	}
}

// numericIdentity converts the request identity to the numeric form the
// provider APIs expect. Cell ids arrive as decimal or bare hex.
func numericIdentity(req Request) (cellID int64, mcc, mnc int, err error) {
	cellID, err = strconv.ParseInt(req.CellID, 10, 64)
	if err != nil {
		cellID, err = strconv.ParseInt(req.CellID, 16, 64)
		if err != nil {
			return 0, 0, 0, err
		}
	}
	mcc, err = strconv.Atoi(req.MCC)
	if err != nil {
		return 0, 0, 0, err
	}
	mnc, err = strconv.Atoi(req.MNC)
	if err != nil {
		return 0, 0, 0, err
	}
	return cellID, mcc, mnc, nil
}

func notFound() models.LookupResult {
	return models.LookupResult{Found: false}
}

func failed(err error) models.LookupResult {
	return models.LookupResult{Found: false, Err: err.Error()}
}
