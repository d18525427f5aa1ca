// Package upload moves finished artifacts to the collector. It covers
// the connectivity probe, the HTTP directory sync used by the polling
// mode and the persistent-socket uploader used by the streaming modes.
package upload

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/bugg-resources/buggd/internal/httputil"
	"github.com/bugg-resources/buggd/internal/led"
	"github.com/bugg-resources/buggd/internal/monitoring"
	"github.com/bugg-resources/buggd/internal/stopflag"
	"github.com/bugg-resources/buggd/internal/timeutil"
)

// BootConnectRetries is how many one-second-spaced probes a sync cycle
// attempts before declaring the node offline for this cycle.
const BootConnectRetries = 30

// Prober checks whether the collector is reachable.
type Prober interface {
	Probe() bool
}

// HTTPProber probes by issuing a GET against the collector and accepting
// any HTTP response as proof of connectivity.
type HTTPProber struct {
	Client httputil.HTTPClient
	URL    string
}

// Probe performs one connectivity check.
func (p *HTTPProber) Probe() bool {
	resp, err := p.Client.Get(p.URL)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// NewRetryableClient builds the production HTTP client: transport-level
// retries with backoff, quiet logging and a hard request timeout.
func NewRetryableClient() httputil.HTTPClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = time.Second
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = nil
	return httputil.NewStandardClient(rc.StandardClient())
}

// statusOKRange reports a 2xx response.
func statusOKRange(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}

// WaitForConnection probes up to maxAttempts times, one second apart,
// mirroring progress on the panel. It returns Connected on the first
// successful probe, Offline once attempts are exhausted or shutdown is
// requested.
func WaitForConnection(clock timeutil.Clock, prober Prober, panel *led.Panel, maxAttempts int, stop *stopflag.Flag) led.Connectivity {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for i := 0; i < maxAttempts; i++ {
		if stop != nil && stop.IsSet() {
			break
		}
		if prober.Probe() {
			panel.SetConnectivity(led.ConnectivityConnected)
			monitoring.Logf("upload: collector reachable after %d probe(s)", i+1)
			return led.ConnectivityConnected
		}
		panel.SetConnectivity(led.ConnectivityConnecting)
		clock.Sleep(time.Second)
	}
	panel.SetConnectivity(led.ConnectivityOffline)
	monitoring.Logf("upload: no connection after %d probes", maxAttempts)
	return led.ConnectivityOffline
}
