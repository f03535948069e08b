package bypass

import (
	"bytes"
	"net/http"
	"strings"
)

// Sources reported by the default detectors.
const (
	SourceCloudflare = "Cloudflare"
	SourceAkamai     = "Akamai"
	SourceDataDome   = "DataDome"
	SourcePerimeterX = "PerimeterX"
	SourceGoogle     = "Google"
)

// Response is the part of an HTTP response the detectors inspect.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Detector examines a response to determine if a bot protection mechanism
// blocked or challenged the request.
type Detector func(r *Response) (detected bool, source string)

// DefaultDetectors returns the standard list of bot protection detectors.
func DefaultDetectors() []Detector {
	return []Detector{
		detectGoogle,
		detectCloudflare,
		detectAkamai,
		detectDataDome,
		detectPerimeterX,
	}
}

// Analyze runs the response through detectors and reports the first match.
func Analyze(r *Response, detectors []Detector) (bool, string) {
	if r == nil {
		return false, ""
	}
	for _, d := range detectors {
		if detected, source := d(r); detected {
			return true, source
		}
	}
	return false, ""
}

// Google's search interstitial. It is served with 200, 429 or 503 and
// sometimes through a redirect to /sorry/.
var googleMarkers = [][]byte{
	[]byte("unusual traffic from your computer network"),
	[]byte(`id="captcha-form"`),
	[]byte("www.google.com/sorry/"),
}

func detectGoogle(r *Response) (bool, string) {
	if strings.Contains(r.URL, "/sorry/") {
		return true, SourceGoogle
	}
	for _, m := range googleMarkers {
		if bytes.Contains(r.Body, m) {
			return true, SourceGoogle
		}
	}
	if r.StatusCode == http.StatusTooManyRequests && bytes.Contains(r.Body, []byte("g-recaptcha")) {
		return true, SourceGoogle
	}
	return false, ""
}

func detectCloudflare(r *Response) (bool, string) {
	if r.StatusCode != http.StatusForbidden && r.StatusCode != http.StatusServiceUnavailable {
		return false, ""
	}
	if strings.Contains(strings.ToLower(r.Header.Get("Server")), "cloudflare") {
		return true, SourceCloudflare
	}
	if bytes.Contains(r.Body, []byte("cf-browser-verification")) ||
		bytes.Contains(r.Body, []byte("cloudflare-nginx")) ||
		bytes.Contains(r.Body, []byte("cf-turnstile")) ||
		bytes.Contains(r.Body, []byte("Attention Required! | Cloudflare")) {
		return true, SourceCloudflare
	}
	return false, ""
}

// detectAkamai looks for Akamai Bot Manager signatures.
func detectAkamai(r *Response) (bool, string) {
	if r.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if strings.Contains(strings.ToLower(r.Header.Get("Server")), "akamai") {
		return true, SourceAkamai
	}
	// generic "Reference #" block page
	if bytes.Contains(r.Body, []byte("Reference #")) && bytes.Contains(r.Body, []byte("Access Denied")) {
		return true, SourceAkamai
	}
	return false, ""
}

func detectDataDome(r *Response) (bool, string) {
	if r.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if strings.Contains(strings.ToLower(r.Header.Get("Server")), "datadome") ||
		r.Header.Get("X-DataDome") != "" || r.Header.Get("X-DataDome-Response") != "" {
		return true, SourceDataDome
	}
	if bytes.Contains(r.Body, []byte("geo.captcha-delivery.com")) || bytes.Contains(r.Body, []byte("datadome")) {
		return true, SourceDataDome
	}
	return false, ""
}

// detectPerimeterX looks for PerimeterX (HUMAN) signatures.
func detectPerimeterX(r *Response) (bool, string) {
	if r.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if r.Header.Get("X-Px-Captcha") != "" {
		return true, SourcePerimeterX
	}
	if bytes.Contains(r.Body, []byte("client.perimeterx.net")) ||
		bytes.Contains(r.Body, []byte("px-captcha")) ||
		bytes.Contains(r.Body, []byte("_pxBlock")) {
		return true, SourcePerimeterX
	}
	return false, ""
}
