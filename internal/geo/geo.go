package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"
)

// DefaultLocation is the sentinel returned when every lookup path fails.
const DefaultLocation = "All Locations"

// NamedLocation is one entry of the fixed list of known marketplace areas.
type NamedLocation struct {
	Name string
	Lat  float64
	Lon  float64
}

// namedLocations are the marketplace's pickup areas. Nearest-match is by
// squared Euclidean distance over raw lat/lon, which is plenty at this scale.
var namedLocations = []NamedLocation{
	{Name: "Famagusta", Lat: 35.1254, Lon: 33.9412},
	{Name: "Nicosia", Lat: 35.1856, Lon: 33.3823},
	{Name: "Kyrenia", Lat: 35.3364, Lon: 33.3182},
	{Name: "Iskele", Lat: 35.2863, Lon: 33.8914},
	{Name: "Guzelyurt", Lat: 35.1986, Lon: 32.9919},
	{Name: "Lefke", Lat: 35.1103, Lon: 32.8495},
}

// Result is the geolocation response. Lookups never fail outward: every
// path degrades to the DefaultLocation sentinel.
type Result struct {
	City    string  `json:"city"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Nearest string  `json:"nearest"`
}

// Resolver resolves a request's approximate location: platform geolocation
// headers first, then a third-party IP-geolocation API, then the default
// sentinel.
type Resolver struct {
	apiBase string
	client  *http.Client
}

func NewResolver(apiBase string, client *http.Client) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	return &Resolver{apiBase: apiBase, client: client}
}

// Resolve never returns an error; callers always get best-effort data.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) Result {
	if res, ok := r.fromHeaders(req); ok {
		return res
	}
	if res, ok := r.fromIPAPI(ctx, clientIP(req)); ok {
		return res
	}
	return Result{City: DefaultLocation, Nearest: DefaultLocation}
}

// fromHeaders reads platform-injected geolocation headers (Vercel-style).
func (r *Resolver) fromHeaders(req *http.Request) (Result, bool) {
	lat, err1 := strconv.ParseFloat(req.Header.Get("x-vercel-ip-latitude"), 64)
	lon, err2 := strconv.ParseFloat(req.Header.Get("x-vercel-ip-longitude"), 64)
	if err1 != nil || err2 != nil {
		return Result{}, false
	}
	city := req.Header.Get("x-vercel-ip-city")
	nearest := Nearest(lat, lon)
	if city == "" {
		city = nearest
	}
	return Result{City: city, Lat: lat, Lon: lon, Nearest: nearest}, true
}

type ipAPIResponse struct {
	Status string  `json:"status"`
	City   string  `json:"city"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
}

func (r *Resolver) fromIPAPI(ctx context.Context, ip string) (Result, bool) {
	if ip == "" || isPrivateIP(ip) {
		return Result{}, false
	}

	url := fmt.Sprintf("%s/json/%s?fields=status,city,lat,lon", r.apiBase, ip)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, false
	}
	resp, err := r.client.Do(httpReq)
	if err != nil {
		log.Printf("geo: ip lookup for %s: %v", ip, err)
		return Result{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, false
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Status != "success" {
		return Result{}, false
	}

	return Result{
		City:    body.City,
		Lat:     body.Lat,
		Lon:     body.Lon,
		Nearest: Nearest(body.Lat, body.Lon),
	}, true
}

// Nearest returns the name of the closest known location by squared
// Euclidean distance.
func Nearest(lat, lon float64) string {
	best := DefaultLocation
	bestDist := -1.0
	for _, loc := range namedLocations {
		dLat := loc.Lat - lat
		dLon := loc.Lon - lon
		dist := dLat*dLat + dLon*dLon
		if bestDist < 0 || dist < bestDist {
			bestDist = dist
			best = loc.Name
		}
	}
	return best
}

func clientIP(req *http.Request) string {
	// chi's RealIP middleware already folds X-Forwarded-For into RemoteAddr.
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

func isPrivateIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return true
	}
	return parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified()
}
