// Package geo resolves source IPs to geographic metadata for the
// dashboard's map and attacker views, backed by internal/storage's
// cache and rate-limited against the configured external lookup
// service. Modeled on the teacher's pattern of small single-purpose
// service wrappers around an HTTP client plus a x/time/rate limiter.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/syn2much/mantis/internal/apperrors"
	"github.com/syn2much/mantis/internal/model"
	"github.com/syn2much/mantis/internal/version"
)

const (
	bucketCapacity = 45
	refillPerMin   = 45
	requestTimeout = 5 * time.Second
)

var privateNets = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

func isPrivate(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range privateNets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// cache is the subset of *storage.Store this package depends on, kept
// narrow so tests can fake it.
type cache interface {
	GetGeo(ctx context.Context, ip string) (*model.GeoInfo, error)
	SaveGeo(ctx context.Context, g *model.GeoInfo) error
}

// Locator resolves IP addresses to GeoInfo, deduplicating concurrent
// lookups for the same IP and rate-limiting outbound calls to the
// configured geolocation API.
type Locator struct {
	store   cache
	apiURL  string
	client  *http.Client
	limiter *rate.Limiter

	mu       sync.Mutex
	inflight map[string]*inflightLookup
}

type inflightLookup struct {
	done chan struct{}
	info *model.GeoInfo
}

// Close releases idle HTTP connections held by the Locator's client,
// mirroring the orchestrator shutdown order from spec §4.6 (GeoLocator's
// HTTP client is closed alongside the detection engine's webhook client).
func (l *Locator) Close() {
	l.client.CloseIdleConnections()
}

// New constructs a Locator. apiURL is the opaque geolocation endpoint;
// "%s" (if present) is replaced with the target IP, otherwise the IP is
// appended as a path segment.
func New(store cache, apiURL string) *Locator {
	return &Locator{
		store:  store,
		apiURL: apiURL,
		client: &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(
			rate.Every(time.Minute/refillPerMin),
			bucketCapacity,
		),
		inflight: make(map[string]*inflightLookup),
	}
}

// Resolve returns geographic metadata for ip, consulting the cache,
// deduplicating in-flight lookups, and falling back to a rate-limited
// outbound HTTP request. Private/loopback/link-local addresses short
// circuit to a synthetic local-network record without touching the
// cache or network.
func (l *Locator) Resolve(ctx context.Context, ip string) (*model.GeoInfo, error) {
	if isPrivate(ip) {
		return &model.GeoInfo{IP: ip, Country: "Private / Local Network"}, nil
	}

	if cached, err := l.store.GetGeo(ctx, ip); err == nil {
		return cached, nil
	} else if !apperrors.IsNotFound(err) {
		return nil, err
	}

	if info, joined := l.joinInflight(ip); joined {
		<-info.done
		if info.info == nil {
			return &model.GeoInfo{IP: ip}, nil
		}
		return info.info, nil
	}
	defer l.finishInflight(ip)

	if err := l.limiter.Wait(ctx); err != nil {
		return &model.GeoInfo{IP: ip}, nil
	}

	info, err := l.fetch(ctx, ip)
	if err != nil {
		l.setInflightResult(ip, nil)
		return &model.GeoInfo{IP: ip}, nil
	}

	info.CachedAt = time.Now().UTC()
	if saveErr := l.store.SaveGeo(ctx, info); saveErr != nil {
		l.setInflightResult(ip, info)
		return info, nil
	}
	l.setInflightResult(ip, info)
	return info, nil
}

// joinInflight registers the caller as the leader for ip's lookup, or
// returns the existing leader's in-flight record to wait on.
func (l *Locator) joinInflight(ip string) (*inflightLookup, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.inflight[ip]; ok {
		return existing, true
	}
	l.inflight[ip] = &inflightLookup{done: make(chan struct{})}
	return nil, false
}

func (l *Locator) setInflightResult(ip string, info *model.GeoInfo) {
	l.mu.Lock()
	entry, ok := l.inflight[ip]
	l.mu.Unlock()
	if !ok {
		return
	}
	entry.info = info
}

func (l *Locator) finishInflight(ip string) {
	l.mu.Lock()
	entry, ok := l.inflight[ip]
	if ok {
		delete(l.inflight, ip)
	}
	l.mu.Unlock()
	if ok {
		close(entry.done)
	}
}

type geoAPIResponse struct {
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	Region      string  `json:"regionName"`
	City        string  `json:"city"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	ISP         string  `json:"isp"`
	Org         string  `json:"org"`
	AS          string  `json:"as"`
}

func (l *Locator) fetch(ctx context.Context, ip string) (*model.GeoInfo, error) {
	url := l.apiURL
	if strings.Contains(url, "%s") {
		url = fmt.Sprintf(url, ip)
	} else {
		url = strings.TrimSuffix(url, "/") + "/" + ip
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.NewExternalServiceError("geo", err)
	}
	req.Header.Set("User-Agent", version.Full())
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, apperrors.NewExternalServiceError("geo", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewExternalServiceError("geo", fmt.Errorf("status %d", resp.StatusCode))
	}

	var body geoAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperrors.NewExternalServiceError("geo", err)
	}

	return &model.GeoInfo{
		IP:          ip,
		Country:     body.Country,
		CountryCode: body.CountryCode,
		Region:      body.Region,
		City:        body.City,
		Lat:         body.Lat,
		Lon:         body.Lon,
		ISP:         body.ISP,
		Org:         body.Org,
		AS:          body.AS,
	}, nil
}
