// Package backend talks to the transit REST backend for route details and
// live bus positions.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bluele/gcache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mini-rodalies-3d/bustracker/internal/logging"
	"github.com/mini-rodalies-3d/bustracker/internal/realtime/vehicle"
)

// ErrRouteNotFound is returned by GetRoute when the backend has no such route
var ErrRouteNotFound = errors.New("route not found")

const maxBodyBytes = 4 << 20

// Client is a backend API client. It implements vehicle.Source.
type Client struct {
	baseURL string
	http    *http.Client
	routes  gcache.Cache
	log     logging.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithTimeout sets the per-request timeout of the default HTTP client
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.http.Timeout = d }
}

// WithRouteCache caches route details per ID with LRU eviction. A
// non-positive size disables the cache; a non-positive ttl never expires.
func WithRouteCache(size int, ttl time.Duration) Option {
	return func(cl *Client) {
		if size <= 0 {
			cl.routes = nil
			return
		}
		b := gcache.New(size).LRU()
		if ttl > 0 {
			b = b.Expiration(ttl)
		}
		cl.routes = b.Build()
	}
}

// WithLogger sets the client logger
func WithLogger(l logging.Logger) Option {
	return func(cl *Client) { cl.log = l }
}

// WithTracer sets the tracer for route fetch spans
func WithTracer(t trace.Tracer) Option {
	return func(cl *Client) { cl.tracer = t }
}

// NewClient creates a client for the backend at baseURL
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		log:    logging.Noop(),
		tracer: otel.Tracer("github.com/mini-rodalies-3d/bustracker/internal/backend"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetRoute returns the details of routeID, from cache when possible
func (c *Client) GetRoute(ctx context.Context, routeID string) (*RouteDetails, error) {
	ctx, span := c.tracer.Start(ctx, "backend.GetRoute",
		trace.WithAttributes(attribute.String("route.id", routeID)))
	defer span.End()

	if c.routes != nil {
		if cached, err := c.routes.Get(routeID); err == nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return cached.(*RouteDetails), nil
		}
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	body, status, err := c.get(ctx, "/api/v1/user/route/"+url.PathEscape(routeID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("failed to fetch route %s: %w", routeID, err)
	}
	if status == http.StatusNotFound {
		span.SetStatus(codes.Error, "not found")
		return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, routeID)
	}
	if status != http.StatusOK {
		span.SetStatus(codes.Error, "bad status")
		return nil, fmt.Errorf("route %s: backend returned status %d", routeID, status)
	}

	details, err := decodeRoute(body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad payload")
		return nil, fmt.Errorf("failed to parse route %s: %w", routeID, err)
	}
	if details.ID == "" {
		details.ID = routeID
	}

	if c.routes != nil {
		if err := c.routes.Set(routeID, details); err != nil {
			c.log.Warn(ctx, "route cache set failed", logging.String("route_id", routeID), logging.Err(err))
		}
	}
	c.log.Debug(ctx, "route fetched", logging.String("route_id", routeID), logging.Int("stops", len(details.Stops.Stops)))
	return details, nil
}

// InvalidateRoute drops routeID from the cache
func (c *Client) InvalidateRoute(routeID string) {
	if c.routes != nil {
		c.routes.Remove(routeID)
	}
}

// FetchPosition returns the current position of bus busID. Failures are
// returned as *vehicle.FetchError.
func (c *Client) FetchPosition(ctx context.Context, busID string) (vehicle.Position, error) {
	requestedAt := c.now().UTC()

	body, status, err := c.get(ctx, "/api/v1/user/bus/"+url.PathEscape(busID))
	if err != nil {
		return vehicle.Position{}, &vehicle.FetchError{VehicleID: busID, Kind: vehicle.KindNetwork, Err: err}
	}
	switch {
	case status == http.StatusNotFound:
		return vehicle.Position{}, &vehicle.FetchError{
			VehicleID:  busID,
			Kind:       vehicle.KindNotFound,
			StatusCode: status,
			Err:        vehicle.ErrVehicleNotFound,
		}
	case status < 200 || status > 299:
		return vehicle.Position{}, &vehicle.FetchError{
			VehicleID:  busID,
			Kind:       vehicle.KindStatus,
			StatusCode: status,
			Err:        fmt.Errorf("backend returned status %d", status),
		}
	}

	bus, err := decodeBus(body)
	if err != nil {
		return vehicle.Position{}, &vehicle.FetchError{VehicleID: busID, Kind: vehicle.KindPayload, Err: err}
	}
	pos, ok := bus.Position(requestedAt)
	if !ok {
		return vehicle.Position{}, &vehicle.FetchError{
			VehicleID: busID,
			Kind:      vehicle.KindPayload,
			Err:       errors.New("bus has no current coordinates"),
		}
	}
	pos.VehicleID = busID
	return pos, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// decodeRoute accepts either {"route": {...}} or the bare route object
func decodeRoute(body []byte) (*RouteDetails, error) {
	var env routeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	if env.Route != nil {
		return env.Route, nil
	}
	var details RouteDetails
	if err := json.Unmarshal(body, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// decodeBus accepts either {"bus": {...}} or the bare bus object
func decodeBus(body []byte) (*Bus, error) {
	var env busEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	if env.Bus != nil {
		return env.Bus, nil
	}
	var bus Bus
	if err := json.Unmarshal(body, &bus); err != nil {
		return nil, err
	}
	return &bus, nil
}
