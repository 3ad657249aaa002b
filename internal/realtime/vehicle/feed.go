package vehicle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/protobuf/proto"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
)

// FeedSource reads vehicle positions from a GTFS-RT VehiclePositions feed.
// A vehicle matches on its descriptor ID, its label, or the entity ID.
type FeedSource struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewFeedSource creates a source for the feed at url
func NewFeedSource(url string, client *http.Client) *FeedSource {
	if client == nil {
		client = &http.Client{
			Timeout: 15 * time.Second,
		}
	}
	return &FeedSource{url: url, client: client, now: time.Now}
}

// FetchPosition downloads the feed and extracts the position of vehicleID
func (s *FeedSource) FetchPosition(ctx context.Context, vehicleID string) (Position, error) {
	requestedAt := s.now().UTC()

	feed, err := s.fetchFeed(ctx, vehicleID)
	if err != nil {
		return Position{}, err
	}

	for _, entity := range feed.GetEntity() {
		vp := entity.GetVehicle()
		if vp == nil || !matchesVehicle(entity, vehicleID) {
			continue
		}
		if vp.GetPosition() == nil {
			return Position{}, &FetchError{
				VehicleID: vehicleID,
				Kind:      KindPayload,
				Err:       fmt.Errorf("entity %s has no position", entity.GetId()),
			}
		}

		pos := Position{
			VehicleID: vehicleID,
			Label:     vp.GetVehicle().GetLabel(),
		}
		pos.Coordinate.Latitude = float64(vp.GetPosition().GetLatitude())
		pos.Coordinate.Longitude = float64(vp.GetPosition().GetLongitude())

		// Vehicle timestamp, then feed header, then request time
		switch {
		case vp.Timestamp != nil:
			pos.ObservedAt = time.Unix(int64(vp.GetTimestamp()), 0).UTC()
		case feed.GetHeader().Timestamp != nil:
			pos.ObservedAt = time.Unix(int64(feed.GetHeader().GetTimestamp()), 0).UTC()
		default:
			pos.ObservedAt = requestedAt
		}
		return pos, nil
	}

	return Position{}, &FetchError{
		VehicleID: vehicleID,
		Kind:      KindNotFound,
		Err:       ErrVehicleNotFound,
	}
}

func matchesVehicle(entity *gtfs.FeedEntity, vehicleID string) bool {
	desc := entity.GetVehicle().GetVehicle()
	if desc != nil {
		if desc.GetId() == vehicleID {
			return true
		}
		if desc.GetLabel() != "" && strings.EqualFold(desc.GetLabel(), vehicleID) {
			return true
		}
	}
	return entity.GetId() == vehicleID
}

// fetchFeed fetches and parses the GTFS-RT feed
func (s *FeedSource) fetchFeed(ctx context.Context, vehicleID string) (*gtfs.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, &FetchError{VehicleID: vehicleID, Kind: KindNetwork, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &FetchError{VehicleID: vehicleID, Kind: KindNetwork, Err: fmt.Errorf("failed to fetch feed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{
			VehicleID:  vehicleID,
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("feed returned status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{VehicleID: vehicleID, Kind: KindNetwork, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	feed := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return nil, &FetchError{VehicleID: vehicleID, Kind: KindPayload, Err: fmt.Errorf("failed to parse protobuf: %w", err)}
	}

	return feed, nil
}
