package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/askwhyharsh/geotrack/internal/fix"
	"github.com/askwhyharsh/geotrack/internal/geo"
	"github.com/askwhyharsh/geotrack/internal/routing"
	apperrors "github.com/askwhyharsh/geotrack/pkg/errors"
)

// Inbound bridge message types.
const (
	MessageMapReady            = "mapReady"
	MessageLocationUpdate      = "locationUpdate"
	MessagePermissionDenied    = "permissionDenied"
	MessageLocationUnavailable = "locationUnavailable"
)

type bridgeMessage struct {
	Type      string   `json:"type"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
	Timestamp *float64 `json:"timestamp"`
}

// ParseMessage validates one inbound bridge message. Every failure is a
// *errors.BridgeParseError.
func ParseMessage(raw []byte) (Event, error) {
	if bytes.ContainsAny(raw, "\r\n") {
		return Event{}, parseError(raw, "message spans several lines", nil)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	var msg bridgeMessage
	if err := dec.Decode(&msg); err != nil {
		return Event{}, parseError(raw, "invalid json", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Event{}, parseError(raw, "trailing data after message", nil)
	}

	switch msg.Type {
	case MessageMapReady:
		return Event{Type: EventReady}, nil
	case MessagePermissionDenied:
		return Event{Type: EventPermissionDenied}, nil
	case MessageLocationUnavailable:
		return Event{Type: EventLocationUnavailable}, nil
	case MessageLocationUpdate:
		if msg.Latitude == nil || msg.Longitude == nil {
			return Event{}, parseError(raw, "location without coordinates", nil)
		}
		var accuracy float64
		if msg.Accuracy != nil {
			accuracy = *msg.Accuracy
		}
		var ts uint64
		if msg.Timestamp != nil {
			if *msg.Timestamp < 0 {
				return Event{}, parseError(raw, "negative timestamp", nil)
			}
			ts = uint64(*msg.Timestamp)
		}
		f, err := fix.Normalize(*msg.Latitude, *msg.Longitude, accuracy, ts)
		if err != nil {
			return Event{}, parseError(raw, "invalid location", err)
		}
		return locationEvent(f), nil
	case "":
		return Event{}, parseError(raw, "missing type", nil)
	default:
		return Event{}, parseError(raw, fmt.Sprintf("unknown type %q", msg.Type), nil)
	}
}

func parseError(raw []byte, reason string, err error) *apperrors.BridgeParseError {
	return &apperrors.BridgeParseError{Raw: string(raw), Reason: reason, Err: err}
}

// UpdateLocationScript moves the position marker on the hosted page.
func UpdateLocationScript(c geo.Coordinate) string {
	return fmt.Sprintf("if (window.updateLocation) { window.updateLocation(%s, %s); }",
		formatFloat(c.Latitude), formatFloat(c.Longitude))
}

// DrawRouteScript draws a precomputed path given as [lat, lng] pairs.
func DrawRouteScript(from, to geo.Coordinate, profile routing.Profile, path [][2]float64) (string, error) {
	profileJSON, err := json.Marshal(string(profile))
	if err != nil {
		return "", err
	}
	pathJSON, err := json.Marshal(path)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("if (window.drawRoute) { window.drawRoute(")
	b.WriteString(strings.Join([]string{
		formatFloat(from.Latitude),
		formatFloat(from.Longitude),
		formatFloat(to.Latitude),
		formatFloat(to.Longitude),
		string(profileJSON),
		string(pathJSON),
	}, ", "))
	b.WriteString("); }")
	return b.String(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
