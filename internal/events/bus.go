// Package events is a typed publish/subscribe bus for playback activity.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Kind names an event type.
type Kind string

const (
	PlaybackProgressSaved Kind = "playback.progress_saved"
	PlaybackStopped       Kind = "playback.stopped"
)

var ErrClosed = errors.New("event bus closed")

// Event is the envelope carried by the bus. Payload holds the JSON encoded typed payload.
type Event struct {
	Kind    Kind            `json:"kind"`
	UserID  string          `json:"userId,omitempty"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ProgressSaved is the payload of PlaybackProgressSaved and PlaybackStopped.
type ProgressSaved struct {
	ItemKey   string  `json:"itemKey"`
	TMDBID    int64   `json:"tmdbId"`
	MediaType string  `json:"mediaType"`
	Season    int     `json:"season,omitempty"`
	Episode   int     `json:"episode,omitempty"`
	Ratio     float64 `json:"ratio"`
	Finished  bool    `json:"finished"`
}

// New builds an event with a JSON encoded payload.
func New(kind Kind, userID string, payload any) (Event, error) {
	ev := Event{Kind: kind, UserID: userID, At: time.Now().UTC()}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		ev.Payload = b
	}
	return ev, nil
}

// Decode unmarshals the payload of an event into a typed value.
func Decode[T any](ev Event) (T, error) {
	var v T
	if len(ev.Payload) == 0 {
		return v, nil
	}
	err := json.Unmarshal(ev.Payload, &v)
	return v, err
}

// Bus delivers events to every live subscriber.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe returns a channel of events matching kinds (all when empty).
	// The channel is closed when ctx ends or the returned cancel func is called.
	Subscribe(ctx context.Context, kinds ...Kind) (<-chan Event, func(), error)
	Close() error
}

func matches(kinds []Kind, k Kind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}
