package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// NotificationKind identifies the payload carried by a Notification.
type NotificationKind string

const (
	KindNewFollower     NotificationKind = "new_follower"
	KindNewDataset      NotificationKind = "new_dataset"
	KindDatasetApproved NotificationKind = "dataset_approved"
	KindDatasetRejected NotificationKind = "dataset_rejected"
)

// Payload is the closed set of notification bodies. Only types in this
// package implement it.
type Payload interface {
	Kind() NotificationKind
	isPayload()
}

// NewFollower is sent to a user when someone starts following them.
type NewFollower struct {
	FromUserID   string `json:"from_user_id"`
	FromUsername string `json:"from_username"`
}

// NewDataset is sent to followers when a followee's dataset becomes public.
type NewDataset struct {
	FromUserID   string `json:"from_user_id"`
	FromUsername string `json:"from_username"`
	DatasetID    string `json:"dataset_id"`
	DatasetName  string `json:"dataset_name"`
}

// DatasetReviewed is sent to the owner after an admin review.
type DatasetReviewed struct {
	Approved    bool   `json:"-"`
	DatasetID   string `json:"dataset_id"`
	DatasetName string `json:"dataset_name"`
	AdminReview string `json:"admin_review"`
	ReviewedBy  string `json:"reviewed_by"`
}

func (NewFollower) Kind() NotificationKind { return KindNewFollower }
func (NewDataset) Kind() NotificationKind  { return KindNewDataset }

func (p DatasetReviewed) Kind() NotificationKind {
	if p.Approved {
		return KindDatasetApproved
	}
	return KindDatasetRejected
}

func (NewFollower) isPayload()     {}
func (NewDataset) isPayload()      {}
func (DatasetReviewed) isPayload() {}

// Notification is a queued message for one recipient.
type Notification struct {
	ID        string
	CreatedAt time.Time
	Payload   Payload
}

// Kind returns the payload kind, or "" for an empty notification.
func (n Notification) Kind() NotificationKind {
	if n.Payload == nil {
		return ""
	}
	return n.Payload.Kind()
}

// NewNotification builds a notification, rejecting a nil payload.
func NewNotification(id string, p Payload, at time.Time) (Notification, error) {
	if p == nil {
		return Notification{}, fmt.Errorf("notification payload is required")
	}
	if !KnownKind(p.Kind()) {
		return Notification{}, fmt.Errorf("unknown notification kind: %q", p.Kind())
	}
	return Notification{ID: id, CreatedAt: at.UTC(), Payload: p}, nil
}

// KnownKind reports whether k is one of the supported notification kinds.
func KnownKind(k NotificationKind) bool {
	switch k {
	case KindNewFollower, KindNewDataset, KindDatasetApproved, KindDatasetRejected:
		return true
	}
	return false
}

// envelope is the queue wire format.
type envelope struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"type"`
	CreatedAt time.Time        `json:"created_at"`
	Data      json.RawMessage  `json:"data"`
}

// EncodeNotification serializes n for storage in a recipient queue.
func EncodeNotification(n Notification) ([]byte, error) {
	if n.Payload == nil || !KnownKind(n.Kind()) {
		return nil, fmt.Errorf("unknown notification kind: %q", n.Kind())
	}
	data, err := json.Marshal(n.Payload)
	if err != nil {
		return nil, fmt.Errorf("encoding notification payload: %w", err)
	}
	return json.Marshal(envelope{ID: n.ID, Kind: n.Kind(), CreatedAt: n.CreatedAt, Data: data})
}

// DecodeNotification parses a queued notification. Unknown kinds are an error.
func DecodeNotification(b []byte) (Notification, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Notification{}, fmt.Errorf("decoding notification: %w", err)
	}

	var p Payload
	switch env.Kind {
	case KindNewFollower:
		var v NewFollower
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return Notification{}, fmt.Errorf("decoding %s payload: %w", env.Kind, err)
		}
		p = v
	case KindNewDataset:
		var v NewDataset
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return Notification{}, fmt.Errorf("decoding %s payload: %w", env.Kind, err)
		}
		p = v
	case KindDatasetApproved, KindDatasetRejected:
		var v DatasetReviewed
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return Notification{}, fmt.Errorf("decoding %s payload: %w", env.Kind, err)
		}
		v.Approved = env.Kind == KindDatasetApproved
		p = v
	default:
		return Notification{}, fmt.Errorf("unknown notification kind: %q", env.Kind)
	}

	return Notification{ID: env.ID, CreatedAt: env.CreatedAt, Payload: p}, nil
}
