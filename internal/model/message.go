// internal/model/message.go
package model

import (
	"time"
)

// Message is the unit of distribution. Lifecycle: draft -> scheduled -> sent.
// The Sent flag is monotonic; once true the record is immutable on the
// authoring side and can no longer be deleted.
type Message struct {
	ID         int64         `json:"id"`
	TopicID    *int64        `json:"topic_id,omitempty"`
	Sender     string        `json:"sender" validate:"required"`
	Title      string        `json:"title" validate:"required"`
	Content    string        `json:"content" validate:"required_without=Attachment"`
	Starttime  *time.Time    `json:"starttime,omitempty"`
	Endtime    *time.Time    `json:"endtime,omitempty"`
	Sent       bool          `json:"sent"`
	Properties []Property    `json:"properties,omitempty"`
	Attachment []byte        `json:"attachment,omitempty"`
	Logo       []byte        `json:"logo_attachment,omitempty"`
	Links      []string      `json:"links,omitempty" validate:"dive,url"`
	Location   *LocationData `json:"location_data,omitempty"`

	// TopicKey is the binding key of the referenced topic, resolved by the
	// repository for dispatch. Not part of the wire shape.
	TopicKey *string `json:"-"`
}

// LocationData restricts a message to a circular area. Radius is in kilometers.
type LocationData struct {
	Lat    float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng    float64 `json:"lng" validate:"gte=-180,lte=180"`
	Radius float64 `json:"radius" validate:"gt=0"`
}

// Topic is a subscribable routing destination.
type Topic struct {
	ID          int64    `json:"id"`
	BindingKey  string   `json:"binding_key" validate:"required"`
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

// Property is an additional or alternative routing destination a message can
// be addressed to, independent of its topic.
type Property struct {
	ID         int64  `json:"id"`
	BindingKey string `json:"binding_key" validate:"required"`
	Name       string `json:"name" validate:"required"`
}
