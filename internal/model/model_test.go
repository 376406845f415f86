package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireRoundTrip(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := &Message{
		ID:        7,
		Sender:    "city",
		Title:     "roadworks",
		Content:   "B10 closed",
		Starttime: &start,
		Links:     []string{"https://example.org/detour"},
		Location:  &LocationData{Lat: 48.4, Lng: 9.98, Radius: 12},
	}

	body, err := EncodeMessage(m)
	require.NoError(t, err)

	got, err := DecodeMessage(body)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.Title, got.Title)
	assert.True(t, m.Starttime.Equal(*got.Starttime))
	require.NotNil(t, got.Location)
	assert.Equal(t, 12.0, got.Location.Radius)
}

func TestDecodeMessageHardErrors(t *testing.T) {
	_, err := DecodeMessage([]byte(`not json`))
	assert.Error(t, err)

	// Parses but carries no server-assigned identity.
	_, err = DecodeMessage([]byte(`{"title":"x"}`))
	assert.Error(t, err)
}

func TestMessageValidation(t *testing.T) {
	valid := &Message{Sender: "city", Title: "ok", Content: "text"}
	assert.NoError(t, Validate(valid))

	// Content may be empty when an attachment carries the payload.
	withAttachment := &Message{Sender: "city", Title: "ok", Attachment: []byte{0x1}}
	assert.NoError(t, Validate(withAttachment))

	assert.Error(t, Validate(&Message{Sender: "city", Title: "no body"}))
	assert.Error(t, Validate(&Message{Title: "no sender", Content: "x"}))
	assert.Error(t, Validate(&Message{Sender: "s", Title: "bad link", Content: "x", Links: []string{"not a url"}}))
	assert.Error(t, Validate(&Message{
		Sender: "s", Title: "bad fence", Content: "x",
		Location: &LocationData{Lat: 120, Lng: 0, Radius: 5},
	}))
}

func TestTopicAndPropertyValidation(t *testing.T) {
	assert.NoError(t, Validate(&Topic{BindingKey: "traffic", Title: "Traffic"}))
	assert.Error(t, Validate(&Topic{Title: "missing key"}))

	assert.NoError(t, Validate(&Property{BindingKey: "region/south", Name: "South"}))
	assert.Error(t, Validate(&Property{Name: "missing key"}))
}
