// Package queue provides the Job Queue Client: receiving, acknowledging and
// extending the visibility of clip job messages.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// JobMessage is the queue body describing the work for one clip.
// The time range is not checked here; media acquisition rejects bad ranges
// so the failure is recorded on the clip.
type JobMessage struct {
	JobID      string `json:"jobId" validate:"required,uuid"`
	SourceURL  string `json:"youtubeUrl" validate:"required,url"`
	StartTime  int    `json:"startTime"`
	EndTime    int    `json:"endTime"`
	ShareToken string `json:"shareToken" validate:"required"`
}

// Message is a received queue message.
type Message struct {
	// ID is the queue's message ID.
	ID string
	// ReceiptHandle identifies this delivery for acknowledge and visibility calls.
	ReceiptHandle string
	// ReceiveCount is how many times the queue has delivered the message, this delivery included.
	ReceiveCount int
	// Body is the parsed job message.
	Body JobMessage
}

// Stats holds approximate queue depth.
type Stats struct {
	Visible  int `json:"visible"`
	InFlight int `json:"in_flight"`
}

// Client defines the interface for the job queue.
type Client interface {
	// Receive returns up to maxCount messages without blocking indefinitely.
	// Malformed bodies are skipped.
	Receive(ctx context.Context, maxCount int) ([]Message, error)

	// Acknowledge permanently removes a message.
	// Acknowledging an already removed message is not an error.
	Acknowledge(ctx context.Context, receiptHandle string) error

	// ExtendVisibility hides the message from other receivers for seconds more.
	ExtendVisibility(ctx context.Context, receiptHandle string, seconds int) error

	// Stats returns approximate visible and in-flight counts.
	Stats(ctx context.Context) (Stats, error)
}

var validate = validator.New()

// ParseJobMessage decodes and validates a queue body.
func ParseJobMessage(body []byte) (JobMessage, error) {
	var msg JobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return JobMessage{}, fmt.Errorf("decode job message: %w", err)
	}
	if err := validate.Struct(msg); err != nil {
		return JobMessage{}, fmt.Errorf("invalid job message: %w", err)
	}
	return msg, nil
}
