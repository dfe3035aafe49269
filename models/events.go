package models

import (
	"time"

	"github.com/google/uuid"
)

// RequestEventMessage is published for every committed lifecycle transition. Reporting surfaces consume these to build
// compliance history without polling the store.
type RequestEventMessage struct {
	Id        uuid.UUID      `json:"rid"`
	Event     LifecycleEvent `json:"ev"`
	Status    RequestStatus  `json:"st"`
	Actor     string         `json:"act,omitempty"`
	Weight    *float64       `json:"wt,omitempty"`
	Rating    *int           `json:"rt,omitempty"`
	Timestamp time.Time      `json:"ts"`
}

type QueueType string

const (
	QueueType_Events QueueType = "events"
)
