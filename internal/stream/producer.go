package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

// LocationUpdate is the driver-location message carried on the ingest topic.
type LocationUpdate struct {
	DriverID    string                    `json:"driver_id"`
	Status      models.AvailabilityStatus `json:"status"`
	Location    models.Coord              `json:"location"`
	Rating      float64                   `json:"rating"`
	ServiceArea string                    `json:"service_area,omitempty"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// LocationProducer publishes driver location updates for the consumer that
// maintains the shared geo index.
type LocationProducer struct {
	writer *kafka.Writer
}

func NewLocationProducer(brokers []string, topic string) *LocationProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &LocationProducer{writer: w}
}

func (p *LocationProducer) PublishLocation(ctx context.Context, u LocationUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(u.DriverID), Value: b})
}

func (p *LocationProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// RideEvent is the lifecycle record mirrored onto the event stream for
// downstream consumers. Best effort, not a durable audit log.
type RideEvent struct {
	Type       models.EventType  `json:"type"`
	RideID     string            `json:"ride_id"`
	RiderID    string            `json:"rider_id"`
	DriverID   *string           `json:"driver_id,omitempty"`
	Status     models.RideStatus `json:"status"`
	TotalFare  *float64          `json:"total_fare,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// RideEventProducer writes ride lifecycle events keyed by ride so a single
// ride's events stay ordered within a partition.
type RideEventProducer struct {
	writer *kafka.Writer
}

func NewRideEventProducer(brokers []string, topic string) *RideEventProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return &RideEventProducer{writer: w}
}

func (p *RideEventProducer) PublishRideEvent(ctx context.Context, r *models.Ride, typ models.EventType) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ev := RideEvent{
		Type:       typ,
		RideID:     r.ID,
		RiderID:    r.RiderID,
		DriverID:   r.DriverID,
		Status:     r.Status,
		TotalFare:  r.TotalFare,
		OccurredAt: time.Now().UTC(),
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(r.ID), Value: b})
}

func (p *RideEventProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
