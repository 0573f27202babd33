package service

import (
	"context"
	"fmt"

	"sessiond/internal/domain"
	"sessiond/internal/events"
	"sessiond/internal/models"

	"github.com/rs/zerolog"
)

// SlotParams are the host-supplied slot attributes; price is never part of
// them, it is snapshotted from the host's base price at creation.
type SlotParams struct {
	StartTime        int64 `json:"start_time"`
	DurationMins     int64 `json:"duration_mins"`
	GraceMins        int64 `json:"grace_mins"`
	MinOverlapMins   int64 `json:"min_overlap_mins"`
	CancelCutoffMins int64 `json:"cancel_cutoff_mins"`
}

func (p *SlotParams) validate() error {
	if p.StartTime <= 0 {
		return fmt.Errorf("%w: start_time must be positive", ErrInvalidParams)
	}
	if p.DurationMins <= 0 {
		return fmt.Errorf("%w: duration_mins must be positive", ErrInvalidParams)
	}
	if p.GraceMins < 0 || p.MinOverlapMins < 0 || p.CancelCutoffMins < 0 {
		return fmt.Errorf("%w: minute fields must not be negative", ErrInvalidParams)
	}
	if p.CancelCutoffMins > models.MaxCancelCutoffMins {
		return fmt.Errorf("%w: cancel_cutoff_mins above %d", ErrInvalidParams, models.MaxCancelCutoffMins)
	}
	return nil
}

type SlotService struct {
	repo     domain.Repository
	acct     domain.Accounting
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewSlotService(repo domain.Repository, acct domain.Accounting, eventBus domain.EventPublisher, logger *zerolog.Logger) *SlotService {
	return &SlotService{
		repo:     repo,
		acct:     acct,
		eventBus: eventBus,
		logger:   logger,
	}
}

// SetBasePrice overwrites the host's base price. Outstanding slots keep the
// price they snapshotted.
func (s *SlotService) SetBasePrice(ctx context.Context, host string, price int64) error {
	if host == "" {
		return fmt.Errorf("%w: host account is required", ErrInvalidParams)
	}
	if price <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidParams)
	}
	if err := s.repo.SetHostPrice(ctx, host, price); err != nil {
		return err
	}

	s.logger.Info().Str("host", host).Int64("price", price).Msg("base price set")
	return nil
}

// CreateSlots creates count slots sharing one price snapshot and returns the
// first slot; ids are assigned contiguously within one transition.
func (s *SlotService) CreateSlots(ctx context.Context, host string, params SlotParams, count int) (*models.Slot, error) {
	if host == "" {
		return nil, fmt.Errorf("%w: host account is required", ErrInvalidParams)
	}
	if count < 1 {
		return nil, fmt.Errorf("%w: count must be at least 1", ErrInvalidParams)
	}
	if err := params.validate(); err != nil {
		return nil, err
	}

	price, err := s.repo.GetHostPrice(ctx, host)
	if err != nil {
		return nil, err
	}

	t := &models.Transition{Op: "create_slot"}
	for i := 0; i < count; i++ {
		t.Slots = append(t.Slots, models.SlotChange{
			Create: true,
			Slot: &models.Slot{
				Host:             host,
				StartTime:        params.StartTime,
				DurationMins:     params.DurationMins,
				GraceMins:        params.GraceMins,
				MinOverlapMins:   params.MinOverlapMins,
				CancelCutoffMins: params.CancelCutoffMins,
				Price:            price,
				Status:           models.SlotStatusOpen,
			},
		})
	}

	if err := s.acct.Apply(ctx, t); err != nil {
		return nil, err
	}

	first := t.Slots[0].Slot
	s.publish(events.EventSlotCreated, events.SlotEventPayload{
		SlotID: first.ID, Host: host, Price: price, Count: count,
	})
	return first, nil
}

// CancelSlot unwinds a still-open slot. Booked slots are cancelled through
// the booking lifecycle, never directly.
func (s *SlotService) CancelSlot(ctx context.Context, host string, slotID int64) error {
	slot, err := s.repo.GetSlot(ctx, slotID)
	if err != nil {
		return err
	}
	if slot.Host != host {
		return fmt.Errorf("%w: only the slot host may cancel it", ErrUnauthorized)
	}

	cancelled := *slot
	cancelled.Status = models.SlotStatusCancelled
	t := &models.Transition{
		Op: "cancel_slot",
		Slots: []models.SlotChange{
			{Slot: &cancelled, FromStatus: models.SlotStatusOpen},
		},
	}
	if err := s.acct.Apply(ctx, t); err != nil {
		return err
	}

	s.publish(events.EventSlotCancelled, events.SlotEventPayload{SlotID: slotID, Host: host})
	return nil
}

func (s *SlotService) ListOpen(ctx context.Context) ([]*models.Slot, error) {
	return s.repo.ListOpenSlots(ctx)
}

func (s *SlotService) publish(eventType string, payload interface{}) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("publish event error")
	}
}
