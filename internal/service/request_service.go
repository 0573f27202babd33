package service

import (
	"context"
	"errors"
	"fmt"

	"sessiond/internal/database"
	"sessiond/internal/domain"
	"sessiond/internal/events"
	"sessiond/internal/models"

	"github.com/rs/zerolog"
)

// RequestParams are the guest-supplied attributes of a session request.
// Payment is escrowed in full at creation, whatever happens later.
type RequestParams struct {
	HostTarget   string `json:"host_target,omitempty"`
	WindowStart  int64  `json:"window_start"`
	WindowEnd    int64  `json:"window_end"`
	DurationMins int64  `json:"duration_mins"`
	Expiry       int64  `json:"expiry"`
	Payment      int64  `json:"payment"`
}

// AcceptParams are the host-supplied slot attributes used when converting a
// request into a slot + booking pair.
type AcceptParams struct {
	StartTime        int64 `json:"start_time"`
	GraceMins        int64 `json:"grace_mins"`
	MinOverlapMins   int64 `json:"min_overlap_mins"`
	CancelCutoffMins int64 `json:"cancel_cutoff_mins"`
}

type RequestService struct {
	repo     domain.Repository
	acct     domain.Accounting
	eventBus domain.EventPublisher
	clock    domain.Clock
	logger   *zerolog.Logger
}

func NewRequestService(repo domain.Repository, acct domain.Accounting, eventBus domain.EventPublisher, clock domain.Clock, logger *zerolog.Logger) *RequestService {
	return &RequestService{
		repo:     repo,
		acct:     acct,
		eventBus: eventBus,
		clock:    clock,
		logger:   logger,
	}
}

// Create escrows the guest's offer and opens the request. A targeted
// request must meet or beat the target host's current base price.
func (s *RequestService) Create(ctx context.Context, guest string, params RequestParams) (*models.Request, error) {
	if guest == "" {
		return nil, fmt.Errorf("%w: guest account is required", ErrInvalidParams)
	}
	if params.Payment <= 0 {
		return nil, fmt.Errorf("%w: payment must be positive", ErrInvalidParams)
	}
	if params.DurationMins <= 0 {
		return nil, fmt.Errorf("%w: duration_mins must be positive", ErrInvalidParams)
	}
	if params.WindowStart > params.WindowEnd {
		return nil, fmt.Errorf("%w: window_start after window_end", ErrInvalidParams)
	}
	if params.Expiry > params.WindowEnd {
		return nil, fmt.Errorf("%w: expiry after window_end", ErrInvalidParams)
	}

	now := s.clock.Now().Unix()
	if params.WindowStart < now+models.MinLeadTimeSecs {
		return nil, fmt.Errorf("%w: window_start too soon", ErrInvalidParams)
	}

	if params.HostTarget != "" {
		price, err := s.repo.GetHostPrice(ctx, params.HostTarget)
		if err != nil {
			return nil, err
		}
		if params.Payment < price {
			return nil, fmt.Errorf("%w: offer %d below host base price %d", ErrAmountMismatch, params.Payment, price)
		}
	}

	request := &models.Request{
		Guest:        guest,
		HostTarget:   params.HostTarget,
		WindowStart:  params.WindowStart,
		WindowEnd:    params.WindowEnd,
		DurationMins: params.DurationMins,
		Expiry:       params.Expiry,
		Amount:       params.Payment,
		Status:       models.RequestStatusOpen,
	}

	t := &models.Transition{
		Op:           "create_request",
		Requests:     []models.RequestChange{{Request: request, Create: true}},
		HeldDelta:    params.Payment,
		BalanceDelta: params.Payment,
		Transfers: []models.Transfer{{
			Kind: models.TransferEscrowIn, From: guest, Amount: params.Payment,
		}},
	}
	if err := s.acct.Apply(ctx, t); err != nil {
		return nil, err
	}

	s.publish(events.EventRequestCreated, events.RequestEventPayload{
		RequestID: request.ID, Guest: guest, HostTarget: params.HostTarget,
		Amount: params.Payment, Status: request.Status,
	})
	return request, nil
}

// Cancel refunds an open request in full. Expiry does not auto-cancel: an
// expired-but-uncancelled request stays refundable by the guest.
func (s *RequestService) Cancel(ctx context.Context, guest string, requestID int64) error {
	request, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if request.Guest != guest {
		return fmt.Errorf("%w: only the request guest may cancel it", ErrUnauthorized)
	}
	if request.Status != models.RequestStatusOpen {
		return fmt.Errorf("request %d is %s: %w", requestID, request.Status, database.ErrStateMismatch)
	}

	cancelled := *request
	cancelled.Status = models.RequestStatusCancelled

	t := &models.Transition{
		Op:           "cancel_request",
		Requests:     []models.RequestChange{{Request: &cancelled, FromStatus: models.RequestStatusOpen}},
		HeldDelta:    -request.Amount,
		BalanceDelta: -request.Amount,
		Transfers: []models.Transfer{{
			Kind: models.TransferPayout, To: guest, Amount: request.Amount, RequestID: requestID,
		}},
	}
	if err := s.acct.Apply(ctx, t); err != nil {
		return err
	}

	s.publish(events.EventRequestCancelled, events.RequestEventPayload{
		RequestID: requestID, Guest: guest, Amount: request.Amount,
		Status: models.RequestStatusCancelled,
	})
	return nil
}

// Accept converts an open request into a booked slot + booking pair without
// re-escrowing funds. The slot snapshots the accepting host's current base
// price, while the booking keeps the guest's original (possibly higher)
// offer — the host is paid on the full offer at settlement.
func (s *RequestService) Accept(ctx context.Context, host string, requestID int64, params AcceptParams) (*models.Request, error) {
	if host == "" {
		return nil, fmt.Errorf("%w: host account is required", ErrInvalidParams)
	}

	request, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != models.RequestStatusOpen {
		return nil, fmt.Errorf("request %d is %s: %w", requestID, request.Status, database.ErrStateMismatch)
	}
	if request.Targeted() && request.HostTarget != host {
		return nil, fmt.Errorf("%w: request is targeted at another host", ErrUnauthorized)
	}

	now := s.clock.Now().Unix()
	if now >= request.Expiry {
		return nil, fmt.Errorf("%w: request expired", ErrTooLate)
	}
	if params.StartTime < request.WindowStart || params.StartTime > request.WindowEnd {
		return nil, fmt.Errorf("%w: start_time outside the requested window", ErrInvalidParams)
	}
	if params.StartTime < now+models.MinLeadTimeSecs {
		return nil, fmt.Errorf("%w: start_time too soon", ErrInvalidParams)
	}
	if params.CancelCutoffMins < 0 || params.CancelCutoffMins > models.MaxCancelCutoffMins {
		return nil, fmt.Errorf("%w: cancel_cutoff_mins out of range", ErrInvalidParams)
	}
	if params.GraceMins < 0 || params.MinOverlapMins < 0 {
		return nil, fmt.Errorf("%w: minute fields must not be negative", ErrInvalidParams)
	}

	price, err := s.repo.GetHostPrice(ctx, host)
	if err != nil {
		if errors.Is(err, database.ErrNoBasePrice) {
			return nil, fmt.Errorf("accepting host: %w", err)
		}
		return nil, err
	}

	slot := &models.Slot{
		Host:             host,
		StartTime:        params.StartTime,
		DurationMins:     request.DurationMins,
		GraceMins:        params.GraceMins,
		MinOverlapMins:   params.MinOverlapMins,
		CancelCutoffMins: params.CancelCutoffMins,
		Price:            price,
		Status:           models.SlotStatusBooked,
	}
	booking := &models.Booking{
		Guest:  request.Guest,
		Amount: request.Amount,
		Status: models.BookingStatusBooked,
	}
	accepted := *request
	accepted.Status = models.RequestStatusAccepted
	accepted.Host = host

	// Funds were counted at request creation; the held total is unchanged.
	t := &models.Transition{
		Op:       "accept_request",
		Slots:    []models.SlotChange{{Slot: slot, Create: true}},
		Bookings: []models.BookingChange{{Booking: booking, Create: true}},
		Requests: []models.RequestChange{{Request: &accepted, FromStatus: models.RequestStatusOpen}},
	}
	if err := s.acct.Apply(ctx, t); err != nil {
		return nil, err
	}

	s.publish(events.EventRequestAccepted, events.RequestEventPayload{
		RequestID: requestID, Guest: request.Guest, HostTarget: request.HostTarget,
		Amount: request.Amount, Status: accepted.Status, Host: host,
		SlotID: accepted.SlotID, BookingID: accepted.BookingID,
	})
	return &accepted, nil
}

func (s *RequestService) ListOpen(ctx context.Context) ([]*models.Request, error) {
	return s.repo.ListOpenRequests(ctx)
}

func (s *RequestService) publish(eventType string, payload interface{}) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("publish event error")
	}
}
