package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/yarmarok-dev/api/internal/domain"
	"github.com/yarmarok-dev/api/internal/repositories"
)

const (
	disputeEventOpened   = "dispute.opened"
	disputeEventResolved = "dispute.resolved"

	disputeMessageIDPrefix = "dsp_"

	disputeMessageMaxLength = 4000

	releaseTriggerDisputeSeller = "dispute_resolved_seller"
)

// DisputeServiceDeps bundles collaborators for the dispute workflow.
type DisputeServiceDeps struct {
	Orders      OrderService
	Messages    repositories.DisputeMessageRepository
	Escrow      EscrowReleaser
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type disputeService struct {
	orders    OrderService
	messages  repositories.DisputeMessageRepository
	escrow    EscrowReleaser
	sanitizer *bluemonday.Policy
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewDisputeService wires dependencies into a concrete DisputeService.
func NewDisputeService(deps DisputeServiceDeps) (DisputeService, error) {
	if deps.Orders == nil {
		return nil, errors.New("dispute service: order service is required")
	}
	if deps.Messages == nil {
		return nil, errors.New("dispute service: dispute message repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &disputeService{
		orders:   deps.Orders,
		messages: deps.Messages,
		escrow:   deps.Escrow,
		// Dispute threads are plain text; markup is stripped entirely.
		sanitizer: bluemonday.StrictPolicy(),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Open moves a shipped or delivered order into the disputed state and records
// the opening reason as the first thread message.
func (s *disputeService) Open(ctx context.Context, cmd OpenDisputeCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	if err := validateDisputeRole(cmd.Role); err != nil {
		return Order{}, err
	}

	current, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	// A retried open must not duplicate the opening message.
	alreadyDisputed := current.Status == domain.OrderStatusDisputed

	order, err := s.orders.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:      orderID,
		TargetStatus: domain.OrderStatusDisputed,
		ActorID:      cmd.ActorID,
		Reason:       cmd.Reason,
	})
	if err != nil {
		return Order{}, err
	}

	if reason := strings.TrimSpace(cmd.Reason); reason != "" && !alreadyDisputed {
		if _, err := s.AppendMessage(ctx, AppendDisputeMessageCommand{
			OrderID: orderID,
			ActorID: cmd.ActorID,
			Role:    cmd.Role,
			Body:    reason,
		}); err != nil {
			// The dispute is already open; a lost opening message is logged,
			// not rolled back.
			s.logger(ctx, "dispute.message.append.failed", map[string]any{
				"order": orderID,
				"error": err.Error(),
			})
		}
	}

	s.logger(ctx, disputeEventOpened, map[string]any{
		"order": orderID,
		"role":  string(cmd.Role),
	})

	return order, nil
}

func (s *disputeService) AppendMessage(ctx context.Context, cmd AppendDisputeMessageCommand) (DisputeMessage, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return DisputeMessage{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	authorID := strings.TrimSpace(cmd.ActorID)
	if authorID == "" {
		return DisputeMessage{}, fmt.Errorf("%w: author id is required", ErrInvalidInput)
	}
	if err := validateDisputeRole(cmd.Role); err != nil {
		return DisputeMessage{}, err
	}

	body := strings.TrimSpace(s.sanitizer.Sanitize(cmd.Body))
	if body == "" {
		return DisputeMessage{}, fmt.Errorf("%w: message body is required", ErrInvalidInput)
	}
	if len(body) > disputeMessageMaxLength {
		return DisputeMessage{}, fmt.Errorf("%w: message body exceeds %d characters", ErrInvalidInput, disputeMessageMaxLength)
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return DisputeMessage{}, err
	}
	if order.Status != domain.OrderStatusDisputed {
		return DisputeMessage{}, fmt.Errorf("%w: order %s has no open dispute", ErrOrderInvalidState, orderID)
	}

	message := DisputeMessage{
		ID:        disputeMessageIDPrefix + s.newID(),
		OrderID:   orderID,
		AuthorID:  authorID,
		Role:      cmd.Role,
		Body:      body,
		CreatedAt: s.clock(),
	}
	if err := s.messages.Append(ctx, message); err != nil {
		return DisputeMessage{}, mapRepositoryError(err)
	}
	return message, nil
}

func (s *disputeService) ListMessages(ctx context.Context, orderID string) ([]DisputeMessage, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	messages, err := s.messages.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return messages, nil
}

// Resolve closes the dispute: the buyer's favor cancels the order, the
// seller's favor completes it and releases escrow custody.
func (s *disputeService) Resolve(ctx context.Context, cmd ResolveDisputeCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}

	var target domain.OrderStatus
	switch cmd.Resolution {
	case domain.DisputeResolutionBuyer:
		target = domain.OrderStatusCancelled
	case domain.DisputeResolutionSeller:
		target = domain.OrderStatusCompleted
	default:
		return Order{}, fmt.Errorf("%w: unknown resolution %q", ErrInvalidInput, cmd.Resolution)
	}

	current, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if current.Status != domain.OrderStatusDisputed && current.Status != target {
		return Order{}, fmt.Errorf("%w: order %s has no open dispute", ErrOrderInvalidState, orderID)
	}

	order, err := s.orders.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:      orderID,
		TargetStatus: target,
		ActorID:      cmd.ActorID,
		Reason:       cmd.Reason,
	})
	if err != nil {
		return Order{}, err
	}

	if cmd.Resolution == domain.DisputeResolutionSeller &&
		order.PaymentMethod == domain.PaymentMethodEscrow && s.escrow != nil {
		if _, err := s.escrow.ReleaseEscrow(ctx, ReleaseEscrowCommand{
			OrderID: orderID,
			Trigger: releaseTriggerDisputeSeller,
			ActorID: cmd.ActorID,
		}); err != nil {
			return Order{}, err
		}
	}

	s.logger(ctx, disputeEventResolved, map[string]any{
		"order":      orderID,
		"resolution": string(cmd.Resolution),
		"status":     string(order.Status),
	})

	return order, nil
}

func validateDisputeRole(role domain.DisputeRole) error {
	switch role {
	case domain.DisputeRoleBuyer, domain.DisputeRoleSeller, domain.DisputeRoleModerator:
		return nil
	default:
		return fmt.Errorf("%w: unknown dispute role %q", ErrInvalidInput, role)
	}
}
