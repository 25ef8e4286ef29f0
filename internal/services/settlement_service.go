package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/yarmarok-dev/api/internal/domain"
	"github.com/yarmarok-dev/api/internal/payments"
	"github.com/yarmarok-dev/api/internal/repositories"
)

const (
	settlementEventRecorded = "settlement.recorded"
	escrowEventHeld         = "escrow.held"
	escrowEventReleased     = "escrow.released"

	ledgerEntryIDPrefix = "led_"

	defaultWatchInterval = 15 * time.Second
	defaultWatchTimeout  = 10 * time.Minute
)

// TransactionLookup resolves an external transaction reference to its
// rail-reported state. *payments.Manager satisfies it.
type TransactionLookup interface {
	Lookup(ctx context.Context, reference string) (payments.Transaction, error)
}

// SettlementServiceDeps bundles collaborators for the settlement coordinator.
type SettlementServiceDeps struct {
	Orders      repositories.OrderRepository
	Settlements repositories.SettlementRepository
	Ledger      repositories.LedgerRepository
	Users       repositories.UserRepository
	Rails       TransactionLookup
	// TreasuryAddress is the platform custody recipient escrow payments must
	// target on-rail.
	TreasuryAddress string
	UnitOfWork      repositories.UnitOfWork
	Locks           *OrderLocks
	Clock           func() time.Time
	IDGenerator     func() string
	Events          OrderEventPublisher
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type settlementService struct {
	orders      repositories.OrderRepository
	settlements repositories.SettlementRepository
	ledger      repositories.LedgerRepository
	users       repositories.UserRepository
	rails       TransactionLookup
	treasury    string
	unitOfWork  repositories.UnitOfWork
	locks       *OrderLocks
	clock       func() time.Time
	newID       func() string
	events      OrderEventPublisher
	logger      func(context.Context, string, map[string]any)
}

// NewSettlementService wires dependencies into a concrete SettlementService.
func NewSettlementService(deps SettlementServiceDeps) (SettlementService, error) {
	if deps.Orders == nil {
		return nil, errors.New("settlement service: order repository is required")
	}
	if deps.Settlements == nil {
		return nil, errors.New("settlement service: settlement repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("settlement service: ledger repository is required")
	}
	if deps.Rails == nil {
		return nil, errors.New("settlement service: transaction lookup is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	locks := deps.Locks
	if locks == nil {
		locks = NewOrderLocks()
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

	return &settlementService{
		orders:      deps.Orders,
		settlements: deps.Settlements,
		ledger:      deps.Ledger,
		users:       deps.Users,
		rails:       deps.Rails,
		treasury:    strings.TrimSpace(deps.TreasuryAddress),
		unitOfWork:  unit,
		locks:       locks,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *settlementService) SettlePayment(ctx context.Context, cmd SettlePaymentCommand) (SettlementResult, error) {
	ref := strings.TrimSpace(cmd.TransactionRef)
	if ref == "" {
		return SettlementResult{}, fmt.Errorf("%w: transaction reference is required", ErrInvalidInput)
	}
	orderIDs := dedupeOrderIDs(cmd.OrderIDs)
	if len(orderIDs) == 0 {
		return SettlementResult{}, fmt.Errorf("%w: at least one order id is required", ErrInvalidInput)
	}

	if record, ok, err := s.findReplay(ctx, ref, orderIDs); err != nil {
		return SettlementResult{}, err
	} else if ok {
		return SettlementResult{Record: record, Replayed: true}, nil
	}

	orders, err := s.loadSettlementOrders(ctx, ref, orderIDs)
	if err != nil {
		return SettlementResult{}, err
	}

	method := orders[0].PaymentMethod
	currency := orders[0].Currency
	var expectedAmount int64
	for _, order := range orders {
		if order.PaymentMethod != method {
			return SettlementResult{}, fmt.Errorf("%w: orders mix payment methods", ErrInvalidInput)
		}
		if order.Currency != currency {
			return SettlementResult{}, fmt.Errorf("%w: orders mix currencies", ErrInvalidInput)
		}
		expectedAmount += order.Totals.Total
	}

	tx, err := s.verifyTransaction(ctx, ref, method, expectedAmount, currency, orders)
	if err != nil {
		return SettlementResult{}, err
	}

	now := s.now()
	record := SettlementRecord{
		TransactionRef: ref,
		Rail:           tx.Rail,
		PaymentMethod:  method,
		Amount:         tx.Amount,
		Currency:       currency,
		Recipient:      tx.Recipient,
		OrderIDs:       orderIDs,
		VerifiedAt:     now,
		CreatedAt:      now,
	}

	// Lock acquisition follows the sorted id order so two concurrent
	// settlements over overlapping order sets cannot deadlock.
	unlocks := make([]func(), 0, len(orderIDs))
	for _, orderID := range orderIDs {
		unlocks = append(unlocks, s.locks.Acquire(orderID))
	}
	defer func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}()

	transitioned := make([]Order, 0, len(orders))
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		transitioned = transitioned[:0]

		// Firestore transactions require every read to precede the first
		// write, so the loop is split into a read phase and a write phase.
		txOrders := make([]Order, 0, len(orderIDs))
		for _, orderID := range orderIDs {
			order, err := s.orders.FindByID(txCtx, orderID)
			if err != nil {
				return mapRepositoryError(err)
			}
			txOrders = append(txOrders, order)
		}
		needHold := make([]bool, len(txOrders))
		if method == domain.PaymentMethodEscrow {
			for i, order := range txOrders {
				held, err := s.escrowAlreadyHeld(txCtx, order.ID)
				if err != nil {
					return err
				}
				needHold[i] = !held
			}
		}

		for i := range txOrders {
			changed, err := s.markOrderPaid(&txOrders[i], ref, now)
			if err != nil {
				return err
			}
			if changed {
				if err := s.orders.Update(txCtx, txOrders[i]); err != nil {
					return mapRepositoryError(err)
				}
				// Orders paid by an earlier partial attempt stay out of the
				// event batch; only a real flip announces a status change.
				transitioned = append(transitioned, txOrders[i])
			}
			if needHold[i] {
				if err := s.appendEscrowHold(txCtx, txOrders[i], ref, now); err != nil {
					return err
				}
			}
		}
		if err := s.settlements.Insert(txCtx, record); err != nil {
			return mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		// A conflict on the settlement insert means another request recorded
		// this reference first; treat it as a replay when the sets agree.
		if errors.Is(err, ErrOrderConflict) {
			if record, ok, replayErr := s.findReplay(ctx, ref, orderIDs); replayErr == nil && ok {
				return SettlementResult{Record: record, Replayed: true}, nil
			}
		}
		return SettlementResult{}, err
	}

	actor := strings.TrimSpace(cmd.ActorID)
	for _, order := range transitioned {
		s.publishEvent(ctx, OrderEvent{
			Type:           orderEventStatusChanged,
			OrderID:        order.ID,
			PreviousStatus: string(domain.OrderStatusPending),
			CurrentStatus:  string(order.Status),
			ActorID:        actor,
			OccurredAt:     now,
			Metadata: map[string]any{
				"transactionRef": ref,
				"rail":           tx.Rail,
			},
		})
	}
	s.logger(ctx, settlementEventRecorded, map[string]any{
		"transactionRef": ref,
		"rail":           tx.Rail,
		"orders":         len(orderIDs),
		"amount":         record.Amount,
	})

	return SettlementResult{Record: record, Replayed: false}, nil
}

// findReplay resolves an already-recorded settlement for the reference. A
// recorded reference with a different order set is a hard conflict, never a
// silent replay.
func (s *settlementService) findReplay(ctx context.Context, ref string, orderIDs []string) (SettlementRecord, bool, error) {
	record, err := s.settlements.FindByTransactionRef(ctx, ref)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return SettlementRecord{}, false, nil
		}
		return SettlementRecord{}, false, mapRepositoryError(err)
	}
	recorded := dedupeOrderIDs(record.OrderIDs)
	if !slices.Equal(recorded, orderIDs) {
		return SettlementRecord{}, false, fmt.Errorf("%w: reference %s already settled a different order set", ErrOrderConflict, ref)
	}
	return record, true, nil
}

func (s *settlementService) loadSettlementOrders(ctx context.Context, ref string, orderIDs []string) ([]Order, error) {
	orders := make([]Order, 0, len(orderIDs))
	for _, orderID := range orderIDs {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return nil, mapRepositoryError(err)
		}
		switch {
		case order.Status == domain.OrderStatusPending:
		case order.TransactionRef != nil && *order.TransactionRef == ref:
			// Partial retry after a crash between transitions and the record
			// insert; the order is already paid under this reference.
		default:
			return nil, fmt.Errorf("%w: order %s is %s and cannot settle", ErrOrderInvalidState, order.ID, order.Status)
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// verifyTransaction checks the rail-reported transaction against what the
// orders expect. Any mismatch fails verification before a single write.
func (s *settlementService) verifyTransaction(ctx context.Context, ref string, method domain.PaymentMethod, expectedAmount int64, currency string, orders []Order) (payments.Transaction, error) {
	tx, err := s.rails.Lookup(ctx, ref)
	if err != nil {
		return payments.Transaction{}, fmt.Errorf("%w: %v", ErrPaymentVerificationFailed, err)
	}
	if tx.Status != payments.StatusConfirmed {
		return payments.Transaction{}, fmt.Errorf("%w: transaction %s is %s", ErrPaymentVerificationFailed, ref, tx.Status)
	}
	if tx.Amount != expectedAmount {
		return payments.Transaction{}, fmt.Errorf("%w: transaction amount %d does not match expected %d", ErrPaymentVerificationFailed, tx.Amount, expectedAmount)
	}
	if tx.Currency != "" && !strings.EqualFold(tx.Currency, currency) {
		return payments.Transaction{}, fmt.Errorf("%w: transaction currency %s does not match %s", ErrPaymentVerificationFailed, tx.Currency, currency)
	}

	expectedRecipient, err := s.expectedRecipient(ctx, method, orders)
	if err != nil {
		return payments.Transaction{}, err
	}
	// Rails that do not report a recipient (card intents without transfer
	// data) cannot be checked against one.
	if tx.Recipient != "" && expectedRecipient != "" && !strings.EqualFold(tx.Recipient, expectedRecipient) {
		return payments.Transaction{}, fmt.Errorf("%w: transaction recipient does not match", ErrPaymentVerificationFailed)
	}

	return tx, nil
}

// expectedRecipient is the platform treasury for escrow. Direct settlements
// pay the seller, so all orders under one reference must share a seller.
func (s *settlementService) expectedRecipient(ctx context.Context, method domain.PaymentMethod, orders []Order) (string, error) {
	if method == domain.PaymentMethodEscrow {
		return s.treasury, nil
	}

	sellerID := orders[0].SellerID
	for _, order := range orders {
		if order.SellerID != sellerID {
			return "", fmt.Errorf("%w: direct settlement spans multiple sellers", ErrPaymentVerificationFailed)
		}
	}
	if s.users == nil {
		return "", nil
	}
	seller, err := s.users.FindByID(ctx, sellerID)
	if err != nil {
		return "", mapRepositoryError(err)
	}
	return seller.WalletAddress, nil
}

// markOrderPaid applies pending -> paid under the caller-held lock. An order
// already paid under the same reference is a no-op.
func (s *settlementService) markOrderPaid(order *Order, ref string, now time.Time) (bool, error) {
	if order.Status != domain.OrderStatusPending {
		if order.TransactionRef != nil && *order.TransactionRef == ref {
			return false, nil
		}
		return false, fmt.Errorf("%w: order %s is %s and cannot settle", ErrOrderInvalidState, order.ID, order.Status)
	}
	if _, err := applyStatusTransition(order, domain.OrderStatusPaid, now); err != nil {
		return false, err
	}
	order.TransactionRef = valuePtr(ref)
	return true, nil
}

// escrowAlreadyHeld reports whether a hold entry exists for the order.
func (s *settlementService) escrowAlreadyHeld(ctx context.Context, orderID string) (bool, error) {
	if _, err := s.ledger.FindEntryByOrder(ctx, orderID, domain.LedgerEntryEscrowHold); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return false, nil
		}
		return false, mapRepositoryError(err)
	}
	return true, nil
}

// appendEscrowHold books the order total into platform custody.
func (s *settlementService) appendEscrowHold(ctx context.Context, order Order, ref string, now time.Time) error {
	entry := LedgerEntry{
		ID:             ledgerEntryIDPrefix + s.newID(),
		OrderID:        order.ID,
		TransactionRef: ref,
		Kind:           domain.LedgerEntryEscrowHold,
		Amount:         order.Totals.Total,
		Currency:       order.Currency,
		CreatedAt:      now,
	}
	if _, err := s.ledger.Append(ctx, domain.LedgerAccountTreasury, "", entry); err != nil {
		return mapRepositoryError(err)
	}
	s.logger(ctx, escrowEventHeld, map[string]any{
		"order":  order.ID,
		"amount": entry.Amount,
	})
	return nil
}

func (s *settlementService) ReleaseEscrow(ctx context.Context, cmd ReleaseEscrowCommand) (LedgerEntry, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return LedgerEntry{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	trigger := strings.TrimSpace(cmd.Trigger)
	if trigger == "" {
		return LedgerEntry{}, fmt.Errorf("%w: release trigger is required", ErrInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return LedgerEntry{}, mapRepositoryError(err)
	}
	if order.PaymentMethod != domain.PaymentMethodEscrow {
		return LedgerEntry{}, fmt.Errorf("%w: order %s is not an escrow order", ErrOrderInvalidState, orderID)
	}
	if order.PaidAt == nil || order.TransactionRef == nil {
		return LedgerEntry{}, fmt.Errorf("%w: order %s was never settled", ErrOrderInvalidState, orderID)
	}
	if order.Status == domain.OrderStatusCancelled {
		return LedgerEntry{}, fmt.Errorf("%w: order %s is cancelled", ErrOrderInvalidState, orderID)
	}

	// At most once per order: a recorded release entry is returned as-is.
	if existing, err := s.ledger.FindEntryByOrder(ctx, orderID, domain.LedgerEntryEscrowRelease); err == nil {
		return existing, nil
	} else {
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			return LedgerEntry{}, mapRepositoryError(err)
		}
	}

	now := s.now()
	ref := *order.TransactionRef
	var sellerEntry LedgerEntry
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		debit := LedgerEntry{
			ID:             ledgerEntryIDPrefix + s.newID(),
			OrderID:        orderID,
			TransactionRef: ref,
			Kind:           domain.LedgerEntryEscrowRelease,
			Amount:         -order.Totals.Total,
			Currency:       order.Currency,
			CreatedAt:      now,
		}
		if _, err := s.ledger.Append(txCtx, domain.LedgerAccountTreasury, "", debit); err != nil {
			return mapRepositoryError(err)
		}

		credit := LedgerEntry{
			ID:             ledgerEntryIDPrefix + s.newID(),
			OrderID:        orderID,
			TransactionRef: ref,
			Kind:           domain.LedgerEntryEscrowRelease,
			Amount:         order.Totals.Total,
			Currency:       order.Currency,
			CreatedAt:      now,
		}
		applied, err := s.ledger.Append(txCtx, domain.LedgerAccountSeller, order.SellerID, credit)
		if err != nil {
			return mapRepositoryError(err)
		}
		sellerEntry = applied
		return nil
	})
	if err != nil {
		return LedgerEntry{}, err
	}

	s.logger(ctx, escrowEventReleased, map[string]any{
		"order":   orderID,
		"seller":  order.SellerID,
		"amount":  order.Totals.Total,
		"trigger": trigger,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          escrowEventReleased,
		OrderID:       orderID,
		CurrentStatus: string(order.Status),
		ActorID:       strings.TrimSpace(cmd.ActorID),
		OccurredAt:    now,
		Metadata: map[string]any{
			"trigger": trigger,
			"amount":  order.Totals.Total,
		},
	})

	return sellerEntry, nil
}

// WatchConfirmation polls the rail until the reference settles or the watch
// window closes. The goroutine stops when ctx is cancelled.
func (s *settlementService) WatchConfirmation(ctx context.Context, cmd WatchConfirmationCommand) {
	interval := cmd.Interval
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultWatchTimeout
	}

	go func() {
		watchCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-watchCtx.Done():
				s.logger(watchCtx, "settlement.watch.stopped", map[string]any{
					"transactionRef": cmd.TransactionRef,
					"reason":         watchCtx.Err().Error(),
				})
				return
			case <-ticker.C:
				_, err := s.SettlePayment(watchCtx, SettlePaymentCommand{
					TransactionRef: cmd.TransactionRef,
					OrderIDs:       cmd.OrderIDs,
				})
				switch {
				case err == nil:
					return
				case errors.Is(err, ErrPaymentVerificationFailed):
					// Not confirmed yet; keep polling.
				case errors.Is(err, ErrInvalidInput),
					errors.Is(err, ErrReferenceNotFound),
					errors.Is(err, ErrOrderInvalidState),
					errors.Is(err, ErrOrderConflict):
					s.logger(watchCtx, "settlement.watch.abandoned", map[string]any{
						"transactionRef": cmd.TransactionRef,
						"error":          err.Error(),
					})
					return
				default:
					// Transient repository or rail failure; keep polling.
				}
			}
		}
	}()
}

func dedupeOrderIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (s *settlementService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *settlementService) now() time.Time {
	return s.clock()
}

func (s *settlementService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "settlement.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}
