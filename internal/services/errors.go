package services

import "errors"

// Shared error taxonomy for the settlement engine. Services wrap these with
// fmt.Errorf("%w: ...") so handlers can classify via errors.Is.
var (
	// ErrInvalidInput signals the caller provided malformed data.
	ErrInvalidInput = errors.New("orders: invalid input")
	// ErrReferenceNotFound indicates a buyer, seller, product, or order reference could not be resolved.
	ErrReferenceNotFound = errors.New("orders: reference not found")
	// ErrPromoInvalid indicates a promo code failed validation. Checkout is not
	// aborted; the discount is simply not applied.
	ErrPromoInvalid = errors.New("promo: invalid")
	// ErrShippingUnavailable indicates the carrier quote failed; the affected
	// seller partition is aborted.
	ErrShippingUnavailable = errors.New("shipping: unavailable")
	// ErrOrderInvalidState indicates an illegal status transition. The caller can
	// re-fetch current state and retry.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrPaymentVerificationFailed indicates the transaction reference could not
	// be verified against the expected amount and recipient. No order state changes.
	ErrPaymentVerificationFailed = errors.New("settlement: payment verification failed")
)
