package domain

import "errors"

var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists indicates a uniqueness constraint rejected the write.
	ErrAlreadyExists = errors.New("already exists")
	// ErrEmptyCart is returned when checkout is attempted on a cart without items.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInsufficientStock is returned when a cart line asks for more units than are in stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidInput wraps request validation failures.
	ErrInvalidInput = errors.New("invalid input")
)
