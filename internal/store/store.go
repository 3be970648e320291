// Package store defines the persistence contract for the point-of-sale
// backend. Two implementations exist: an in-memory store for tests and
// single-terminal use without a database, and a postgres store.
package store

import (
	"context"
	"errors"

	"puntoventa/backend/internal/domain"
)

var (
	// ErrNotFound is returned when a product, sale or closing does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrValidation is returned for malformed input the store refuses to persist.
	ErrValidation = errors.New("store: validation failed")
	// ErrInsufficientStock is returned when a sale would drive stock below zero.
	ErrInsufficientStock = errors.New("store: insufficient stock")
)

// Repository is the full persistence surface. CreateSale must atomically
// insert the sale and decrement stock for every line, re-checking
// availability; a failed check leaves both products and sales untouched.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error)
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
	UpdateProduct(ctx context.Context, p domain.Product) (domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error

	CreateSale(ctx context.Context, sale domain.Sale) (domain.Sale, error)
	GetSale(ctx context.Context, id int64) (domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	ListOpenSalesByDate(ctx context.Context, date string) ([]domain.Sale, error)
	// CloseDay marks every open sale on the given date closed and folds the
	// batch's totals into the closing record for that date, creating the
	// record if none exists. Seal and record are one atomic step: a failure
	// leaves every sale open and the record untouched. The sealed batch is
	// returned in insertion order; an empty batch writes nothing.
	CloseDay(ctx context.Context, date string) ([]domain.Sale, error)

	GetDailyClosing(ctx context.Context, date string) (domain.DailyClosing, error)

	// Reset deletes all products, sales and closings.
	Reset(ctx context.Context) error

	Close() error
}
