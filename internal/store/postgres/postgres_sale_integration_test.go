package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

func TestCreateSaleDecrementsStockAtomically(t *testing.T) {
	databaseURL := os.Getenv("PUNTOVENTA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set PUNTOVENTA_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	name := fmt.Sprintf("Producto IT %d", stamp)
	date := fmt.Sprintf("2099-01-%02d", stamp%28+1)

	product, err := s.CreateProduct(ctx, domain.Product{
		Name:         name,
		Price:        decimal.NewFromInt(2000),
		Stock:        decimal.NewFromInt(10),
		Type:         domain.ProductTypeUnit,
		UnitsPerPack: 1,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_lines WHERE product_id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE sale_date = $1`, date)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM daily_closings WHERE closing_date = $1`, date)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})

	line := domain.SaleLine{
		ProductID:   product.ID,
		Name:        product.Name,
		Description: "3 und",
		Quantity:    decimal.NewFromInt(3),
		Price:       product.Price,
		LineTotal:   decimal.NewFromInt(6000),
	}
	sale, err := s.CreateSale(ctx, domain.Sale{
		Date:           date,
		Time:           "10:30:00",
		Lines:          []domain.SaleLine{line},
		Total:          decimal.NewFromInt(6000),
		PaymentMethod:  domain.PaymentCash,
		CashAmount:     decimal.NewFromInt(6000),
		TransferAmount: decimal.Zero,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	stored, err := s.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if !stored.Stock.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("expected stock 7 after sale, got %s", stored.Stock)
	}

	// Overselling must fail and leave stock where it was.
	oversell := line
	oversell.Quantity = decimal.NewFromInt(8)
	if _, err := s.CreateSale(ctx, domain.Sale{
		Date:           date,
		Time:           "10:31:00",
		Lines:          []domain.SaleLine{oversell},
		Total:          decimal.NewFromInt(16000),
		PaymentMethod:  domain.PaymentCash,
		CashAmount:     decimal.NewFromInt(16000),
		TransferAmount: decimal.Zero,
	}); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	stored, err = s.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if !stored.Stock.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("failed sale must not change stock, got %s", stored.Stock)
	}

	closedBatch, err := s.CloseDay(ctx, date)
	if err != nil {
		t.Fatalf("close day: %v", err)
	}
	if len(closedBatch) != 1 || closedBatch[0].ID != sale.ID || !closedBatch[0].Closed {
		t.Fatalf("expected the one sale sealed, got %+v", closedBatch)
	}
	if len(closedBatch[0].Lines) != 1 || closedBatch[0].Lines[0].Description != "3 und" {
		t.Fatalf("sealed batch must carry its lines, got %+v", closedBatch[0].Lines)
	}

	closing, err := s.GetDailyClosing(ctx, date)
	if err != nil {
		t.Fatalf("get daily closing: %v", err)
	}
	if closing.SalesCount != 1 || !closing.Total.Equal(decimal.NewFromInt(6000)) || !closing.CashTotal.Equal(decimal.NewFromInt(6000)) {
		t.Fatalf("closing must capture the sealed batch, got %+v", closing)
	}

	// A second closing on the same date finds nothing and writes nothing.
	again, err := s.CloseDay(ctx, date)
	if err != nil {
		t.Fatalf("second close: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected empty second batch, got %d", len(again))
	}
	closing, err = s.GetDailyClosing(ctx, date)
	if err != nil {
		t.Fatalf("get daily closing: %v", err)
	}
	if closing.SalesCount != 1 {
		t.Fatalf("empty batch must leave the closing untouched, got %+v", closing)
	}

	// A later sale on the same date accumulates into the same record.
	late := line
	late.Quantity = decimal.NewFromInt(2)
	late.LineTotal = decimal.NewFromInt(4000)
	if _, err := s.CreateSale(ctx, domain.Sale{
		Date:           date,
		Time:           "18:05:00",
		Lines:          []domain.SaleLine{late},
		Total:          decimal.NewFromInt(4000),
		PaymentMethod:  domain.PaymentTransfer,
		CashAmount:     decimal.Zero,
		TransferAmount: decimal.NewFromInt(4000),
	}); err != nil {
		t.Fatalf("create late sale: %v", err)
	}
	if _, err := s.CloseDay(ctx, date); err != nil {
		t.Fatalf("third close: %v", err)
	}
	closing, err = s.GetDailyClosing(ctx, date)
	if err != nil {
		t.Fatalf("get daily closing: %v", err)
	}
	if closing.SalesCount != 2 || !closing.Total.Equal(decimal.NewFromInt(10000)) || !closing.TransferTotal.Equal(decimal.NewFromInt(4000)) {
		t.Fatalf("closing must accumulate across batches, got %+v", closing)
	}
}
