package cart

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

func unitProduct() domain.Product {
	return domain.Product{
		ID:           1,
		Name:         "Arroz",
		Price:        decimal.NewFromInt(2000),
		Stock:        decimal.NewFromInt(10),
		Type:         domain.ProductTypeUnit,
		UnitsPerPack: 1,
	}
}

func weightProduct() domain.Product {
	return domain.Product{
		ID:           2,
		Name:         "Harina de Maíz",
		Price:        decimal.NewFromInt(1500),
		Stock:        decimal.NewFromFloat(5.5),
		Type:         domain.ProductTypeWeight,
		UnitsPerPack: 1,
	}
}

func packProduct() domain.Product {
	return domain.Product{
		ID:           3,
		Name:         "Refresco Lata",
		Price:        decimal.NewFromInt(500),
		Stock:        decimal.NewFromInt(24),
		Type:         domain.ProductTypePack,
		UnitsPerPack: 6,
	}
}

func TestAddLineUnitProduct(t *testing.T) {
	session := NewSession("test")

	line, err := session.AddLine(unitProduct(), domain.QuantityInput{Units: 3})
	if err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	if !line.Quantity.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected quantity 3, got %s", line.Quantity)
	}
	if !line.LineTotal.Equal(decimal.NewFromInt(6000)) {
		t.Fatalf("expected line total 6000, got %s", line.LineTotal)
	}
	if line.Description != "3 und" {
		t.Fatalf("unexpected description %q", line.Description)
	}
}

func TestAddLineWeightInGramsNormalizesToKilograms(t *testing.T) {
	session := NewSession("test")

	line, err := session.AddLine(weightProduct(), domain.QuantityInput{
		Amount:     decimal.NewFromInt(500),
		WeightUnit: domain.WeightUnitGram,
	})
	if err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	if !line.Quantity.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("expected quantity 0.5 kg, got %s", line.Quantity)
	}
	if !line.LineTotal.Equal(decimal.NewFromInt(750)) {
		t.Fatalf("expected line total 750, got %s", line.LineTotal)
	}
	if line.Description != "500 g" {
		t.Fatalf("unexpected description %q", line.Description)
	}
}

func TestAddLineWeightInKilograms(t *testing.T) {
	session := NewSession("test")

	line, err := session.AddLine(weightProduct(), domain.QuantityInput{
		Amount:     decimal.NewFromFloat(1.5),
		WeightUnit: domain.WeightUnitKilogram,
	})
	if err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	if !line.Quantity.Equal(decimal.NewFromFloat(1.5)) {
		t.Fatalf("expected quantity 1.5 kg, got %s", line.Quantity)
	}
	if line.Description != "1.5 kg" {
		t.Fatalf("unexpected description %q", line.Description)
	}
}

func TestAddLinePackCombinesLooseAndPacks(t *testing.T) {
	session := NewSession("test")

	line, err := session.AddLine(packProduct(), domain.QuantityInput{LooseUnits: 2, Packs: 1})
	if err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	if !line.Quantity.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("expected quantity 8 units, got %s", line.Quantity)
	}
	if !line.LineTotal.Equal(decimal.NewFromInt(4000)) {
		t.Fatalf("expected line total 4000, got %s", line.LineTotal)
	}
	if line.Description != "2 und + 1 cartón(es) (6 und)" {
		t.Fatalf("unexpected description %q", line.Description)
	}
}

func TestAddLinePackPacksOnly(t *testing.T) {
	session := NewSession("test")

	line, err := session.AddLine(packProduct(), domain.QuantityInput{Packs: 2})
	if err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	if line.Description != "2 cartón(es) (12 und)" {
		t.Fatalf("unexpected description %q", line.Description)
	}
	if !line.Quantity.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("expected quantity 12, got %s", line.Quantity)
	}
}

func TestAddLineRejectsInvalidQuantities(t *testing.T) {
	session := NewSession("test")

	cases := []struct {
		name    string
		product domain.Product
		input   domain.QuantityInput
	}{
		{"zero units", unitProduct(), domain.QuantityInput{Units: 0}},
		{"negative units", unitProduct(), domain.QuantityInput{Units: -2}},
		{"zero weight", weightProduct(), domain.QuantityInput{Amount: decimal.Zero, WeightUnit: domain.WeightUnitKilogram}},
		{"unknown weight unit", weightProduct(), domain.QuantityInput{Amount: decimal.NewFromInt(1), WeightUnit: "lb"}},
		{"pack with nothing", packProduct(), domain.QuantityInput{}},
		{"pack negative loose", packProduct(), domain.QuantityInput{LooseUnits: -1, Packs: 1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := session.AddLine(tc.product, tc.input); !errors.Is(err, store.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	if !session.Empty() {
		t.Fatalf("rejected lines must not reach the cart")
	}
}

func TestAddLineRejectsInsufficientStock(t *testing.T) {
	session := NewSession("test")

	if _, err := session.AddLine(unitProduct(), domain.QuantityInput{Units: 11}); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestAddLineCountsExistingCartQuantityAgainstStock(t *testing.T) {
	session := NewSession("test")

	if _, err := session.AddLine(unitProduct(), domain.QuantityInput{Units: 6}); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	if _, err := session.AddLine(unitProduct(), domain.QuantityInput{Units: 5}); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock on second add, got %v", err)
	}
}

func TestRemoveLineOutOfRangeIsNoop(t *testing.T) {
	session := NewSession("test")

	if _, err := session.AddLine(unitProduct(), domain.QuantityInput{Units: 1}); err != nil {
		t.Fatalf("add line failed: %v", err)
	}

	session.RemoveLine(5)
	session.RemoveLine(-1)
	if len(session.Lines()) != 1 {
		t.Fatalf("out-of-range removals must not change the cart")
	}

	session.RemoveLine(0)
	if !session.Empty() {
		t.Fatalf("expected empty cart after removing the only line")
	}
}

func TestTotalSumsLineTotals(t *testing.T) {
	session := NewSession("test")

	if _, err := session.AddLine(unitProduct(), domain.QuantityInput{Units: 3}); err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	if _, err := session.AddLine(packProduct(), domain.QuantityInput{LooseUnits: 2, Packs: 1}); err != nil {
		t.Fatalf("add line failed: %v", err)
	}

	if !session.Total().Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("expected total 10000, got %s", session.Total())
	}

	session.Clear()
	if !session.Total().IsZero() {
		t.Fatalf("expected zero total after clear")
	}
}
