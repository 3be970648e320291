// Package cart holds the transient sale-in-progress. A session lives in
// memory only; nothing here touches persistence until the sale is committed.
package cart

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

var thousand = decimal.NewFromInt(1000)

// Session is one open cart. Line positions are stable: RemoveLine shifts
// later lines down, matching what the operator sees on screen.
type Session struct {
	ID string

	mu    sync.Mutex
	lines []domain.CartLine
}

func NewSession(id string) *Session {
	return &Session{ID: id, lines: make([]domain.CartLine, 0, 8)}
}

// AddLine resolves the quantity entry against the product type, checks the
// requested amount (plus whatever the cart already holds for the same
// product) against available stock, and appends a snapshot line.
func (s *Session) AddLine(product domain.Product, input domain.QuantityInput) (domain.CartLine, error) {
	quantity, description, err := resolveQuantity(product, input)
	if err != nil {
		return domain.CartLine{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inCart := decimal.Zero
	for _, line := range s.lines {
		if line.ProductID == product.ID {
			inCart = inCart.Add(line.Quantity)
		}
	}
	if inCart.Add(quantity).GreaterThan(product.Stock) {
		return domain.CartLine{}, fmt.Errorf("%w: %s", store.ErrInsufficientStock, product.Name)
	}

	line := domain.CartLine{
		ProductID:   product.ID,
		Name:        product.Name,
		Description: description,
		Quantity:    quantity,
		Price:       product.Price,
		LineTotal:   product.Price.Mul(quantity),
	}
	s.lines = append(s.lines, line)
	return line, nil
}

// RemoveLine drops the line at the given position. Out-of-range positions
// are ignored so a double-tap on the same row cannot fail.
func (s *Session) RemoveLine(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.lines) {
		return
	}
	s.lines = append(s.lines[:index], s.lines[index+1:]...)
}

func (s *Session) Lines() []domain.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]domain.CartLine, len(s.lines))
	copy(lines, s.lines)
	return lines
}

func (s *Session) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := decimal.Zero
	for _, line := range s.lines {
		total = total.Add(line.LineTotal)
	}
	return total
}

func (s *Session) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines) == 0
}

func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = s.lines[:0]
}

// resolveQuantity normalizes the operator's entry into the product's stock
// unit (whole units for unit and pack products, kilograms for weight
// products) and builds the human-readable line description.
func resolveQuantity(product domain.Product, input domain.QuantityInput) (decimal.Decimal, string, error) {
	switch product.Type {
	case domain.ProductTypeUnit:
		if input.Units < 1 {
			return decimal.Zero, "", fmt.Errorf("%w: la cantidad debe ser un entero positivo", store.ErrValidation)
		}
		quantity := decimal.NewFromInt(int64(input.Units))
		return quantity, fmt.Sprintf("%d und", input.Units), nil

	case domain.ProductTypeWeight:
		if !input.Amount.IsPositive() {
			return decimal.Zero, "", fmt.Errorf("%w: el peso debe ser mayor que cero", store.ErrValidation)
		}
		switch input.WeightUnit {
		case domain.WeightUnitGram:
			return input.Amount.Div(thousand), fmt.Sprintf("%s g", input.Amount.String()), nil
		case domain.WeightUnitKilogram, "":
			return input.Amount, fmt.Sprintf("%s kg", input.Amount.String()), nil
		}
		return decimal.Zero, "", fmt.Errorf("%w: unidad de peso desconocida %q", store.ErrValidation, input.WeightUnit)

	case domain.ProductTypePack:
		if input.LooseUnits < 0 || input.Packs < 0 {
			return decimal.Zero, "", fmt.Errorf("%w: cantidades negativas", store.ErrValidation)
		}
		if input.LooseUnits == 0 && input.Packs == 0 {
			return decimal.Zero, "", fmt.Errorf("%w: indique unidades sueltas o cartones", store.ErrValidation)
		}
		units := input.LooseUnits + input.Packs*product.UnitsPerPack
		description := ""
		if input.LooseUnits > 0 {
			description = fmt.Sprintf("%d und", input.LooseUnits)
		}
		if input.Packs > 0 {
			packPart := fmt.Sprintf("%d cartón(es) (%d und)", input.Packs, input.Packs*product.UnitsPerPack)
			if description != "" {
				description += " + " + packPart
			} else {
				description = packPart
			}
		}
		return decimal.NewFromInt(int64(units)), description, nil
	}
	return decimal.Zero, "", fmt.Errorf("%w: tipo de producto desconocido %q", store.ErrValidation, product.Type)
}
