package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

// Store keeps everything behind a single RWMutex. Insertion order is
// tracked separately so listings are stable without persisted timestamps.
type Store struct {
	mu            sync.RWMutex
	products      map[int64]domain.Product
	productOrder  []int64
	sales         map[int64]domain.Sale
	saleOrder     []int64
	closingByDate map[string]domain.DailyClosing
	nextProductID int64
	nextSaleID    int64
}

func New() *Store {
	return &Store{
		products:      make(map[int64]domain.Product),
		productOrder:  make([]int64, 0, 64),
		sales:         make(map[int64]domain.Sale),
		saleOrder:     make([]int64, 0, 256),
		closingByDate: make(map[string]domain.DailyClosing),
	}
}

// NewSeeded returns a store preloaded with a small demo catalog, used when
// the backend runs without a database.
func NewSeeded() *Store {
	s := New()
	seed := []domain.Product{
		{Name: "Arroz", Price: decimal.NewFromInt(2000), Stock: decimal.NewFromInt(40), Type: domain.ProductTypeUnit, UnitsPerPack: 1},
		{Name: "Harina de Maíz", Price: decimal.NewFromInt(1500), Stock: decimal.NewFromFloat(12.5), Type: domain.ProductTypeWeight, UnitsPerPack: 1},
		{Name: "Queso Blanco", Price: decimal.NewFromInt(6500), Stock: decimal.NewFromFloat(8.25), Type: domain.ProductTypeWeight, UnitsPerPack: 1},
		{Name: "Refresco Lata", Price: decimal.NewFromInt(500), Stock: decimal.NewFromInt(72), Type: domain.ProductTypePack, UnitsPerPack: 6},
		{Name: "Café Molido", Price: decimal.NewFromInt(3200), Stock: decimal.NewFromInt(15), Type: domain.ProductTypeUnit, UnitsPerPack: 1},
		{Name: "Huevos Cartón", Price: decimal.NewFromInt(4800), Stock: decimal.NewFromInt(90), Type: domain.ProductTypePack, UnitsPerPack: 30},
	}
	for _, p := range seed {
		s.nextProductID++
		p.ID = s.nextProductID
		s.products[p.ID] = p
		s.productOrder = append(s.productOrder, p.ID)
	}
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productOrder))
	for _, id := range s.productOrder {
		products = append(products, s.products[id])
	}
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return domain.Product{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextProductID++
	product.ID = s.nextProductID
	s.products[product.ID] = product
	s.productOrder = append(s.productOrder, product.ID)
	return product, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return domain.Product{}, store.ErrNotFound
	}
	return product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return domain.Product{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; !exists {
		return domain.Product{}, store.ErrNotFound
	}
	s.products[product.ID] = product
	return product, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.products, id)
	s.productOrder = slices.DeleteFunc(s.productOrder, func(pid int64) bool {
		return pid == id
	})
	return nil
}

// CreateSale validates stock for every line before mutating anything, so a
// failure on any line leaves both the catalog and the sale log untouched.
func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (domain.Sale, error) {
	if len(sale.Lines) == 0 || sale.Date == "" || sale.Time == "" {
		return domain.Sale{}, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, line := range sale.Lines {
		product, exists := s.products[line.ProductID]
		if !exists {
			return domain.Sale{}, store.ErrNotFound
		}
		if product.Stock.LessThan(line.Quantity) {
			return domain.Sale{}, store.ErrInsufficientStock
		}
	}

	for _, line := range sale.Lines {
		product := s.products[line.ProductID]
		product.Stock = product.Stock.Sub(line.Quantity)
		s.products[line.ProductID] = product
	}

	s.nextSaleID++
	sale.ID = s.nextSaleID
	sale.Closed = false
	s.sales[sale.ID] = cloneSale(sale)
	s.saleOrder = append(s.saleOrder, sale.ID)
	return cloneSale(sale), nil
}

func (s *Store) GetSale(_ context.Context, id int64) (domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.sales[id]
	if !exists {
		return domain.Sale{}, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, len(s.saleOrder))
	for _, id := range s.saleOrder {
		sale := s.sales[id]
		if filter.Date != "" && sale.Date != filter.Date {
			continue
		}
		if filter.PaymentMethod != "" && sale.PaymentMethod != filter.PaymentMethod {
			continue
		}
		result = append(result, cloneSale(sale))
	}

	slices.SortFunc(result, func(a, b domain.Sale) int {
		return strings.Compare(b.Date+b.Time, a.Date+a.Time)
	})
	return result, nil
}

func (s *Store) ListOpenSalesByDate(_ context.Context, date string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 32)
	for _, id := range s.saleOrder {
		sale := s.sales[id]
		if sale.Date != date || sale.Closed {
			continue
		}
		result = append(result, cloneSale(sale))
	}
	return result, nil
}

// CloseDay seals today's open sales and folds their totals into the
// closing record under a single lock hold, so the record can never miss a
// sealed batch.
func (s *Store) CloseDay(_ context.Context, date string) ([]domain.Sale, error) {
	if date == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	closed := make([]domain.Sale, 0, 32)
	for _, id := range s.saleOrder {
		sale := s.sales[id]
		if sale.Date != date || sale.Closed {
			continue
		}
		sale.Closed = true
		s.sales[id] = sale
		closed = append(closed, cloneSale(sale))
	}
	if len(closed) == 0 {
		return closed, nil
	}

	closing, exists := s.closingByDate[date]
	if !exists {
		closing = domain.DailyClosing{
			Date:          date,
			Total:         decimal.Zero,
			CashTotal:     decimal.Zero,
			TransferTotal: decimal.Zero,
		}
	}
	for _, sale := range closed {
		closing.SalesCount++
		closing.Total = closing.Total.Add(sale.Total)
		closing.CashTotal = closing.CashTotal.Add(sale.CashAmount)
		closing.TransferTotal = closing.TransferTotal.Add(sale.TransferAmount)
	}
	s.closingByDate[date] = closing

	return closed, nil
}

func (s *Store) GetDailyClosing(_ context.Context, date string) (domain.DailyClosing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	closing, exists := s.closingByDate[date]
	if !exists {
		return domain.DailyClosing{}, store.ErrNotFound
	}
	return closing, nil
}

func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.products = make(map[int64]domain.Product)
	s.productOrder = s.productOrder[:0]
	s.sales = make(map[int64]domain.Sale)
	s.saleOrder = s.saleOrder[:0]
	s.closingByDate = make(map[string]domain.DailyClosing)
	s.nextProductID = 0
	s.nextSaleID = 0
	return nil
}

func (s *Store) Close() error { return nil }

func validateProduct(product domain.Product) error {
	if strings.TrimSpace(product.Name) == "" {
		return store.ErrValidation
	}
	if !product.Price.IsPositive() || product.Stock.IsNegative() {
		return store.ErrValidation
	}
	if product.UnitsPerPack < 1 {
		return store.ErrValidation
	}
	return nil
}

func cloneSale(src domain.Sale) domain.Sale {
	dup := src
	lines := make([]domain.SaleLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	return dup
}
