package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"puntoventa/backend/internal/cache"
	"puntoventa/backend/internal/cart"
	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

type Service struct {
	repo       store.Repository
	receipts   cache.ReceiptCache
	receiptTTL time.Duration
	loc        *time.Location
}

func New(repo store.Repository, receipts cache.ReceiptCache, receiptTTL time.Duration, loc *time.Location) *Service {
	if receipts == nil {
		receipts = cache.NoopReceiptCache{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:       repo,
		receipts:   receipts,
		receiptTTL: receiptTTL,
		loc:        loc,
	}
}

// Today returns the current business date in the terminal timezone.
func (s *Service) Today() string {
	return time.Now().In(s.loc).Format("2006-01-02")
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	product, err := productFromRequest(req.Name, req.Price, req.Stock, req.Type, req.UnitsPerPack)
	if err != nil {
		return domain.Product{}, err
	}
	return s.repo.CreateProduct(ctx, product)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	return s.repo.GetProduct(ctx, id)
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := s.repo.GetProduct(ctx, id); err != nil {
		return domain.Product{}, err
	}
	product, err := productFromRequest(req.Name, req.Price, req.Stock, req.Type, req.UnitsPerPack)
	if err != nil {
		return domain.Product{}, err
	}
	product.ID = id
	return s.repo.UpdateProduct(ctx, product)
}

// DeleteProduct is guarded: without confirm the call is a silent no-op, so
// an accidental tap on the delete button cannot destroy a record.
func (s *Service) DeleteProduct(ctx context.Context, id int64, confirm bool) error {
	if !confirm {
		return nil
	}
	return s.repo.DeleteProduct(ctx, id)
}

func (s *Service) AddCartLine(ctx context.Context, session *cart.Session, productID int64, input domain.QuantityInput) (domain.CartLine, error) {
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return domain.CartLine{}, err
	}
	return session.AddLine(product, input)
}

func (s *Service) RemoveCartLine(_ context.Context, session *cart.Session, index int) {
	session.RemoveLine(index)
}

// CommitSale turns the session into a persisted sale. The payment split is
// resolved here; for mixed payments the two amounts must add up to the cart
// total exactly, any difference rejects the commit before anything is
// written. On success the session is cleared.
func (s *Service) CommitSale(ctx context.Context, session *cart.Session, payment domain.PaymentInput) (domain.Sale, error) {
	if !payment.Confirm {
		return domain.Sale{}, fmt.Errorf("%w: confirmación requerida", store.ErrValidation)
	}
	if session.Empty() {
		return domain.Sale{}, fmt.Errorf("%w: el carrito está vacío", store.ErrValidation)
	}

	total := session.Total()
	cashAmount, transferAmount, err := resolvePayment(payment, total)
	if err != nil {
		return domain.Sale{}, err
	}

	now := time.Now().In(s.loc)
	lines := session.Lines()
	saleLines := make([]domain.SaleLine, 0, len(lines))
	for _, line := range lines {
		saleLines = append(saleLines, domain.SaleLine{
			ProductID:   line.ProductID,
			Name:        line.Name,
			Description: line.Description,
			Quantity:    line.Quantity,
			Price:       line.Price,
			LineTotal:   line.LineTotal,
		})
	}

	sale := domain.Sale{
		Date:           now.Format("2006-01-02"),
		Time:           now.Format("15:04:05"),
		Lines:          saleLines,
		Total:          total,
		PaymentMethod:  payment.Method,
		CashAmount:     cashAmount,
		TransferAmount: transferAmount,
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, err
	}

	session.Clear()
	return created, nil
}

func resolvePayment(payment domain.PaymentInput, total decimal.Decimal) (cash decimal.Decimal, transfer decimal.Decimal, err error) {
	switch payment.Method {
	case domain.PaymentCash:
		return total, decimal.Zero, nil
	case domain.PaymentTransfer:
		return decimal.Zero, total, nil
	case domain.PaymentMixed:
		if payment.CashAmount.IsNegative() || payment.TransferAmount.IsNegative() {
			return decimal.Zero, decimal.Zero, fmt.Errorf("%w: montos negativos", store.ErrValidation)
		}
		if !payment.CashAmount.Add(payment.TransferAmount).Equal(total) {
			return decimal.Zero, decimal.Zero, fmt.Errorf("%w: los montos no suman el total de la venta", store.ErrValidation)
		}
		return payment.CashAmount, payment.TransferAmount, nil
	}
	return decimal.Zero, decimal.Zero, fmt.Errorf("%w: método de pago desconocido %q", store.ErrValidation, payment.Method)
}

// DailyBalance partitions today's open sales into cash and transfer
// columns. Mixed sales contribute each side of their split, so the two
// totals always add up to the open-sales grand total.
func (s *Service) DailyBalance(ctx context.Context) (domain.DailyBalance, error) {
	date := s.Today()
	open, err := s.repo.ListOpenSalesByDate(ctx, date)
	if err != nil {
		return domain.DailyBalance{}, err
	}

	balance := domain.DailyBalance{Date: date, CashTotal: decimal.Zero, TransferTotal: decimal.Zero}
	for _, sale := range open {
		balance.CashTotal = balance.CashTotal.Add(sale.CashAmount)
		balance.TransferTotal = balance.TransferTotal.Add(sale.TransferAmount)
	}
	return balance, nil
}

// PerformClosing seals today's open sales and records their totals in the
// daily closing; the repository does both in one atomic step, so a failed
// closing leaves every sale open and can simply be retried. With nothing
// open it reports Performed=false and writes nothing.
func (s *Service) PerformClosing(ctx context.Context, confirm bool) (domain.ClosingResult, error) {
	if !confirm {
		return domain.ClosingResult{}, fmt.Errorf("%w: confirmación requerida", store.ErrValidation)
	}

	date := s.Today()
	closed, err := s.repo.CloseDay(ctx, date)
	if err != nil {
		return domain.ClosingResult{}, err
	}
	if len(closed) == 0 {
		return domain.ClosingResult{Performed: false}, nil
	}

	report := buildClosingReport(date, closed)
	return domain.ClosingResult{Performed: true, Report: &report}, nil
}

// buildClosingReport aggregates the sealed batch. Products appear in the
// order they were first sold across the batch.
func buildClosingReport(date string, sales []domain.Sale) domain.ClosingReport {
	report := domain.ClosingReport{
		Date:          date,
		SalesCount:    len(sales),
		Total:         decimal.Zero,
		CashTotal:     decimal.Zero,
		TransferTotal: decimal.Zero,
		Products:      make([]domain.ClosingReportLine, 0, 16),
	}

	indexByName := make(map[string]int, 16)
	for _, sale := range sales {
		report.Total = report.Total.Add(sale.Total)
		report.CashTotal = report.CashTotal.Add(sale.CashAmount)
		report.TransferTotal = report.TransferTotal.Add(sale.TransferAmount)
		for _, line := range sale.Lines {
			idx, seen := indexByName[line.Name]
			if !seen {
				idx = len(report.Products)
				indexByName[line.Name] = idx
				report.Products = append(report.Products, domain.ClosingReportLine{
					Name:     line.Name,
					Quantity: decimal.Zero,
					Total:    decimal.Zero,
				})
			}
			report.Products[idx].Quantity = report.Products[idx].Quantity.Add(line.Quantity)
			report.Products[idx].Total = report.Products[idx].Total.Add(line.LineTotal)
		}
	}
	return report
}

func (s *Service) GetDailyClosing(ctx context.Context, date string) (domain.DailyClosing, error) {
	if strings.TrimSpace(date) == "" {
		date = s.Today()
	}
	return s.repo.GetDailyClosing(ctx, date)
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	if filter.PaymentMethod != "" {
		if _, err := domain.ParsePaymentMethod(string(filter.PaymentMethod)); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrValidation, err)
		}
	}
	return s.repo.ListSales(ctx, filter)
}

func (s *Service) GetSale(ctx context.Context, id int64) (domain.Sale, error) {
	return s.repo.GetSale(ctx, id)
}

// BuildReceipt renders a sale as printable text plus the raw ESC/POS byte
// stream for a thermal printer. Rendered receipts are cached by sale ID.
func (s *Service) BuildReceipt(ctx context.Context, saleID int64) (domain.Receipt, error) {
	cacheKey := fmt.Sprintf("receipt:%d", saleID)
	if cached, hit, err := s.receipts.Get(ctx, cacheKey); err != nil {
		log.Printf("[service] WARN: receipt cache read failed sale=%d: %v", saleID, err)
	} else if hit {
		return *cached, nil
	}

	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Receipt{}, err
	}

	lines := []string{
		"PUNTO DE VENTA JEI",
		"servicio de calidad",
		"========================",
		"Venta: " + fmt.Sprintf("%d", sale.ID),
		"Fecha: " + displayDate(sale.Date),
		"Hora:  " + displayTime(sale.Time),
		"------------------------",
	}
	for _, line := range sale.Lines {
		lines = append(lines, fmt.Sprintf("%s (%s)", line.Name, line.Description))
		lines = append(lines, fmt.Sprintf("  %s", line.LineTotal.StringFixed(2)))
	}
	lines = append(lines,
		"------------------------",
		fmt.Sprintf("Total: %s", sale.Total.StringFixed(2)),
	)
	switch sale.PaymentMethod {
	case domain.PaymentCash:
		lines = append(lines, "Pago: efectivo")
	case domain.PaymentTransfer:
		lines = append(lines, "Pago: transferencia")
	case domain.PaymentMixed:
		lines = append(lines,
			"Pago: mixto",
			fmt.Sprintf("  Efectivo:      %s", sale.CashAmount.StringFixed(2)),
			fmt.Sprintf("  Transferencia: %s", sale.TransferAmount.StringFixed(2)),
		)
	}
	lines = append(lines,
		"========================",
		"¡Gracias por su compra!",
		"",
	)

	escpos := []byte{0x1b, 0x40}
	for _, line := range lines {
		escpos = append(escpos, []byte(line)...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, []byte{0x1d, 0x56, 0x41, 0x10}...)

	receipt := domain.Receipt{
		SaleID:       sale.ID,
		PreviewText:  strings.Join(lines, "\n"),
		EscposBase64: base64.StdEncoding.EncodeToString(escpos),
		FileName:     fmt.Sprintf("venta-%d.bin", sale.ID),
	}

	if err := s.receipts.Set(ctx, cacheKey, &receipt, s.receiptTTL); err != nil {
		log.Printf("[service] WARN: receipt cache write failed sale=%d: %v", saleID, err)
	}
	return receipt, nil
}

// ResetAllData wipes every record. Without confirm it is a silent no-op.
func (s *Service) ResetAllData(ctx context.Context, confirm bool) error {
	if !confirm {
		return nil
	}
	return s.repo.Reset(ctx)
}

func productFromRequest(name string, price, stock decimal.Decimal, rawType string, unitsPerPack int) (domain.Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Product{}, fmt.Errorf("%w: el nombre es obligatorio", store.ErrValidation)
	}
	if !price.IsPositive() {
		return domain.Product{}, fmt.Errorf("%w: el precio debe ser mayor que cero", store.ErrValidation)
	}
	if stock.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: la existencia no puede ser negativa", store.ErrValidation)
	}
	productType, err := domain.ParseProductType(rawType)
	if err != nil {
		return domain.Product{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	if productType == domain.ProductTypePack {
		if unitsPerPack < 1 {
			return domain.Product{}, fmt.Errorf("%w: unidades por cartón debe ser al menos 1", store.ErrValidation)
		}
	} else {
		unitsPerPack = 1
	}

	return domain.Product{
		Name:         name,
		Price:        price,
		Stock:        stock,
		Type:         productType,
		UnitsPerPack: unitsPerPack,
	}, nil
}

// displayDate converts the stored YYYY-MM-DD date to dd/mm/yyyy for print.
func displayDate(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.Format("02/01/2006")
}

// displayTime drops the seconds from the stored HH:MM:SS clock.
func displayTime(clock string) string {
	t, err := time.Parse("15:04:05", clock)
	if err != nil {
		return clock
	}
	return t.Format("15:04")
}
