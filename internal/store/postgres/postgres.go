package postgres

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the schema if missing and upgrades databases created
// before products carried a type: existing rows are backfilled as plain
// unit products.
func migrate(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			name TEXT NOT NULL,
			price NUMERIC(14,2) NOT NULL,
			stock NUMERIC(14,3) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`ALTER TABLE products ADD COLUMN IF NOT EXISTS type TEXT`,
		`ALTER TABLE products ADD COLUMN IF NOT EXISTS units_per_pack INT`,
		`UPDATE products SET type = 'unit' WHERE type IS NULL`,
		`UPDATE products SET units_per_pack = 1 WHERE units_per_pack IS NULL`,
		`ALTER TABLE products ALTER COLUMN type SET NOT NULL`,
		`ALTER TABLE products ALTER COLUMN units_per_pack SET NOT NULL`,
		`CREATE TABLE IF NOT EXISTS sales (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			sale_date TEXT NOT NULL,
			sale_time TEXT NOT NULL,
			total NUMERIC(14,2) NOT NULL,
			payment_method TEXT NOT NULL,
			cash_amount NUMERIC(14,2) NOT NULL,
			transfer_amount NUMERIC(14,2) NOT NULL,
			closed BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sale_lines (
			sale_id BIGINT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
			position INT NOT NULL,
			product_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			quantity NUMERIC(14,3) NOT NULL,
			price NUMERIC(14,2) NOT NULL,
			line_total NUMERIC(14,2) NOT NULL,
			PRIMARY KEY (sale_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS daily_closings (
			closing_date TEXT PRIMARY KEY,
			sales_count INT NOT NULL,
			total NUMERIC(14,2) NOT NULL,
			cash_total NUMERIC(14,2) NOT NULL,
			transfer_total NUMERIC(14,2) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_date ON sales (sale_date)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_payment_method ON sales (payment_method)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_closed ON sales (closed)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, stock, type, units_per_pack
		FROM products
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Type, &p.UnitsPerPack); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return domain.Product{}, err
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (name, price, stock, type, units_per_pack)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, product.Name, product.Price, product.Stock, product.Type, product.UnitsPerPack).Scan(&product.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Product{}, store.ErrValidation
		}
		return domain.Product{}, err
	}
	return product, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price, stock, type, units_per_pack
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &product.Price, &product.Stock, &product.Type, &product.UnitsPerPack)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, store.ErrNotFound
		}
		return domain.Product{}, err
	}
	return product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return domain.Product{}, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, price = $3, stock = $4, type = $5, units_per_pack = $6, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Price, product.Stock, product.Type, product.UnitsPerPack)
	if err != nil {
		return domain.Product{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Product{}, err
	}
	if affected == 0 {
		return domain.Product{}, store.ErrNotFound
	}
	return product, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CreateSale runs serializable: stock rows are locked and re-checked before
// the sale is inserted, so a concurrent commit cannot drive stock negative.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (domain.Sale, error) {
	if len(sale.Lines) == 0 || sale.Date == "" || sale.Time == "" {
		return domain.Sale{}, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.Sale{}, err
	}
	defer func() { _ = tx.Rollback() }()

	needed := make(map[int64]decimal.Decimal, len(sale.Lines))
	ids := make([]int64, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		if _, seen := needed[line.ProductID]; !seen {
			ids = append(ids, line.ProductID)
			needed[line.ProductID] = decimal.Zero
		}
		needed[line.ProductID] = needed[line.ProductID].Add(line.Quantity)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, stock
		FROM products
		WHERE id = ANY($1)
		FOR UPDATE
	`, ids)
	if err != nil {
		return domain.Sale{}, err
	}
	stocks := make(map[int64]decimal.Decimal, len(ids))
	for rows.Next() {
		var id int64
		var stock decimal.Decimal
		if err := rows.Scan(&id, &stock); err != nil {
			rows.Close()
			return domain.Sale{}, err
		}
		stocks[id] = stock
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return domain.Sale{}, err
	}
	rows.Close()

	for _, id := range ids {
		stock, exists := stocks[id]
		if !exists {
			return domain.Sale{}, store.ErrNotFound
		}
		if stock.LessThan(needed[id]) {
			return domain.Sale{}, store.ErrInsufficientStock
		}
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $2, updated_at = now()
			WHERE id = $1
		`, id, needed[id]); err != nil {
			return domain.Sale{}, err
		}
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO sales (sale_date, sale_time, total, payment_method, cash_amount, transfer_amount, closed)
		VALUES ($1,$2,$3,$4,$5,$6,false)
		RETURNING id
	`, sale.Date, sale.Time, sale.Total, sale.PaymentMethod, sale.CashAmount, sale.TransferAmount).Scan(&sale.ID)
	if err != nil {
		return domain.Sale{}, err
	}

	for i, line := range sale.Lines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, position, product_id, name, description, quantity, price, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, sale.ID, i, line.ProductID, line.Name, line.Description, line.Quantity, line.Price, line.LineTotal); err != nil {
			return domain.Sale{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Sale{}, err
	}
	sale.Closed = false
	return sale, nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (domain.Sale, error) {
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sale_date, sale_time, total, payment_method, cash_amount, transfer_amount, closed
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.Date, &sale.Time, &sale.Total, &sale.PaymentMethod, &sale.CashAmount, &sale.TransferAmount, &sale.Closed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Sale{}, store.ErrNotFound
		}
		return domain.Sale{}, err
	}

	linesBySale, err := loadLines(ctx, s.db, []int64{sale.ID})
	if err != nil {
		return domain.Sale{}, err
	}
	sale.Lines = linesBySale[sale.ID]
	return sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_date, sale_time, total, payment_method, cash_amount, transfer_amount, closed
		FROM sales
		WHERE ($1 = '' OR sale_date = $1)
		  AND ($2 = '' OR payment_method = $2)
		ORDER BY sale_date DESC, sale_time DESC, id DESC
	`, filter.Date, string(filter.PaymentMethod))
	if err != nil {
		return nil, err
	}
	return s.collectSales(ctx, rows)
}

func (s *Store) ListOpenSalesByDate(ctx context.Context, date string) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_date, sale_time, total, payment_method, cash_amount, transfer_amount, closed
		FROM sales
		WHERE sale_date = $1 AND closed = false
		ORDER BY id
	`, date)
	if err != nil {
		return nil, err
	}
	return s.collectSales(ctx, rows)
}

// CloseDay runs the whole closing in one serializable transaction: the
// seal, the line load and the closing upsert commit together or not at
// all, so a sealed batch can never go missing from the record.
func (s *Store) CloseDay(ctx context.Context, date string) ([]domain.Sale, error) {
	if date == "" {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		UPDATE sales
		SET closed = true
		WHERE sale_date = $1 AND closed = false
		RETURNING id, sale_date, sale_time, total, payment_method, cash_amount, transfer_amount, closed
	`, date)
	if err != nil {
		return nil, err
	}
	sales, ids, err := scanSales(rows)
	if err != nil {
		return nil, err
	}
	// UPDATE ... RETURNING carries no order guarantee; the sealed batch is
	// reported in commit order.
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		return cmp.Compare(a.ID, b.ID)
	})

	if len(sales) == 0 {
		return sales, tx.Commit()
	}

	linesBySale, err := loadLines(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Lines = linesBySale[sales[i].ID]
	}

	total, cash, transfer := decimal.Zero, decimal.Zero, decimal.Zero
	for _, sale := range sales {
		total = total.Add(sale.Total)
		cash = cash.Add(sale.CashAmount)
		transfer = transfer.Add(sale.TransferAmount)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO daily_closings (closing_date, sales_count, total, cash_total, transfer_total)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (closing_date)
		DO UPDATE SET
			sales_count = daily_closings.sales_count + EXCLUDED.sales_count,
			total = daily_closings.total + EXCLUDED.total,
			cash_total = daily_closings.cash_total + EXCLUDED.cash_total,
			transfer_total = daily_closings.transfer_total + EXCLUDED.transfer_total,
			updated_at = now()
	`, date, len(sales), total, cash, transfer); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) GetDailyClosing(ctx context.Context, date string) (domain.DailyClosing, error) {
	var closing domain.DailyClosing
	err := s.db.QueryRowContext(ctx, `
		SELECT closing_date, sales_count, total, cash_total, transfer_total
		FROM daily_closings
		WHERE closing_date = $1
	`, date).Scan(&closing.Date, &closing.SalesCount, &closing.Total, &closing.CashTotal, &closing.TransferTotal)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DailyClosing{}, store.ErrNotFound
		}
		return domain.DailyClosing{}, err
	}
	return closing, nil
}

func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		TRUNCATE sale_lines, sales, daily_closings, products RESTART IDENTITY
	`)
	return err
}

func (s *Store) collectSales(ctx context.Context, rows *sql.Rows) ([]domain.Sale, error) {
	sales, ids, err := scanSales(rows)
	if err != nil {
		return nil, err
	}
	linesBySale, err := loadLines(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Lines = linesBySale[sales[i].ID]
	}
	return sales, nil
}

func scanSales(rows *sql.Rows) ([]domain.Sale, []int64, error) {
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	ids := make([]int64, 0, 64)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.Date, &sale.Time, &sale.Total, &sale.PaymentMethod, &sale.CashAmount, &sale.TransferAmount, &sale.Closed); err != nil {
			return nil, nil, err
		}
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return sales, ids, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx, so line loading can
// happen inside or outside a transaction.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadLines(ctx context.Context, q queryer, saleIDs []int64) (map[int64][]domain.SaleLine, error) {
	result := make(map[int64][]domain.SaleLine, len(saleIDs))
	if len(saleIDs) == 0 {
		return result, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT sale_id, product_id, name, description, quantity, price, line_total
		FROM sale_lines
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, position
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var saleID int64
		var line domain.SaleLine
		if err := rows.Scan(&saleID, &line.ProductID, &line.Name, &line.Description, &line.Quantity, &line.Price, &line.LineTotal); err != nil {
			return nil, err
		}
		result[saleID] = append(result[saleID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func validateProduct(product domain.Product) error {
	if product.Name == "" || !product.Price.IsPositive() || product.Stock.IsNegative() || product.UnitsPerPack < 1 {
		return store.ErrValidation
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
