package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"shop-backend/internal/domain"
	"shop-backend/internal/payment"
)

type ProductWriter interface {
	UpsertBySKU(ctx context.Context, product domain.Product) (*domain.Product, error)
}

// CSVImporter reads catalog CSV files and inserts/updates products by SKU.
//
// Expected headers: sku, name, description, price, stock, image_url, active.
// Only sku, name and price are required; price is a decimal in major units.
type CSVImporter struct {
	reader      *csv.Reader
	productRepo ProductWriter
	digits      int32
}

func NewCSVImporter(r io.Reader, repo ProductWriter, currency string) *CSVImporter {
	csvr := csv.NewReader(r)
	csvr.FieldsPerRecord = -1 // rows may have trailing commas
	csvr.TrimLeadingSpace = true
	return &CSVImporter{
		reader:      csvr,
		productRepo: repo,
		digits:      payment.FractionDigits(currency),
	}
}

// Run parses CSV rows and upserts one product per row. Blank rows are skipped.
func (i *CSVImporter) Run(ctx context.Context) (int, error) {
	headers, err := i.reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read headers: %w", err)
	}
	index := headerIndex(headers)
	for _, required := range []string{"sku", "name", "price"} {
		if _, ok := index[required]; !ok {
			return 0, fmt.Errorf("missing required column %q", required)
		}
	}

	imported := 0
	line := 1
	for {
		record, err := i.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return imported, fmt.Errorf("read row %d: %w", line, err)
		}
		if blank(record) {
			continue
		}

		p, err := i.parseRow(record, index)
		if err != nil {
			return imported, fmt.Errorf("row %d: %w", line, err)
		}
		if _, err := i.productRepo.UpsertBySKU(ctx, p); err != nil {
			return imported, fmt.Errorf("upsert product %q: %w", p.SKU, err)
		}
		imported++
	}
	return imported, nil
}

func (i *CSVImporter) parseRow(record []string, index map[string]int) (domain.Product, error) {
	p := domain.Product{
		SKU:         pick(record, index, "sku"),
		Name:        pick(record, index, "name"),
		Description: pick(record, index, "description"),
		ImageURL:    pick(record, index, "image_url"),
		IsActive:    true,
	}
	if p.SKU == "" || p.Name == "" {
		return domain.Product{}, errors.New("sku and name are required")
	}

	price, err := decimal.NewFromString(pick(record, index, "price"))
	if err != nil {
		return domain.Product{}, fmt.Errorf("invalid price for sku %q: %w", p.SKU, err)
	}
	if !price.IsPositive() {
		return domain.Product{}, fmt.Errorf("price must be positive for sku %q", p.SKU)
	}
	p.Price = payment.ToMinor(price, i.digits)

	if s := pick(record, index, "stock"); s != "" {
		stock, err := strconv.Atoi(s)
		if err != nil || stock < 0 {
			return domain.Product{}, fmt.Errorf("invalid stock for sku %q: %s", p.SKU, s)
		}
		p.Stock = stock
	}
	if a := pick(record, index, "active"); a != "" {
		active, err := strconv.ParseBool(a)
		if err != nil {
			return domain.Product{}, fmt.Errorf("invalid active flag for sku %q: %s", p.SKU, a)
		}
		p.IsActive = active
	}
	return p, nil
}

func headerIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func pick(record []string, index map[string]int, key string) string {
	pos, ok := index[key]
	if !ok || pos >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[pos])
}
