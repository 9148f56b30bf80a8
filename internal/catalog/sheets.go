package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	productsRange = "Products!A2:F"
	ordersRange   = "Orders!A:F"
)

// TokenProvider supplies credentials for the Sheets API.
// *broker.TokenBroker implements it.
type TokenProvider interface {
	TokenSource(ctx context.Context) oauth2.TokenSource
	Invalidate()
}

// SheetStore is a spreadsheet-backed product and order store.
type SheetStore struct {
	svc           *sheets.Service
	spreadsheetID string
	tokens        TokenProvider
}

// NewSheetStore creates a store for the given spreadsheet. Requests are
// authorized with tokens from the provider; extra client options are applied
// after it, so a test HTTP client replaces the authorized one.
func NewSheetStore(ctx context.Context, spreadsheetID string, tokens TokenProvider, opts ...option.ClientOption) (*SheetStore, error) {
	if spreadsheetID == "" {
		return nil, errors.New("spreadsheet id is empty")
	}

	// oauth2.Transport asks the source on every request, so the broker cache
	// stays authoritative and Invalidate takes effect immediately.
	client := &http.Client{Transport: &oauth2.Transport{Source: tokens.TokenSource(ctx)}}
	clientOpts := append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	svc, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "create sheets service")
	}

	return &SheetStore{svc: svc, spreadsheetID: spreadsheetID, tokens: tokens}, nil
}

// ListProducts reads every product row. Rows without an id are skipped.
func (s *SheetStore) ListProducts(ctx context.Context) ([]Product, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, productsRange).
		ValueRenderOption("UNFORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, s.wrapAPIError(err, "read products")
	}

	products := make([]Product, 0, len(resp.Values))
	for _, row := range resp.Values {
		p, ok := parseProductRow(row)
		if !ok {
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

// AppendOrder appends the order as a single row to the Orders sheet.
func (s *SheetStore) AppendOrder(ctx context.Context, order Order) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return errors.Wrap(err, "marshal order items")
	}

	row := []interface{}{
		order.ID,
		order.CreatedAt.UTC().Format(time.RFC3339),
		order.CustomerName,
		order.CustomerEmail,
		string(items),
		order.Note,
	}

	_, err = s.svc.Spreadsheets.Values.Append(s.spreadsheetID, ordersRange, &sheets.ValueRange{
		Values: [][]interface{}{row},
	}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return s.wrapAPIError(err, "append order")
	}
	log.Printf("[catalog] Order %s appended (%d items)", order.ID, len(order.Items))
	return nil
}

// wrapAPIError drops the cached access token when Google rejects it, so the
// next request exchanges a fresh one.
func (s *SheetStore) wrapAPIError(err error, op string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		log.Printf("[catalog] %s: access token rejected, invalidating", op)
		s.tokens.Invalidate()
	}
	return errors.Wrap(err, op)
}

func parseProductRow(row []interface{}) (Product, bool) {
	id := cellString(row, 0)
	if id == "" {
		return Product{}, false
	}
	return Product{
		ID:          id,
		Name:        cellString(row, 1),
		Description: cellString(row, 2),
		Price:       cellString(row, 3),
		ImageURL:    cellString(row, 4),
		Stock:       cellInt(row, 5),
	}, true
}

func cellString(row []interface{}, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	switch v := row[i].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

func cellInt(row []interface{}, i int) int {
	if i >= len(row) {
		return 0
	}
	switch v := row[i].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0
		}
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
