// Package tools defines the voice-agent tool catalog: dealer lookup,
// product lookup, and appointment booking against the store.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/voicegw/voicebridge/pkg/core/realtime"
	"github.com/voicegw/voicebridge/pkg/gateway/store"
)

// Backend is the store surface the catalog needs.
type Backend interface {
	DealerByName(ctx context.Context, name string) (*store.Dealer, error)
	ProductByName(ctx context.Context, name string) (*store.Product, error)
	OpenSlots(ctx context.Context, dealerName string, day time.Time, limit int) ([]store.Slot, error)
	BookAppointment(ctx context.Context, dealerName string, startsAt time.Time, customerName, customerPhone string) (*store.Appointment, error)
}

type Catalog struct {
	Backend Backend
	Logger  *slog.Logger
}

// Register installs every tool on the client. Call it before the session
// connects so the first session update already announces the catalog.
func (c Catalog) Register(client *realtime.Client) error {
	if c.Backend == nil {
		return fmt.Errorf("tools: nil backend")
	}

	defs := []struct {
		def     realtime.ToolDefinition
		handler realtime.ToolHandler
	}{
		{
			def: realtime.ToolDefinition{
				Name:        "get_dealer_info",
				Description: "Look up a dealership's address, phone number, and opening hours by name.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"dealer_name": map[string]any{
							"type":        "string",
							"description": "Name of the dealership, partial names are fine.",
						},
					},
					"required": []string{"dealer_name"},
				},
			},
			handler: c.dealerInfo,
		},
		{
			def: realtime.ToolDefinition{
				Name:        "get_product_info",
				Description: "Look up price, description, and stock for a product or service.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"product_name": map[string]any{
							"type":        "string",
							"description": "Name of the product or service, partial names are fine.",
						},
					},
					"required": []string{"product_name"},
				},
			},
			handler: c.productInfo,
		},
		{
			def: realtime.ToolDefinition{
				Name:        "check_availability",
				Description: "List upcoming open appointment slots at a dealership.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"dealer_name": map[string]any{
							"type":        "string",
							"description": "Name of the dealership.",
						},
						"date": map[string]any{
							"type":        "string",
							"description": "Restrict to one day, formatted YYYY-MM-DD. Omit for the next open slots.",
						},
						"max_results": map[string]any{
							"type":        "integer",
							"description": "How many slots to return, default 5.",
						},
					},
					"required": []string{"dealer_name"},
				},
			},
			handler: c.checkAvailability,
		},
		{
			def: realtime.ToolDefinition{
				Name:        "book_appointment",
				Description: "Book an open appointment slot at a dealership for the caller.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"dealer_name": map[string]any{
							"type":        "string",
							"description": "Name of the dealership.",
						},
						"slot_time": map[string]any{
							"type":        "string",
							"description": "Slot start time in RFC 3339, as returned by check_availability.",
						},
						"customer_name": map[string]any{
							"type":        "string",
							"description": "Name to book under.",
						},
						"customer_phone": map[string]any{
							"type":        "string",
							"description": "Callback phone number.",
						},
					},
					"required": []string{"dealer_name", "slot_time", "customer_name"},
				},
			},
			handler: c.bookAppointment,
		},
	}

	for _, d := range defs {
		if err := client.AddTool(d.def, d.handler); err != nil {
			return fmt.Errorf("tools: register %s: %w", d.def.Name, err)
		}
	}
	return nil
}

func (c Catalog) dealerInfo(ctx context.Context, args map[string]any) (any, error) {
	name, err := stringArg(args, "dealer_name")
	if err != nil {
		return nil, err
	}
	dealer, err := c.Backend.DealerByName(ctx, name)
	if err == store.ErrNotFound {
		return map[string]any{"found": false}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"found":   true,
		"name":    dealer.Name,
		"address": dealer.Address,
		"phone":   dealer.Phone,
		"hours":   dealer.Hours,
	}, nil
}

func (c Catalog) productInfo(ctx context.Context, args map[string]any) (any, error) {
	name, err := stringArg(args, "product_name")
	if err != nil {
		return nil, err
	}
	product, err := c.Backend.ProductByName(ctx, name)
	if err == store.ErrNotFound {
		return map[string]any{"found": false}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"found":       true,
		"name":        product.Name,
		"description": product.Description,
		"price":       product.Price,
		"in_stock":    product.Stock > 0,
	}, nil
}

func (c Catalog) checkAvailability(ctx context.Context, args map[string]any) (any, error) {
	name, err := stringArg(args, "dealer_name")
	if err != nil {
		return nil, err
	}
	limit := 5
	if raw, ok := args["max_results"].(float64); ok && raw > 0 {
		limit = int(raw)
	}
	var day time.Time
	if raw, ok := args["date"].(string); ok && strings.TrimSpace(raw) != "" {
		day, err = time.Parse("2006-01-02", strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
		}
	}
	slots, err := c.Backend.OpenSlots(ctx, name, day, limit)
	if err != nil {
		return nil, err
	}
	times := make([]string, 0, len(slots))
	for _, slot := range slots {
		times = append(times, slot.StartsAt.Format(time.RFC3339))
	}
	return map[string]any{"slots": times}, nil
}

func (c Catalog) bookAppointment(ctx context.Context, args map[string]any) (any, error) {
	dealer, err := stringArg(args, "dealer_name")
	if err != nil {
		return nil, err
	}
	rawTime, err := stringArg(args, "slot_time")
	if err != nil {
		return nil, err
	}
	customer, err := stringArg(args, "customer_name")
	if err != nil {
		return nil, err
	}
	phone, _ := args["customer_phone"].(string)

	startsAt, err := time.Parse(time.RFC3339, rawTime)
	if err != nil {
		return nil, fmt.Errorf("slot_time must be RFC 3339: %w", err)
	}

	appt, err := c.Backend.BookAppointment(ctx, dealer, startsAt, customer, strings.TrimSpace(phone))
	switch {
	case err == store.ErrNotFound:
		return map[string]any{"booked": false, "reason": "unknown dealer"}, nil
	case err == store.ErrSlotTaken:
		return map[string]any{"booked": false, "reason": "slot is no longer available"}, nil
	case err != nil:
		return nil, err
	}

	if c.Logger != nil {
		c.Logger.Info("tool booked appointment", "id", appt.ID, "dealer", appt.Dealer)
	}
	return map[string]any{
		"booked":         true,
		"confirmation":   appt.ID,
		"dealer":         appt.Dealer,
		"slot_time":      appt.StartsAt.Format(time.RFC3339),
		"customer_name":  appt.CustomerName,
		"customer_phone": appt.CustomerPhone,
	}, nil
}

func stringArg(args map[string]any, key string) (string, error) {
	raw, ok := args[key].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return strings.TrimSpace(raw), nil
}
