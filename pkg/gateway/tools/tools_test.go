package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voicegw/voicebridge/pkg/core/realtime"
	"github.com/voicegw/voicebridge/pkg/gateway/store"
)

type fakeBackend struct {
	dealer  *store.Dealer
	product *store.Product
	slots   []store.Slot
	booked  *store.Appointment
	err     error

	bookedDealer string
	bookedAt     time.Time
	slotsDay     time.Time
}

func (f *fakeBackend) DealerByName(_ context.Context, _ string) (*store.Dealer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.dealer, nil
}

func (f *fakeBackend) ProductByName(_ context.Context, _ string) (*store.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.product, nil
}

func (f *fakeBackend) OpenSlots(_ context.Context, _ string, day time.Time, _ int) ([]store.Slot, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.slotsDay = day
	return f.slots, nil
}

func (f *fakeBackend) BookAppointment(_ context.Context, dealer string, at time.Time, name, phone string) (*store.Appointment, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bookedDealer = dealer
	f.bookedAt = at
	return f.booked, nil
}

func TestRegister_InstallsCatalogOnce(t *testing.T) {
	client := realtime.NewClient("sk-test")
	cat := Catalog{Backend: &fakeBackend{}}

	if err := cat.Register(client); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := cat.Register(client); err == nil {
		t.Fatal("second register should collide with existing tools")
	}
}

func TestRegister_NilBackend(t *testing.T) {
	if err := (Catalog{}).Register(realtime.NewClient("sk-test")); err == nil {
		t.Fatal("expected error")
	}
}

func TestDealerInfo(t *testing.T) {
	cat := Catalog{Backend: &fakeBackend{dealer: &store.Dealer{
		Name: "Northside Auto Center", Address: "1200 Elm Street", Phone: "+1 555", Hours: "Mon-Sat",
	}}}

	out, err := cat.dealerInfo(context.Background(), map[string]any{"dealer_name": "north"})
	if err != nil {
		t.Fatalf("dealerInfo: %v", err)
	}
	payload := out.(map[string]any)
	if payload["found"] != true || payload["name"] != "Northside Auto Center" {
		t.Fatalf("payload=%v", payload)
	}
}

func TestDealerInfo_NotFoundIsAnswerNotError(t *testing.T) {
	cat := Catalog{Backend: &fakeBackend{err: store.ErrNotFound}}

	out, err := cat.dealerInfo(context.Background(), map[string]any{"dealer_name": "ghost"})
	if err != nil {
		t.Fatalf("dealerInfo: %v", err)
	}
	if out.(map[string]any)["found"] != false {
		t.Fatalf("payload=%v", out)
	}
}

func TestDealerInfo_MissingArg(t *testing.T) {
	cat := Catalog{Backend: &fakeBackend{}}
	if _, err := cat.dealerInfo(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error for missing dealer_name")
	}
}

func TestProductInfo_StockFlag(t *testing.T) {
	cat := Catalog{Backend: &fakeBackend{product: &store.Product{
		Name: "Brake service", Price: 310, Stock: 0,
	}}}

	out, err := cat.productInfo(context.Background(), map[string]any{"product_name": "brake"})
	if err != nil {
		t.Fatalf("productInfo: %v", err)
	}
	payload := out.(map[string]any)
	if payload["in_stock"] != false {
		t.Fatalf("payload=%v", payload)
	}
}

func TestCheckAvailability_FormatsSlots(t *testing.T) {
	at := time.Date(2026, 9, 1, 10, 30, 0, 0, time.UTC)
	cat := Catalog{Backend: &fakeBackend{slots: []store.Slot{{Dealer: "Northside", StartsAt: at}}}}

	out, err := cat.checkAvailability(context.Background(), map[string]any{
		"dealer_name": "north",
		"max_results": float64(3),
	})
	if err != nil {
		t.Fatalf("checkAvailability: %v", err)
	}
	slots := out.(map[string]any)["slots"].([]string)
	if len(slots) != 1 || slots[0] != "2026-09-01T10:30:00Z" {
		t.Fatalf("slots=%v", slots)
	}
}

func TestCheckAvailability_DateFilter(t *testing.T) {
	backend := &fakeBackend{}
	cat := Catalog{Backend: backend}

	if _, err := cat.checkAvailability(context.Background(), map[string]any{
		"dealer_name": "north",
		"date":        "2026-09-01",
	}); err != nil {
		t.Fatalf("checkAvailability: %v", err)
	}
	want := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	if !backend.slotsDay.Equal(want) {
		t.Fatalf("day=%v, want %v", backend.slotsDay, want)
	}

	if _, err := cat.checkAvailability(context.Background(), map[string]any{
		"dealer_name": "north",
		"date":        "next tuesday",
	}); err == nil {
		t.Fatal("expected parse error for bad date")
	}
}

func TestBookAppointment(t *testing.T) {
	at := time.Date(2026, 9, 1, 10, 30, 0, 0, time.UTC)
	backend := &fakeBackend{booked: &store.Appointment{
		ID: "a0b1", Dealer: "Northside", StartsAt: at, CustomerName: "Sam",
	}}
	cat := Catalog{Backend: backend}

	out, err := cat.bookAppointment(context.Background(), map[string]any{
		"dealer_name":   "north",
		"slot_time":     "2026-09-01T10:30:00Z",
		"customer_name": "Sam",
	})
	if err != nil {
		t.Fatalf("bookAppointment: %v", err)
	}
	payload := out.(map[string]any)
	if payload["booked"] != true || payload["confirmation"] != "a0b1" {
		t.Fatalf("payload=%v", payload)
	}
	if !backend.bookedAt.Equal(at) {
		t.Fatalf("booked at %v", backend.bookedAt)
	}
}

func TestBookAppointment_SlotTaken(t *testing.T) {
	cat := Catalog{Backend: &fakeBackend{err: store.ErrSlotTaken}}

	out, err := cat.bookAppointment(context.Background(), map[string]any{
		"dealer_name":   "north",
		"slot_time":     "2026-09-01T10:30:00Z",
		"customer_name": "Sam",
	})
	if err != nil {
		t.Fatalf("bookAppointment: %v", err)
	}
	payload := out.(map[string]any)
	if payload["booked"] != false || payload["reason"] != "slot is no longer available" {
		t.Fatalf("payload=%v", payload)
	}
}

func TestBookAppointment_BadTime(t *testing.T) {
	cat := Catalog{Backend: &fakeBackend{}}
	_, err := cat.bookAppointment(context.Background(), map[string]any{
		"dealer_name":   "north",
		"slot_time":     "tomorrow at ten",
		"customer_name": "Sam",
	})
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestBackendFailureSurfacesAsError(t *testing.T) {
	cat := Catalog{Backend: &fakeBackend{err: errors.New("pool exhausted")}}
	if _, err := cat.checkAvailability(context.Background(), map[string]any{"dealer_name": "north"}); err == nil {
		t.Fatal("expected backend error to surface")
	}
}
