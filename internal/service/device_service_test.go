package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/repository/memory"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

func newDeviceService(clk *clock) (*DeviceService, *memory.Store) {
	store := memory.New()
	svc := NewDeviceService(store, "pepper", time.Hour, zerolog.Nop())
	svc.now = clk.Now
	return svc, store
}

func TestResolveReusesDevice(t *testing.T) {
	clk := &clock{t: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
	svc, _ := newDeviceService(clk)
	ctx := context.Background()

	sig := model.DeviceSignal{UserAgent: chromeUA, AcceptLanguage: "id-ID", IPAddress: "10.0.0.1"}
	first, err := svc.Resolve(ctx, 7, sig)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first.Browser != "Chrome" || first.OS != "Windows" || first.DeviceType != "desktop" {
		t.Fatalf("Unexpected labels: %+v", first)
	}

	clk.Advance(10 * time.Minute)
	sig.IPAddress = "10.0.0.2"
	second, err := svc.Resolve(ctx, 7, sig)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("Same fingerprint must map to the same device")
	}
	if second.IPAddress != "10.0.0.2" || !second.LastActivity.Equal(clk.Now()) {
		t.Fatalf("Device not refreshed: %+v", second)
	}

	other, err := svc.Resolve(ctx, 8, sig)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if other.ID == first.ID {
		t.Fatalf("Devices are per user")
	}

	sig.AcceptLanguage = "en-US"
	changed, _ := svc.Resolve(ctx, 7, sig)
	if changed.ID == first.ID {
		t.Fatalf("A different fingerprint must create a new device")
	}
}

func TestDeactivateIdleDevices(t *testing.T) {
	clk := &clock{t: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
	svc, store := newDeviceService(clk)
	ctx := context.Background()

	d, err := svc.Resolve(ctx, 7, model.DeviceSignal{UserAgent: chromeUA})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	clk.Advance(2 * time.Hour)
	n, err := svc.DeactivateIdle(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 deactivated device, got %d (%v)", n, err)
	}
	got, _ := store.DeviceSessions().GetByUserAndHash(ctx, 7, d.DeviceHash)
	if got.IsActive {
		t.Fatalf("Device should be inactive")
	}

	again, _ := svc.Resolve(ctx, 7, model.DeviceSignal{UserAgent: chromeUA})
	if again.ID != d.ID || !again.IsActive {
		t.Fatalf("Returning device should be reactivated in place: %+v", again)
	}
}
