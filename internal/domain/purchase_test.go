package domain

import (
	"errors"
	"testing"
	"time"
)

func TestPurchaseStatusCanTransition(t *testing.T) {
	cases := []struct {
		from PurchaseStatus
		to   PurchaseStatus
		want bool
	}{
		{PurchaseStatusPending, PurchaseStatusSuccess, true},
		{PurchaseStatusPending, PurchaseStatusFailed, true},
		{PurchaseStatusPending, PurchaseStatusRedirected, false},
		{PurchaseStatusSuccess, PurchaseStatusRedirected, true},
		{PurchaseStatusSuccess, PurchaseStatusPending, false},
		{PurchaseStatusSuccess, PurchaseStatusFailed, false},
		{PurchaseStatusFailed, PurchaseStatusPending, false},
		{PurchaseStatusFailed, PurchaseStatusSuccess, false},
		{PurchaseStatusRedirected, PurchaseStatusSuccess, false},
		{PurchaseStatusRedirected, PurchaseStatusPending, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestPurchaseRequestTransition(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	req := &PurchaseRequest{ID: "pr_1", Status: PurchaseStatusPending}

	if err := req.Transition(PurchaseStatusSuccess, now); err != nil {
		t.Fatalf("Transition(success): unexpected error %v", err)
	}
	if req.Status != PurchaseStatusSuccess {
		t.Fatalf("status = %s, want %s", req.Status, PurchaseStatusSuccess)
	}
	if !req.UpdatedAt.Equal(now) {
		t.Fatalf("updatedAt = %v, want %v", req.UpdatedAt, now)
	}

	err := req.Transition(PurchaseStatusPending, now)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Transition(pending) error = %v, want ErrInvalidTransition", err)
	}
	if req.Status != PurchaseStatusSuccess {
		t.Fatalf("status changed on rejected transition: %s", req.Status)
	}

	if err := req.Transition(PurchaseStatusRedirected, now.Add(time.Minute)); err != nil {
		t.Fatalf("Transition(redirected): unexpected error %v", err)
	}
}

func TestDimensionsValidate(t *testing.T) {
	valid := Dimensions{WidthCm: 120, DepthCm: 60, HeightCm: 75}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	cases := []struct {
		name string
		dims Dimensions
	}{
		{"zero width", Dimensions{WidthCm: 0, DepthCm: 60, HeightCm: 75}},
		{"negative depth", Dimensions{WidthCm: 120, DepthCm: -5, HeightCm: 75}},
		{"width too small", Dimensions{WidthCm: 10, DepthCm: 60, HeightCm: 75}},
		{"width too large", Dimensions{WidthCm: 350, DepthCm: 60, HeightCm: 75}},
		{"height below range", Dimensions{WidthCm: 120, DepthCm: 60, HeightCm: 20}},
		{"height above range", Dimensions{WidthCm: 120, DepthCm: 60, HeightCm: 150}},
	}
	for _, tc := range cases {
		if err := tc.dims.Validate(); !errors.Is(err, ErrInvalidDimensions) {
			t.Errorf("%s: Validate() = %v, want ErrInvalidDimensions", tc.name, err)
		}
	}
}

func TestDimensionsVolume(t *testing.T) {
	dims := Dimensions{WidthCm: 120, DepthCm: 60, HeightCm: 75}
	if got := dims.VolumeM3(); got != 0.54 {
		t.Fatalf("VolumeM3() = %v, want 0.54", got)
	}
}

func TestParseMaterial(t *testing.T) {
	if m, ok := ParseMaterial("  Wood "); !ok || m != MaterialWood {
		t.Fatalf("ParseMaterial(Wood) = %q, %v", m, ok)
	}
	if _, ok := ParseMaterial("granite"); ok {
		t.Fatal("ParseMaterial(granite) accepted unknown material")
	}
}
