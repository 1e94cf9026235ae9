package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Material identifies a desk surface material known to the pricing engine.
type Material string

const (
	MaterialWood   Material = "wood"
	MaterialMDF    Material = "mdf"
	MaterialSteel  Material = "steel"
	MaterialMetal  Material = "metal"
	MaterialGlass  Material = "glass"
	MaterialFabric Material = "fabric"
)

// Materials lists every material accepted by the API, in catalog order.
func Materials() []Material {
	return []Material{MaterialWood, MaterialMDF, MaterialSteel, MaterialMetal, MaterialGlass, MaterialFabric}
}

// ParseMaterial normalises the raw value and reports whether it names a known material.
func ParseMaterial(raw string) (Material, bool) {
	m := Material(strings.ToLower(strings.TrimSpace(raw)))
	switch m {
	case MaterialWood, MaterialMDF, MaterialSteel, MaterialMetal, MaterialGlass, MaterialFabric:
		return m, true
	}
	return "", false
}

// Manufacturing bounds for custom desks, in centimetres.
const (
	MinWidthCm  = 30.0
	MaxWidthCm  = 300.0
	MinDepthCm  = 30.0
	MaxDepthCm  = 300.0
	MinHeightCm = 50.0
	MaxHeightCm = 120.0
)

// ErrInvalidDimensions indicates the requested desk dimensions cannot be manufactured.
var ErrInvalidDimensions = errors.New("domain: invalid dimensions")

// Dimensions captures the requested desk size in centimetres.
type Dimensions struct {
	WidthCm  float64
	DepthCm  float64
	HeightCm float64
}

// Validate checks the dimensions against the manufacturing bounds.
func (d Dimensions) Validate() error {
	check := func(name string, value, min, max float64) error {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return fmt.Errorf("%w: %s is not a number", ErrInvalidDimensions, name)
		}
		if value <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidDimensions, name)
		}
		if value < min || value > max {
			return fmt.Errorf("%w: %s must be between %.0f and %.0f cm", ErrInvalidDimensions, name, min, max)
		}
		return nil
	}
	if err := check("width", d.WidthCm, MinWidthCm, MaxWidthCm); err != nil {
		return err
	}
	if err := check("depth", d.DepthCm, MinDepthCm, MaxDepthCm); err != nil {
		return err
	}
	return check("height", d.HeightCm, MinHeightCm, MaxHeightCm)
}

// VolumeM3 converts the dimensions to cubic metres.
func (d Dimensions) VolumeM3() float64 {
	return (d.WidthCm / 100) * (d.DepthCm / 100) * (d.HeightCm / 100)
}

// MaterialPolicy holds the live pricing parameters for one material.
type MaterialPolicy struct {
	Material  Material
	BasePrice int64
	Modifier  float64
	Active    bool
	Version   string
	UpdatedAt time.Time
}

// PricingMode distinguishes client-facing estimates from the authoritative recompute.
type PricingMode string

const (
	// PricingModeEstimate uses the static defaults table and never performs I/O.
	PricingModeEstimate PricingMode = "estimate"
	// PricingModeAuthoritative uses live material policies and backs order totals.
	PricingModeAuthoritative PricingMode = "authoritative"
)

// PriceBreakdown is the full deterministic pricing result. All amounts are KRW integers.
type PriceBreakdown struct {
	Material      Material
	Dimensions    Dimensions
	VolumeM3      float64
	MaterialCost  int64
	BaseFee       int64
	ShippingFee   int64
	Subtotal      int64
	Tax           int64
	Total         int64
	Mode          PricingMode
	PolicyVersion string
}
