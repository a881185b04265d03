package analysis

import (
	"fmt"
	"time"
)

// ZoneKind is the structural origin of a zone
type ZoneKind string

const (
	KindGap     ZoneKind = "gap"
	KindImpulse ZoneKind = "impulse"
)

// Bias is the directional role of a zone
type Bias string

const (
	Bullish Bias = "bullish"
	Bearish Bias = "bearish"
)

// Flip returns the opposite bias
func (b Bias) Flip() Bias {
	if b == Bullish {
		return Bearish
	}
	return Bullish
}

// Zone is a detected price area. For a derived zone (inverse gap or
// breaker block) Derived is set, Bias is already flipped and OriginRef
// names the source zone.
type Zone struct {
	Kind        ZoneKind  `json:"kind"`
	Bias        Bias      `json:"bias"`
	Top         float64   `json:"top"`
	Bottom      float64   `json:"bottom"`
	OriginIndex int       `json:"origin_index"`
	OriginTime  time.Time `json:"origin_time"`
	Derived     bool      `json:"derived"`
	OriginRef   string    `json:"origin_zone_ref,omitempty"`
}

// Label is the trading name of the zone: FVG, iFVG, OB or BB
func (z Zone) Label() string {
	switch {
	case z.Kind == KindGap && !z.Derived:
		return "FVG"
	case z.Kind == KindGap:
		return "iFVG"
	case z.Kind == KindImpulse && !z.Derived:
		return "OB"
	default:
		return "BB"
	}
}

// Ref identifies the zone within one detection pass
func (z Zone) Ref() string {
	return fmt.Sprintf("%s@%d", z.Kind, z.OriginIndex)
}

// Contains reports bottom <= price <= top
func (z Zone) Contains(price float64) bool {
	return price >= z.Bottom && price <= z.Top
}

func (z Zone) derive() Zone {
	d := z
	d.Bias = z.Bias.Flip()
	d.Derived = true
	d.OriginRef = z.Ref()
	return d
}
