// v0
// internal/telemetry/classify.go
package telemetry

// Classify decides the payload variant from its key set alone. Key sets
// overlap across variants, so the first matching rule wins.
func Classify(p RawPayload) Variant {
	switch {
	case p.Has(KeyTravel) && p.Has(KeyLocation):
		return VariantLTEV2
	case p.Has(KeyTravel):
		return VariantLTE
	case p.Has(KeyIMU) && p.Has(KeyGNSS):
		return VariantBLE
	case p.Has(KeyTime) && p.Has(KeyGNSS):
		return VariantNonesub
	default:
		return VariantUnknown
	}
}

// Origin is the device a payload names in its TITLE, read without expanding
// the payload.
type Origin struct {
	Variant  Variant
	SensorID string
	PhoneNum string
}

// OriginOf classifies p and splits TITLE with the layout of that variant.
// Variant is set even when TITLE is absent or malformed.
func OriginOf(p RawPayload) (Origin, error) {
	o := Origin{Variant: Classify(p)}
	switch o.Variant {
	case VariantBLE:
		title, err := p.title(3)
		if err != nil {
			return o, err
		}
		o.SensorID, o.PhoneNum = title[0], title[1]
	case VariantLTE, VariantLTEV2:
		title, err := p.title(2)
		if err != nil {
			return o, err
		}
		o.SensorID, o.PhoneNum = title[0], title[1]
	case VariantNonesub:
		title, err := p.title(2)
		if err != nil {
			return o, err
		}
		o.PhoneNum = title[0]
	default:
		return o, ErrUnrecognizedVariant
	}
	return o, nil
}
