package product

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

var (
	// ErrVariantNotFound is returned when a cart line selects a variant or
	// size the product does not offer.
	ErrVariantNotFound = errors.New("variant not found")
	// ErrInvalidVariant is returned when stored variant data cannot be
	// normalized into a priced Variant.
	ErrInvalidVariant = errors.New("invalid variant")
)

// Variant is a named colour/size family of a product.
type Variant struct {
	Name  string
	Color string
	Sizes []SizeOption
}

// SizeOption prices a single size of a variant. Size may be empty for
// variants sold in one size only.
type SizeOption struct {
	Size  string
	MRP   decimal.Decimal
	Price decimal.Decimal
}

// Validate checks that the variant can be priced.
func (v Variant) Validate() error {
	if strings.TrimSpace(v.Name) == "" {
		return errors.Wrap(ErrInvalidVariant, "empty name")
	}
	if len(v.Sizes) == 0 {
		return errors.Wrapf(ErrInvalidVariant, "%s: no sizes", v.Name)
	}
	seen := make(map[string]struct{}, len(v.Sizes))
	for _, s := range v.Sizes {
		if s.Price.IsNegative() || s.MRP.IsNegative() {
			return errors.Wrapf(ErrInvalidVariant, "%s: negative price", v.Name)
		}
		key := strings.ToLower(s.Size)
		if _, dup := seen[key]; dup {
			return errors.Wrapf(ErrInvalidVariant, "%s: duplicate size %q", v.Name, s.Size)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// PriceFor returns the unit price for the selected variant and size. With no
// selection the product's base price is used. A variant with a single size
// may be selected without naming the size.
func (p *Product) PriceFor(variant, size string) (decimal.Decimal, error) {
	if variant == "" && size == "" {
		return p.Price, nil
	}
	for _, v := range p.Variants {
		if !strings.EqualFold(v.Name, variant) {
			continue
		}
		if size == "" && len(v.Sizes) == 1 {
			return v.Sizes[0].Price, nil
		}
		for _, s := range v.Sizes {
			if strings.EqualFold(s.Size, size) {
				return s.Price, nil
			}
		}
		break
	}
	return decimal.Zero, errors.Wrapf(ErrVariantNotFound, "product %s: variant %q size %q", p.ID, variant, size)
}

// ParseVariants normalizes catalog variant JSON into validated variants.
// Prices may be encoded either as JSON numbers or numeric strings, and a
// variant without a "sizes" array is treated as a single unnamed size
// carrying the variant-level "mrp"/"price".
func ParseVariants(raw []byte) ([]Variant, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	d := jx.DecodeBytes(raw)
	if d.Next() == jx.Null {
		return nil, nil
	}

	var out []Variant
	if err := d.Arr(func(d *jx.Decoder) error {
		v, err := decodeVariant(d)
		if err != nil {
			return err
		}
		if err := v.Validate(); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "parse variants")
	}
	return out, nil
}

func decodeVariant(d *jx.Decoder) (Variant, error) {
	var (
		v        Variant
		flat     SizeOption
		hasFlat  bool
		hasSizes bool
	)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name":
			v.Name, err = d.Str()
		case "color":
			v.Color, err = decodeOptionalStr(d)
		case "mrp":
			flat.MRP, err = DecodeMoney(d)
			hasFlat = true
		case "price":
			flat.Price, err = DecodeMoney(d)
			hasFlat = true
		case "sizes":
			hasSizes = true
			err = d.Arr(func(d *jx.Decoder) error {
				s, err := decodeSize(d)
				if err != nil {
					return err
				}
				v.Sizes = append(v.Sizes, s)
				return nil
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return Variant{}, err
	}
	if !hasSizes && hasFlat {
		v.Sizes = []SizeOption{flat}
	}
	return v, nil
}

func decodeSize(d *jx.Decoder) (SizeOption, error) {
	var s SizeOption
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "size":
			s.Size, err = decodeOptionalStr(d)
		case "mrp":
			s.MRP, err = DecodeMoney(d)
		case "price":
			s.Price, err = DecodeMoney(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return s, err
}

func decodeOptionalStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

// DecodeMoney reads an amount encoded as a JSON number or numeric string.
func DecodeMoney(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(strings.TrimSpace(s))
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	case jx.Null:
		return decimal.Zero, d.Null()
	default:
		return decimal.Zero, errors.Wrapf(ErrInvalidVariant, "unexpected %v for price", d.Next())
	}
}

// EncodeVariants writes variants in the canonical catalog JSON shape.
func EncodeVariants(vs []Variant) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, v := range vs {
		e.ObjStart()
		e.FieldStart("name")
		e.Str(v.Name)
		if v.Color != "" {
			e.FieldStart("color")
			e.Str(v.Color)
		}
		e.FieldStart("sizes")
		e.ArrStart()
		for _, s := range v.Sizes {
			e.ObjStart()
			if s.Size != "" {
				e.FieldStart("size")
				e.Str(s.Size)
			}
			e.FieldStart("mrp")
			e.Num(jx.Num(s.MRP.String()))
			e.FieldStart("price")
			e.Num(jx.Num(s.Price.String()))
			e.ObjEnd()
		}
		e.ArrEnd()
		e.ObjEnd()
	}
	e.ArrEnd()
	return e.Bytes()
}
