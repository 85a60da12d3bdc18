package product

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVariants(t *testing.T) {
	raw := []byte(`[
		{"name":"Classic","color":"red","sizes":[
			{"size":"M","mrp":"120","price":100},
			{"size":"L","mrp":130,"price":"110.50"}
		]},
		{"name":"Mini","mrp":60,"price":55,"legacy":{"x":1}}
	]`)

	vs, err := ParseVariants(raw)
	require.NoError(t, err)
	require.Len(t, vs, 2)

	assert.Equal(t, "Classic", vs[0].Name)
	assert.Equal(t, "red", vs[0].Color)
	require.Len(t, vs[0].Sizes, 2)
	assert.True(t, decimal.RequireFromString("110.50").Equal(vs[0].Sizes[1].Price))

	// Flat variant shape is normalized to a single unnamed size.
	require.Len(t, vs[1].Sizes, 1)
	assert.Equal(t, "", vs[1].Sizes[0].Size)
	assert.True(t, decimal.NewFromInt(55).Equal(vs[1].Sizes[0].Price))
}

func TestParseVariants_Empty(t *testing.T) {
	for _, raw := range [][]byte{nil, []byte(`null`), []byte(`[]`)} {
		vs, err := ParseVariants(raw)
		require.NoError(t, err)
		assert.Empty(t, vs)
	}
}

func TestParseVariants_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "no sizes", raw: `[{"name":"A"}]`},
		{name: "negative price", raw: `[{"name":"A","sizes":[{"price":-1}]}]`},
		{name: "duplicate size", raw: `[{"name":"A","sizes":[{"size":"M","price":1},{"size":"m","price":2}]}]`},
		{name: "empty name", raw: `[{"name":" ","price":1}]`},
		{name: "bool price", raw: `[{"name":"A","price":true}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseVariants([]byte(tt.raw))
			require.ErrorIs(t, err, ErrInvalidVariant)
		})
	}
}

func TestEncodeVariants_RoundTrip(t *testing.T) {
	in := []Variant{{
		Name:  "Classic",
		Color: "blue",
		Sizes: []SizeOption{{Size: "S", MRP: decimal.NewFromInt(10), Price: decimal.RequireFromString("8.5")}},
	}}

	out, err := ParseVariants(EncodeVariants(in))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "blue", out[0].Color)
	assert.True(t, decimal.RequireFromString("8.5").Equal(out[0].Sizes[0].Price))
}

func TestPriceFor(t *testing.T) {
	p := &Product{
		ID:    "p1",
		Price: decimal.NewFromInt(100),
		Variants: []Variant{
			{Name: "Classic", Sizes: []SizeOption{
				{Size: "M", Price: decimal.NewFromInt(90)},
				{Size: "L", Price: decimal.NewFromInt(95)},
			}},
			{Name: "Mini", Sizes: []SizeOption{{Price: decimal.NewFromInt(40)}}},
		},
	}

	tests := []struct {
		name    string
		variant string
		size    string
		want    int64
		wantErr bool
	}{
		{name: "base price", want: 100},
		{name: "variant and size", variant: "classic", size: "l", want: 95},
		{name: "single size variant", variant: "Mini", want: 40},
		{name: "size required for multi-size variant", variant: "Classic", wantErr: true},
		{name: "unknown variant", variant: "Max", size: "M", wantErr: true},
		{name: "unknown size", variant: "Classic", size: "XL", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.PriceFor(tt.variant, tt.size)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrVariantNotFound)
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.NewFromInt(tt.want).Equal(got), "got %s", got)
		})
	}
}
