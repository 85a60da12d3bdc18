package pricing

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bazaar/internal/domain/coupon"
)

var flat = decimal.NewFromInt(50)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "%s: want %s, got %s", msg, want, got)
}

// twoStoreCart is product A (100, 18% GST, store S1) and product B
// (200, 0% GST, store S2), one of each.
func twoStoreCart() []Line {
	return []Line{
		{ProductID: "A", StoreID: "S1", UnitPrice: dec("100"), GST: dec("18"), Quantity: 1},
		{ProductID: "B", StoreID: "S2", UnitPrice: dec("200"), GST: dec("0"), Quantity: 1},
	}
}

func sumTotals(q Quote) decimal.Decimal {
	sum := decimal.Zero
	for _, s := range q.Stores {
		sum = sum.Add(s.Total)
	}
	return sum
}

func TestCalculate_TwoStoresNoCoupon(t *testing.T) {
	q := Calculate(twoStoreCart(), nil, false, flat)

	assertDec(t, "300", q.Subtotal, "subtotal")
	assertDec(t, "18", q.GSTAmount, "gst")
	assertDec(t, "50", q.Shipping, "shipping")
	assertDec(t, "0", q.Discount, "discount")
	assertDec(t, "368", q.Total, "total")

	require.Len(t, q.Stores, 2)
	assert.Equal(t, "S1", q.Stores[0].StoreID)
	assertDec(t, "168", q.Stores[0].Total, "S1 total")
	assert.Equal(t, "S2", q.Stores[1].StoreID)
	assertDec(t, "200", q.Stores[1].Total, "S2 total")
	assertDec(t, "368", sumTotals(q), "sum of store totals")
}

func TestCalculate_TwoStoresWithCoupon(t *testing.T) {
	c := &coupon.Coupon{Code: "TEN", Discount: dec("10")}
	q := Calculate(twoStoreCart(), c, false, flat)

	assertDec(t, "30", q.Discount, "discount")
	assertDec(t, "338", q.Total, "total")
	assertDec(t, "10", q.Stores[0].Discount, "S1 discount")
	assertDec(t, "158", q.Stores[0].Total, "S1 total")
	assertDec(t, "20", q.Stores[1].Discount, "S2 discount")
	assertDec(t, "180", q.Stores[1].Total, "S2 total")
	assertDec(t, "338", sumTotals(q), "sum of store totals")
}

func TestCalculate_MemberShipsFree(t *testing.T) {
	q := Calculate(twoStoreCart(), nil, true, flat)

	assertDec(t, "0", q.Shipping, "shipping")
	assertDec(t, "318", q.Total, "total")
	for _, s := range q.Stores {
		assertDec(t, "0", s.Shipping, "store shipping")
	}
}

func TestCalculate_ShippingChargedExactlyOnce(t *testing.T) {
	for k := 1; k <= 6; k++ {
		t.Run(fmt.Sprintf("%d stores", k), func(t *testing.T) {
			lines := make([]Line, 0, 2*k)
			for i := range k {
				store := fmt.Sprintf("S%d", i)
				lines = append(lines,
					Line{ProductID: store + "-a", StoreID: store, UnitPrice: dec("12.34"), GST: dec("5"), Quantity: 2},
					Line{ProductID: store + "-b", StoreID: store, UnitPrice: dec("0.99"), GST: dec("12"), Quantity: 3},
				)
			}

			q := Calculate(lines, nil, false, flat)
			require.Len(t, q.Stores, k)

			shipping := decimal.Zero
			for _, s := range q.Stores {
				shipping = shipping.Add(s.Shipping)
			}
			assertDec(t, "50", shipping, "sum of store shipping")
		})
	}
}

func TestCalculate_DiscountExcludesGSTAndShipping(t *testing.T) {
	lines := []Line{
		{ProductID: "A", StoreID: "S1", UnitPrice: dec("250"), GST: dec("28"), Quantity: 2},
	}
	for _, pct := range []string{"5", "12.5", "50", "100"} {
		c := &coupon.Coupon{Code: "C", Discount: dec(pct)}
		q := Calculate(lines, c, false, flat)

		want := q.Subtotal.Mul(dec(pct)).Div(dec("100"))
		assert.True(t, want.Equal(q.Discount), "pct %s: want %s got %s", pct, want, q.Discount)
		assert.True(t, q.GSTAmount.IsPositive())
	}
}

func TestCalculate_StoreSumsAreExact(t *testing.T) {
	lines := []Line{
		{ProductID: "1", StoreID: "S1", UnitPrice: dec("19.99"), GST: dec("18"), Quantity: 3},
		{ProductID: "2", StoreID: "S2", UnitPrice: dec("7.07"), GST: dec("5"), Quantity: 7},
		{ProductID: "3", StoreID: "S1", UnitPrice: dec("0.33"), GST: dec("12"), Quantity: 11},
		{ProductID: "4", StoreID: "S3", UnitPrice: dec("123.45"), GST: dec("28"), Quantity: 1},
	}
	q := Calculate(lines, &coupon.Coupon{Code: "C", Discount: dec("7")}, false, flat)

	subtotal, gst := decimal.Zero, decimal.Zero
	for _, s := range q.Stores {
		subtotal = subtotal.Add(s.Subtotal)
		gst = gst.Add(s.GSTAmount)
	}
	assert.True(t, q.Subtotal.Equal(subtotal), "subtotal drift: %s vs %s", q.Subtotal, subtotal)
	assert.True(t, q.GSTAmount.Equal(gst), "gst drift: %s vs %s", q.GSTAmount, gst)

	// First-seen order, S1 lines merged.
	require.Len(t, q.Stores, 3)
	assert.Equal(t, []string{"S1", "S2", "S3"}, []string{q.Stores[0].StoreID, q.Stores[1].StoreID, q.Stores[2].StoreID})
	assert.Len(t, q.Stores[0].Lines, 2)
}

func TestCalculate_RoundingResidueIsBounded(t *testing.T) {
	lines := []Line{
		{ProductID: "1", StoreID: "S1", UnitPrice: dec("1"), GST: dec("0"), Quantity: 1},
		{ProductID: "2", StoreID: "S2", UnitPrice: dec("1"), GST: dec("0"), Quantity: 1},
		{ProductID: "3", StoreID: "S3", UnitPrice: dec("1"), GST: dec("0"), Quantity: 1},
	}
	q := Calculate(lines, &coupon.Coupon{Code: "C", Discount: dec("33.33")}, false, flat)

	assertDec(t, "52.0001", q.Total, "grand total")
	assertDec(t, "50.67", q.Stores[0].Total, "S1 total")
	assertDec(t, "0.67", q.Stores[1].Total, "S2 total")

	residue := sumTotals(q).Sub(q.Total).Abs()
	assert.True(t, residue.LessThanOrEqual(dec("0.01").Mul(decimal.NewFromInt(int64(len(q.Stores))))),
		"residue %s too large", residue)
}

func TestCalculate_ZeroSubtotalDoesNotDivide(t *testing.T) {
	lines := []Line{{ProductID: "free", StoreID: "S1", UnitPrice: dec("0"), GST: dec("18"), Quantity: 2}}
	q := Calculate(lines, &coupon.Coupon{Code: "C", Discount: dec("10")}, false, flat)

	assertDec(t, "0", q.Discount, "discount")
	assertDec(t, "0", q.Stores[0].Discount, "store discount")
	assertDec(t, "50", q.Stores[0].Total, "store total")
}

func TestCalculate_QuantityMultipliesGST(t *testing.T) {
	lines := []Line{{ProductID: "A", StoreID: "S1", UnitPrice: dec("99.99"), GST: dec("18"), Quantity: 3}}
	q := Calculate(lines, nil, true, flat)

	assertDec(t, "299.97", q.Subtotal, "subtotal")
	assertDec(t, "53.9946", q.GSTAmount, "gst")
	assertDec(t, "353.96", q.Stores[0].Total, "rounded store total")
	assertDec(t, "353.9646", q.Total, "exact grand total")
}
