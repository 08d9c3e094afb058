package perpmath

import (
	"math/big"
	"testing"

	ui "github.com/holiman/uint256"
)

func TestMulDiv(t *testing.T) {
	// 2^200 * 3 / 2 does not fit a 256-bit intermediate without the
	// big.Int detour but the result does.
	a := new(ui.Int).Lsh(ui.NewInt(1), 200)
	got := MulDiv(a, ui.NewInt(3), ui.NewInt(2))
	want := new(ui.Int).Mul(new(ui.Int).Lsh(ui.NewInt(1), 199), ui.NewInt(3))
	if !got.Eq(want) {
		t.Errorf("MulDiv(2^200, 3, 2) = %s, want %s", got.Dec(), want.Dec())
	}

	// Floor semantics.
	if got := MulDiv(ui.NewInt(7), ui.NewInt(3), ui.NewInt(4)); !got.Eq(ui.NewInt(5)) {
		t.Errorf("MulDiv(7,3,4) = %s, want 5", got.Dec())
	}
}

func TestMulDivRoundingUp(t *testing.T) {
	if got := MulDivRoundingUp(ui.NewInt(7), ui.NewInt(3), ui.NewInt(4)); !got.Eq(ui.NewInt(6)) {
		t.Errorf("MulDivRoundingUp(7,3,4) = %s, want 6", got.Dec())
	}
	// Exact division does not round.
	if got := MulDivRoundingUp(ui.NewInt(8), ui.NewInt(3), ui.NewInt(4)); !got.Eq(ui.NewInt(6)) {
		t.Errorf("MulDivRoundingUp(8,3,4) = %s, want 6", got.Dec())
	}
}

func TestDivRoundingUp(t *testing.T) {
	if got := DivRoundingUp(ui.NewInt(10), ui.NewInt(3)); !got.Eq(ui.NewInt(4)) {
		t.Errorf("DivRoundingUp(10,3) = %s, want 4", got.Dec())
	}
	if got := DivRoundingUp(ui.NewInt(9), ui.NewInt(3)); !got.Eq(ui.NewInt(3)) {
		t.Errorf("DivRoundingUp(9,3) = %s, want 3", got.Dec())
	}
}

func TestWrappingSub(t *testing.T) {
	// 1 - 2 wraps to 2^256 - 1.
	got := WrappingSub(ui.NewInt(1), ui.NewInt(2))
	want := new(ui.Int).Not(ui.NewInt(0))
	if !got.Eq(want) {
		t.Errorf("WrappingSub(1,2) = %s, want max uint256", got.Dec())
	}

	// Accumulator growth survives a wraparound: (a+d) - a == d mod 2^256.
	a := new(ui.Int).Not(ui.NewInt(10)) // near-max accumulator
	d := ui.NewInt(100)
	after := new(ui.Int).Add(a, d) // wraps
	if got := WrappingSub(after, a); !got.Eq(d) {
		t.Errorf("wrapped delta = %s, want %s", got.Dec(), d.Dec())
	}
}

func TestBigMulDivTruncatesTowardZero(t *testing.T) {
	cases := []struct {
		a, b, den int64
		want      int64
	}{
		{7, 3, 4, 5},
		{-7, 3, 4, -5},
		{7, -3, 4, -5},
		{-7, -3, 4, 5},
	}
	for _, tc := range cases {
		got := BigMulDiv(big.NewInt(tc.a), big.NewInt(tc.b), big.NewInt(tc.den))
		if got.Int64() != tc.want {
			t.Errorf("BigMulDiv(%d,%d,%d) = %s, want %d", tc.a, tc.b, tc.den, got, tc.want)
		}
	}
}

func TestFromBigPanicsOnNegative(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on negative input")
		}
	}()
	FromBig(big.NewInt(-1))
}
