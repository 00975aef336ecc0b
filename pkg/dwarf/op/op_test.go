package op

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCtx struct {
	regs map[uint64]uint64
	mem  map[uint64]uint64
	fb   uint64
	cfa  uint64
}

func (c *fakeCtx) Reg(n uint64) (uint64, bool) { v, ok := c.regs[n]; return v, ok }
func (c *fakeCtx) ReadMemory(addr uint64, size int) (uint64, error) {
	return c.mem[addr], nil
}
func (c *fakeCtx) FrameBase() (uint64, error)    { return c.fb, nil }
func (c *fakeCtx) CallFrameCFA() (uint64, error) { return c.cfa, nil }

func TestEvaluateLiteralPlus(t *testing.T) {
	// DW_OP_lit5 DW_OP_lit3 DW_OP_plus
	expr := []byte{0x30 + 5, 0x30 + 3, opPlus}
	res, err := Evaluate(expr, 8, &fakeCtx{})
	require.NoError(t, err)
	assert.Equal(t, ResultAddress, res.Kind)
	assert.EqualValues(t, 8, res.Value)
}

func TestEvaluateBareRegisterResult(t *testing.T) {
	res, err := Evaluate([]byte{opReg0 + 6}, 8, &fakeCtx{})
	require.NoError(t, err)
	assert.Equal(t, ResultRegister, res.Kind)
	assert.EqualValues(t, 6, res.Reg)
}

func TestEvaluateFbregAndStackValue(t *testing.T) {
	ctx := &fakeCtx{fb: 0x100}
	// DW_OP_fbreg -16, DW_OP_stack_value
	expr := []byte{opFbreg, 0x70 /* SLEB128(-16) */, opStackValue}
	res, err := Evaluate(expr, 8, ctx)
	require.NoError(t, err)
	assert.Equal(t, ResultValue, res.Kind)
	assert.EqualValues(t, 0xf0, res.Value)
}

func TestEvaluateDivByZeroFails(t *testing.T) {
	expr := []byte{0x30 + 5, 0x30 + 0, opDiv}
	_, err := Evaluate(expr, 8, &fakeCtx{})
	assert.Error(t, err)
}

func TestEvaluateEmptyStackPopFails(t *testing.T) {
	_, err := Evaluate([]byte{opDup}, 8, &fakeCtx{})
	assert.Error(t, err)
}

func TestEvaluateCallFrameCFA(t *testing.T) {
	ctx := &fakeCtx{cfa: 0x7ffe0000}
	res, err := Evaluate([]byte{opCallFrameCFA}, 8, ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0x7ffe0000, res.Value)
}
