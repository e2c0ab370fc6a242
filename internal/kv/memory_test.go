package kv

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_PutGet(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Put("battery/house/ah", []byte("42.5")))

	v, ok, err := m.Get("battery/house/ah")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "42.5", string(v))
	assert.Equal(t, 1, m.Puts())

	_, ok, err = m.Get("nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_ValuesAreCopied(t *testing.T) {
	m := NewMemory()
	buf := []byte("abc")
	require.NoError(t, m.Put("k", buf))
	buf[0] = 'x'

	v, _, _ := m.Get("k")
	assert.Equal(t, "abc", string(v))

	v[1] = 'y'
	v2, _, _ := m.Get("k")
	assert.Equal(t, "abc", string(v2))
}

func TestMemory_FailPuts(t *testing.T) {
	m := NewMemory()
	boom := errors.New("flash worn out")
	m.FailPuts(boom)

	err := m.Put("k", []byte("1"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, m.Puts())

	m.FailPuts(nil)
	require.NoError(t, m.Put("k", []byte("1")))
	assert.Equal(t, 1, m.Puts())
}

func TestMemory_Keys(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Put("b", nil))
	require.NoError(t, m.Put("a", nil))

	assert.Equal(t, []string{"a", "b"}, m.Keys())
}

func TestMemory_Closed(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.Put("k", nil), ErrClosed)
	_, _, err := m.Get("k")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFloat64Store(t *testing.T) {
	m := NewMemory()
	f := Float64(m)

	_, ok, err := f.Read("battery/house/ah")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.Write("battery/house/ah", 87.123456789))
	v, ok, err := f.Read("battery/house/ah")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 87.123456789, v)
}

func TestFloat64Store_Corrupt(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Put("k", []byte("not-a-number")))

	_, ok, err := Float64(m).Read("k")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestFloat64Store_NonFinite(t *testing.T) {
	for _, raw := range []string{"NaN", "+Inf", "-Inf", "inf"} {
		m := NewMemory()
		require.NoError(t, m.Put("k", []byte(raw)))

		_, ok, err := Float64(m).Read("k")
		assert.ErrorIs(t, err, ErrNotFinite, raw)
		assert.False(t, ok, raw)
	}

	m := NewMemory()
	assert.ErrorIs(t, Float64(m).Write("k", math.NaN()), ErrNotFinite)
	assert.Equal(t, 0, m.Puts())
}

func TestFloat64Store_WriteError(t *testing.T) {
	m := NewMemory()
	m.FailPuts(errors.New("nvs full"))

	assert.Error(t, Float64(m).Write("k", 1))
}
