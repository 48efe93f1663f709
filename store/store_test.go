// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"fmt"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/require"
)

func b(s string) []byte { return []byte(s) }

func TestPutRejectsOversizedEntry(t *testing.T) {
	s := New(10)
	require.False(t, s.Put(b("toolongkey"), b("x"))) // 10 + 1 > 10
	require.Equal(t, 0, s.Len())
	require.Equal(t, 0, s.CurrentBytes())
}

func TestPutEvictsLRUToFit(t *testing.T) {
	s := New(10)
	require.True(t, s.Put(b("a"), b("1"))) // 2 bytes, total 2
	require.True(t, s.Put(b("b"), b("2"))) // 2 bytes, total 4
	require.True(t, s.Put(b("c"), b("3"))) // 2 bytes, total 6
	require.True(t, s.Put(b("d"), b("4"))) // 2 bytes, total 8
	require.True(t, s.Put(b("e"), b("5"))) // 2 bytes, total 10, exactly fits

	require.Equal(t, []string{"a", "b", "c", "d", "e"}, s.Keys())

	// Pushes total to 12; must evict "a" (LRU) to fit back to 10.
	require.True(t, s.Put(b("f"), b("6")))
	require.Equal(t, []string{"b", "c", "d", "e", "f"}, s.Keys())
	require.Equal(t, 10, s.CurrentBytes())
	require.EqualValues(t, 1, s.Evicted())
}

func TestGetTouchesToMRU(t *testing.T) {
	s := New(10)
	s.Put(b("a"), b("1"))
	s.Put(b("b"), b("2"))
	s.Put(b("c"), b("3"))
	require.Equal(t, []string{"a", "b", "c"}, s.Keys())

	v, ok := s.Get(b("a"))
	require.True(t, ok)
	require.Equal(t, "1", string(v))
	require.Equal(t, []string{"b", "c", "a"}, s.Keys())

	_, ok = s.Get(b("missing"))
	require.False(t, ok)
}

func TestPutIfAbsentDoesNotTouchOnHit(t *testing.T) {
	s := New(10)
	s.Put(b("a"), b("1"))
	s.Put(b("b"), b("2"))
	require.Equal(t, []string{"a", "b"}, s.Keys())

	require.False(t, s.PutIfAbsent(b("a"), b("9")))
	// "a" must not have moved to MRU, and its value is unchanged.
	require.Equal(t, []string{"a", "b"}, s.Keys())
	v, _ := s.Get(b("a"))
	require.Equal(t, "1", string(v))
}

func TestPutReplaceIsNotSelfEviction(t *testing.T) {
	s := New(10)
	s.Put(b("a"), b("12345")) // 6 bytes
	s.Put(b("b"), b("123"))   // 4 bytes, total 10

	// Replacing "a" with a same-size value keeps total at 10: no
	// eviction needed, and "a" (now MRU) must never evict itself.
	require.True(t, s.Put(b("a"), b("67890")))
	require.Equal(t, []string{"b", "a"}, s.Keys())
	require.EqualValues(t, 0, s.Evicted())
}

func TestSetOnMissingKeyFails(t *testing.T) {
	s := New(10)
	require.False(t, s.Set(b("a"), b("1")))
	require.Equal(t, 0, s.Len())
}

func TestSetTouchesAndReplaces(t *testing.T) {
	s := New(10)
	s.Put(b("a"), b("1"))
	s.Put(b("b"), b("2"))
	require.True(t, s.Set(b("a"), b("9")))
	require.Equal(t, []string{"b", "a"}, s.Keys())
	v, _ := s.Get(b("a"))
	require.Equal(t, "9", string(v))
}

func TestDelete(t *testing.T) {
	s := New(10)
	s.Put(b("a"), b("1"))
	require.True(t, s.Delete(b("a")))
	require.False(t, s.Delete(b("a")))
	require.Equal(t, 0, s.Len())
	require.Equal(t, 0, s.CurrentBytes())
}

// TestIndexAndListStayConsistent exercises a longer random-ish sequence
// of operations and checks, after each, that the index's key set and
// the list's key set agree exactly — the core structural invariant of
// an intrusive LRU.
func TestIndexAndListStayConsistent(t *testing.T) {
	s := New(40)
	ops := []struct {
		put bool
		key string
		val string
	}{
		{true, "k0", "v0"}, {true, "k1", "v1"}, {true, "k2", "v2"},
		{false, "k0", ""}, {true, "k3", "v3"}, {true, "k4", "v4"},
		{true, "k5", "v5"}, {false, "k2", ""}, {true, "k6", "v6v6v6"},
	}
	for _, op := range ops {
		if op.put {
			s.Put(b(op.key), b(op.val))
		} else {
			s.Delete(b(op.key))
		}

		listKeys := mapset.NewSet(s.Keys()...)
		indexKeys := mapset.NewSet[string]()
		for k := range s.index {
			indexKeys.Add(k)
		}
		require.True(t, listKeys.Equal(indexKeys))
		require.Equal(t, listKeys.Cardinality(), s.Len())
	}
}

func TestBytesAccountingNeverExceedsMax(t *testing.T) {
	s := New(10)
	for i := 0; i < 50; i++ {
		s.Put(b(fmt.Sprintf("key%d", i%7)), b(fmt.Sprintf("value-%d", i)))
		require.LessOrEqual(t, s.CurrentBytes(), s.MaxBytes())
	}
}
