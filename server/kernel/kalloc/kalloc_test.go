package kalloc

import (
	"bytes"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xkernel/server/kernel/param"
	"github.com/zhukovaskychina/xkernel/server/kernel/proc"
)

const (
	testBase  = PA(param.KERNBASE)
	testPages = 64
)

func newTestKmem(t *testing.T, ncpu int, opts ...Option) (*Kmem, *proc.Table) {
	t.Helper()
	mem, err := NewMemory(testBase, testPages*param.PGSIZE, false)
	require.NoError(t, err)
	return New(mem, ncpu, opts...), proc.NewTable(ncpu)
}

func TestInitDistribution(t *testing.T) {
	t.Run("TestBootCore", func(t *testing.T) {
		k, tbl := newTestKmem(t, 4)
		k.Init(tbl.CPU(2), testBase, testBase+testPages*param.PGSIZE)

		if diff := cmp.Diff([]int{0, 0, testPages, 0}, k.PoolSizes()); diff != "" {
			t.Errorf("pool sizes mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, testPages, k.FreeCount())
	})

	t.Run("TestStriped", func(t *testing.T) {
		k, tbl := newTestKmem(t, 4, WithDistribution(DistStriped))
		k.Init(tbl.CPU(0), testBase, testBase+testPages*param.PGSIZE)

		want := []int{testPages / 4, testPages / 4, testPages / 4, testPages / 4}
		if diff := cmp.Diff(want, k.PoolSizes()); diff != "" {
			t.Errorf("pool sizes mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("TestUnalignedRangeRoundsInward", func(t *testing.T) {
		k, tbl := newTestKmem(t, 1)
		k.Init(tbl.CPU(0), testBase+100, testBase+10*param.PGSIZE+5)

		// 第一页从 testBase+PGSIZE 开始，最后一个完整页结束于 testBase+10*PGSIZE
		assert.Equal(t, 9, k.FreeCount())
		pa, ok := k.Alloc(tbl.CPU(0))
		require.True(t, ok)
		assert.Equal(t, uint64(0), uint64(pa)%param.PGSIZE)
		assert.GreaterOrEqual(t, uint64(pa), uint64(testBase+param.PGSIZE))
	})
}

func TestParseDistribution(t *testing.T) {
	d, err := ParseDistribution("striped")
	require.NoError(t, err)
	assert.Equal(t, DistStriped, d)

	d, err = ParseDistribution("")
	require.NoError(t, err)
	assert.Equal(t, DistBootCore, d)

	_, err = ParseDistribution("numa")
	assert.Error(t, err)
}

func TestFreeThenAllocReturnsSamePage(t *testing.T) {
	k, tbl := newTestKmem(t, 2)
	k.Init(tbl.CPU(0), testBase, testBase+testPages*param.PGSIZE)
	c := tbl.CPU(0)

	p, ok := k.Alloc(c)
	require.True(t, ok)
	q, ok := k.Alloc(c)
	require.True(t, ok)
	require.NotEqual(t, p, q)

	k.Free(c, p)
	got, ok := k.Alloc(c)
	require.True(t, ok)
	assert.Equal(t, p, got)
}

func TestFillPatterns(t *testing.T) {
	k, tbl := newTestKmem(t, 1)
	k.Init(tbl.CPU(0), testBase, testBase+testPages*param.PGSIZE)
	c := tbl.CPU(0)

	pa, ok := k.Alloc(c)
	require.True(t, ok)
	assert.True(t, bytes.Equal(bytes.Repeat([]byte{param.JunkByte}, param.PGSIZE), k.Page(pa)))

	copy(k.Page(pa), "live data")
	k.Free(c, pa)
	assert.True(t, bytes.Equal(bytes.Repeat([]byte{param.PoisonByte}, param.PGSIZE), k.Page(pa)))
}

func TestSteal(t *testing.T) {
	t.Run("TestStealWhenLocalEmpty", func(t *testing.T) {
		k, tbl := newTestKmem(t, 4)
		k.Init(tbl.CPU(0), testBase, testBase+testPages*param.PGSIZE)

		pa, ok := k.Alloc(tbl.CPU(3))
		require.True(t, ok)
		assert.NotZero(t, pa)
		assert.Equal(t, int64(1), k.Stats().Steals)
		assert.Equal(t, []int{testPages - 1, 0, 0, 0}, k.PoolSizes())
	})

	t.Run("TestStopAfterFirstSteal", func(t *testing.T) {
		k, tbl := newTestKmem(t, 4)
		k.Init(tbl.CPU(0), testBase, testBase+testPages*param.PGSIZE)

		// 把两页分别放到 cpu2 和 cpu3，cpu0 清空
		var pages []PA
		for {
			pa, ok := k.Alloc(tbl.CPU(0))
			if !ok {
				break
			}
			pages = append(pages, pa)
		}
		require.Len(t, pages, testPages)
		k.Free(tbl.CPU(2), pages[0])
		k.Free(tbl.CPU(3), pages[1])

		pa, ok := k.Alloc(tbl.CPU(1))
		require.True(t, ok)
		assert.Equal(t, pages[0], pa)
		assert.Equal(t, []int{0, 0, 0, 1}, k.PoolSizes())
	})

	t.Run("TestAllExhausted", func(t *testing.T) {
		k, tbl := newTestKmem(t, 2)
		k.Init(tbl.CPU(0), testBase, testBase+4*param.PGSIZE)
		for i := 0; i < 4; i++ {
			_, ok := k.Alloc(tbl.CPU(i % 2))
			require.True(t, ok)
		}
		_, ok := k.Alloc(tbl.CPU(1))
		assert.False(t, ok)
		assert.Equal(t, int64(1), k.Stats().Failures)
	})
}

func TestFreeContract(t *testing.T) {
	k, tbl := newTestKmem(t, 1)
	start := testBase + 2*param.PGSIZE
	// 终点不对齐，最后一页不完整
	end := testBase + 10*param.PGSIZE + 5
	k.Init(tbl.CPU(0), start, end)
	c := tbl.CPU(0)
	require.Equal(t, 8, k.FreeCount())

	tests := []struct {
		name string
		pa   PA
	}{
		{"TestUnaligned", start + 8},
		{"TestBelowStart", testBase},
		{"TestPartialTailPage", testBase + 10*param.PGSIZE},
		{"TestPastEnd", testBase + 11*param.PGSIZE},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Panics(t, func() { k.Free(c, tt.pa) })
		})
	}
	assert.Equal(t, 0, c.Noff())
	assert.Equal(t, 8, k.FreeCount())

	lo, hi := k.Range()
	assert.Equal(t, start, lo)
	assert.Equal(t, testBase+10*param.PGSIZE, hi)
}

func TestUnalignedMemoryBase(t *testing.T) {
	base := testBase + 0x100
	mem, err := NewMemory(base, 16*param.PGSIZE, false)
	require.NoError(t, err)
	k := New(mem, 1)
	tbl := proc.NewTable(1)
	c := tbl.CPU(0)
	k.Init(c, mem.Base(), mem.End())

	// 只有 [testBase+PGSIZE, testBase+16*PGSIZE) 是完整的页
	require.Equal(t, 15, k.FreeCount())
	seen := make(map[PA]bool)
	for {
		pa, ok := k.Alloc(c)
		if !ok {
			break
		}
		assert.Zero(t, uint64(pa)%param.PGSIZE, "pa %#x", uint64(pa))
		assert.GreaterOrEqual(t, uint64(pa), uint64(testBase+param.PGSIZE))
		assert.LessOrEqual(t, uint64(pa)+param.PGSIZE, uint64(mem.End()))
		assert.False(t, seen[pa])
		seen[pa] = true
		// 写满整页不能越界到相邻的页
		page := k.Page(pa)
		for i := range page {
			page[i] = byte(len(seen))
		}
	}
	assert.Len(t, seen, 15)
	for pa := range seen {
		assert.Equal(t, bytes.Repeat([]byte{k.Page(pa)[0]}, param.PGSIZE), k.Page(pa))
		k.Free(c, pa)
	}
	assert.Equal(t, 15, k.FreeCount())
}

func TestConcurrentAllocFree(t *testing.T) {
	const ncpu = 4
	k, tbl := newTestKmem(t, ncpu)
	k.Init(tbl.CPU(0), testBase, testBase+testPages*param.PGSIZE)

	var mu sync.Mutex
	owned := make(map[PA]int)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			tbl.Run("kalloctest", func(p *proc.Proc) {
				for i := 0; i < 200; i++ {
					pa, ok := k.Alloc(p.CPU())
					if !ok {
						continue
					}
					mu.Lock()
					if prev, dup := owned[pa]; dup {
						mu.Unlock()
						t.Errorf("page %#x handed to %d while owned by %d", uint64(pa), w, prev)
						return
					}
					owned[pa] = w
					mu.Unlock()

					k.Page(pa)[0] = byte(w)

					mu.Lock()
					delete(owned, pa)
					mu.Unlock()
					k.Free(p.CPU(), pa)
				}
			})
		}(w)
	}
	wg.Wait()

	assert.Equal(t, testPages, k.FreeCount())
	st := k.Stats()
	assert.Equal(t, st.Allocs, st.Frees)
}

func TestMmapMemory(t *testing.T) {
	mem, err := NewMemory(testBase, 16*param.PGSIZE, true)
	require.NoError(t, err)
	assert.Equal(t, testBase+16*param.PGSIZE, mem.End())

	b := mem.Bytes(testBase+param.PGSIZE, 4)
	copy(b, "page")
	assert.Equal(t, "page", string(mem.Bytes(testBase+param.PGSIZE, 4)))
	assert.Panics(t, func() { mem.Bytes(mem.End(), 1) })

	require.NoError(t, mem.Close())
	require.NoError(t, mem.Close())
}
