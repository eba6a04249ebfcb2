package repository

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mac(s string) net.HardwareAddr {
	m, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

func TestLearnAndLookup(t *testing.T) {
	table := NewMacLearningTable()
	a := mac("00:00:00:00:00:01")
	b := mac("00:00:00:00:00:02")

	_, ok := table.Lookup(1, a)
	assert.False(t, ok)

	port, ok := table.LearnAndLookup(1, a, 3, b)
	assert.False(t, ok, "destination not learned yet")
	assert.Zero(t, port)

	port, ok = table.LearnAndLookup(1, b, 4, a)
	require.True(t, ok)
	assert.Equal(t, uint32(3), port)

	// Last write wins when a host moves
	table.Learn(1, a, 7)
	port, ok = table.Lookup(1, a)
	require.True(t, ok)
	assert.Equal(t, uint32(7), port)
}

func TestAddressSpellingsShareAnEntry(t *testing.T) {
	table := NewMacLearningTable()
	table.Learn(1, mac("AA-BB-CC-DD-EE-FF"), 2)

	port, ok := table.Lookup(1, mac("aa:bb:cc:dd:ee:ff"))
	require.True(t, ok)
	assert.Equal(t, uint32(2), port)
	assert.Equal(t, 1, table.Count(1))
}

func TestSelfAddressedFrameResolvesToIngress(t *testing.T) {
	table := NewMacLearningTable()
	a := mac("00:00:00:00:00:01")

	port, ok := table.LearnAndLookup(1, a, 5, a)
	require.True(t, ok)
	assert.Equal(t, uint32(5), port)
}

func TestSwitchesAreIsolated(t *testing.T) {
	table := NewMacLearningTable()
	a := mac("00:00:00:00:00:01")

	table.Learn(1, a, 1)
	_, ok := table.Lookup(2, a)
	assert.False(t, ok)

	table.Learn(2, a, 9)
	p1, _ := table.Lookup(1, a)
	p2, _ := table.Lookup(2, a)
	assert.Equal(t, uint32(1), p1)
	assert.Equal(t, uint32(9), p2)
	assert.Equal(t, []uint64{1, 2}, table.Switches())
}

func TestForgetAndEntries(t *testing.T) {
	table := NewMacLearningTable()
	table.Learn(1, mac("00:00:00:00:00:02"), 2)
	table.Learn(1, mac("00:00:00:00:00:01"), 1)
	table.Learn(2, mac("00:00:00:00:00:03"), 3)

	entries := table.Entries(1)
	require.Len(t, entries, 2)
	assert.Equal(t, MacEntry{DPID: 1, MAC: "00:00:00:00:00:01", Port: 1}, entries[0])

	assert.Equal(t, 2, table.Forget(1))
	assert.Equal(t, 0, table.Forget(1))
	assert.Empty(t, table.Entries(1))
	assert.Equal(t, 1, table.Count(2))
	assert.Equal(t, []uint64{2}, table.Switches())
}

func TestConcurrentLearning(t *testing.T) {
	table := NewMacLearningTable()
	var wg sync.WaitGroup

	for sw := uint64(1); sw <= 4; sw++ {
		for worker := 0; worker < 4; worker++ {
			wg.Add(1)
			go func(sw uint64, worker int) {
				defer wg.Done()
				for i := 0; i < 64; i++ {
					src := net.HardwareAddr{0x02, 0, 0, 0, byte(worker), byte(i)}
					dst := net.HardwareAddr{0x02, 0, 0, 0, byte(worker), byte(i + 1)}
					table.LearnAndLookup(sw, src, uint32(i), dst)
				}
			}(sw, worker)
		}
	}
	wg.Wait()

	for sw := uint64(1); sw <= 4; sw++ {
		assert.Equal(t, 256, table.Count(sw))
	}
}
