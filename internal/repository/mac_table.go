package repository

import (
	"net"
	"sort"
	"sync"
)

// MacEntry is one learned (switch, address) -> port binding
type MacEntry struct {
	DPID uint64 `json:"dpid"`
	MAC  string `json:"mac"`
	Port uint32 `json:"port"`
}

type switchTable struct {
	mu    sync.RWMutex
	ports map[string]uint32
}

// MacLearningTable maps (datapath id, MAC address) to the port the address was
// last seen on. Each switch has its own lock so events from different
// switches do not contend. Entries never expire.
type MacLearningTable struct {
	mu       sync.RWMutex
	switches map[uint64]*switchTable
}

// NewMacLearningTable creates an empty learning table
func NewMacLearningTable() *MacLearningTable {
	return &MacLearningTable{
		switches: make(map[uint64]*switchTable),
	}
}

// key normalizes a hardware address so different spellings share an entry
func key(mac net.HardwareAddr) string {
	return mac.String()
}

func (t *MacLearningTable) get(dpid uint64) *switchTable {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.switches[dpid]
}

func (t *MacLearningTable) getOrCreate(dpid uint64) *switchTable {
	if st := t.get(dpid); st != nil {
		return st
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st, exists := t.switches[dpid]
	if !exists {
		st = &switchTable{ports: make(map[string]uint32)}
		t.switches[dpid] = st
	}
	return st
}

// Learn records that mac was seen on port of switch dpid. Last write wins.
func (t *MacLearningTable) Learn(dpid uint64, mac net.HardwareAddr, port uint32) {
	st := t.getOrCreate(dpid)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.ports[key(mac)] = port
}

// Lookup returns the learned port for mac on switch dpid
func (t *MacLearningTable) Lookup(dpid uint64, mac net.HardwareAddr) (uint32, bool) {
	st := t.get(dpid)
	if st == nil {
		return 0, false
	}

	st.mu.RLock()
	defer st.mu.RUnlock()
	port, ok := st.ports[key(mac)]
	return port, ok
}

// LearnAndLookup learns src on inPort and looks up dst as one atomic step
// for the switch. A frame addressed to its own source resolves to inPort.
func (t *MacLearningTable) LearnAndLookup(dpid uint64, src net.HardwareAddr, inPort uint32, dst net.HardwareAddr) (uint32, bool) {
	st := t.getOrCreate(dpid)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.ports[key(src)] = inPort
	port, ok := st.ports[key(dst)]
	return port, ok
}

// Forget drops every entry of switch dpid and reports how many were removed
func (t *MacLearningTable) Forget(dpid uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, exists := t.switches[dpid]
	if !exists {
		return 0
	}
	delete(t.switches, dpid)

	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.ports)
}

// Count returns the number of addresses learned on switch dpid
func (t *MacLearningTable) Count(dpid uint64) int {
	st := t.get(dpid)
	if st == nil {
		return 0
	}

	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.ports)
}

// Entries returns the entries of switch dpid sorted by address
func (t *MacLearningTable) Entries(dpid uint64) []MacEntry {
	st := t.get(dpid)
	if st == nil {
		return []MacEntry{}
	}

	st.mu.RLock()
	entries := make([]MacEntry, 0, len(st.ports))
	for mac, port := range st.ports {
		entries = append(entries, MacEntry{DPID: dpid, MAC: mac, Port: port})
	}
	st.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].MAC < entries[j].MAC
	})
	return entries
}

// Switches returns the datapath ids that have a table, in ascending order
func (t *MacLearningTable) Switches() []uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	dpids := make([]uint64, 0, len(t.switches))
	for dpid := range t.switches {
		dpids = append(dpids, dpid)
	}
	sort.Slice(dpids, func(i, j int) bool { return dpids[i] < dpids[j] })
	return dpids
}
