package iterator

import (
	"net/netip"
	"strconv"
	"testing"

	"github.com/doublegate/prort-ip/internal/scanning"
)

func addrs(n int) []netip.Addr {
	out := make([]netip.Addr, n)
	for i := 0; i < n; i++ {
		out[i] = netip.AddrFrom4([4]byte{10, 0, 0, byte(i + 1)})
	}
	return out
}

func TestIteratorVisitsEveryPairExactlyOnce(t *testing.T) {
	ports, err := scanning.NewPortSpec(scanning.PortRange{Start: 80, End: 82})
	if err != nil {
		t.Fatal(err)
	}
	it := New(addrs(3), ports, scanning.ProtocolTCP, scanning.ScanKindSYN, 0xdeadbeef, 0)

	seen := make(map[string]bool)
	count := 0
	for {
		task, ok := it.Next()
		if !ok {
			break
		}
		key := task.Host.String() + ":" + strconv.Itoa(int(task.Port))
		if seen[key] {
			t.Fatalf("duplicate task %s", key)
		}
		seen[key] = true
		count++
	}
	if count != 9 {
		t.Fatalf("visited %d tasks, want 9", count)
	}
}

func TestIteratorDifferentKeysDifferentOrder(t *testing.T) {
	ports, _ := scanning.NewPortSpec(scanning.PortRange{Start: 1, End: 20})
	it1 := New(addrs(5), ports, scanning.ProtocolTCP, scanning.ScanKindSYN, 1, 0)
	it2 := New(addrs(5), ports, scanning.ProtocolTCP, scanning.ScanKindSYN, 2, 0)

	var first1, first2 []uint16
	for i := 0; i < 5; i++ {
		t1, _ := it1.Next()
		t2, _ := it2.Next()
		first1 = append(first1, t1.Port)
		first2 = append(first2, t2.Port)
	}
	same := true
	for i := range first1 {
		if first1[i] != first2[i] {
			same = false
		}
	}
	if same {
		t.Fatal("two different scan keys produced identical orderings")
	}
}

func TestIteratorExclusionStillConsumesIndex(t *testing.T) {
	ports, _ := scanning.NewPortSpec(scanning.PortRange{Start: 1, End: 1})
	as := addrs(4)
	it := New(as, ports, scanning.ProtocolTCP, scanning.ScanKindSYN, 7, 0)
	it.SetExclusion(func(a netip.Addr) bool { return a == as[0] })

	count := 0
	for {
		task, ok := it.Next()
		if !ok {
			break
		}
		if task.Host == as[0] {
			t.Fatal("excluded host was emitted")
		}
		count++
	}
	if count != 3 {
		t.Fatalf("got %d tasks, want 3 (excluded host still consumes its slot)", count)
	}
}

// TestIteratorTotalityOddBitLength pins N=100, whose bit-length (7) is
// odd: a balanced halfBits=3/3 split only covers a 64-element domain and
// silently drops the remaining 36 pairs. Every pair must still surface
// exactly once.
func TestIteratorTotalityOddBitLength(t *testing.T) {
	ports, err := scanning.NewPortSpec(scanning.PortRange{Start: 1, End: 100})
	if err != nil {
		t.Fatal(err)
	}
	it := New(addrs(1), ports, scanning.ProtocolTCP, scanning.ScanKindSYN, 0x1234, 0)

	seen := make(map[uint16]bool)
	count := 0
	for {
		task, ok := it.Next()
		if !ok {
			break
		}
		if seen[task.Port] {
			t.Fatalf("duplicate port %d", task.Port)
		}
		seen[task.Port] = true
		count++
	}
	if count != 100 {
		t.Fatalf("visited %d of 100 pairs — permutation domain is too small", count)
	}
}

func TestIteratorResumeFromOffset(t *testing.T) {
	ports, _ := scanning.NewPortSpec(scanning.PortRange{Start: 1, End: 10})
	it := New(addrs(10), ports, scanning.ProtocolTCP, scanning.ScanKindSYN, 42, 0)

	var all []scanning.ScanTask
	for {
		task, ok := it.Next()
		if !ok {
			break
		}
		all = append(all, task)
	}

	resumed := New(addrs(10), ports, scanning.ProtocolTCP, scanning.ScanKindSYN, 42, uint64(len(all)/2))
	var tail []scanning.ScanTask
	for {
		task, ok := resumed.Next()
		if !ok {
			break
		}
		tail = append(tail, task)
	}

	if len(tail) >= len(all) {
		t.Fatalf("resumed iterator produced %d tasks, expected fewer than full run's %d", len(tail), len(all))
	}
}
