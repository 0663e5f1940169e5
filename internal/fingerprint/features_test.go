package fingerprint

import (
	"testing"
	"time"

	"github.com/doublegate/prort-ip/internal/engine"
	"github.com/doublegate/prort-ip/internal/scanning"
)

func seqReplies(isns []uint32, ids []uint16) []probeReply {
	base := time.Now()
	var out []probeReply
	for i, isn := range isns {
		out = append(out, probeReply{
			kind: probeKind(int(probeSeq1) + i), ok: true, isn: isn,
			ipid: ids[i], hasIPID: true, at: base.Add(time.Duration(i) * time.Millisecond),
			reply: engine.ParsedReply{SYN: true, ACK: true},
		})
	}
	return out
}

func TestIsnGCDOfConstantStepIsTheStep(t *testing.T) {
	replies := seqReplies([]uint32{1000, 2000, 3000, 4000}, []uint16{1, 2, 3, 4})
	if got := isnGCD(replies); got != 1000 {
		t.Fatalf("got gcd=%d, want 1000", got)
	}
}

func TestIPIDClassIncrementForSmallSteps(t *testing.T) {
	replies := seqReplies([]uint32{1, 2, 3, 4}, []uint16{100, 101, 102, 103})
	if got := ipidClass(replies); got != scanning.IPIDIncrement {
		t.Fatalf("got %v, want Increment", got)
	}
}

func TestIPIDClassZeroWhenAllZero(t *testing.T) {
	replies := seqReplies([]uint32{1, 2, 3, 4}, []uint16{0, 0, 0, 0})
	if got := ipidClass(replies); got != scanning.IPIDZero {
		t.Fatalf("got %v, want Zero", got)
	}
}

func TestIPIDClassBrokenIncrementOnLargeJump(t *testing.T) {
	replies := seqReplies([]uint32{1, 2, 3, 4}, []uint16{100, 40000, 200, 50000})
	if got := ipidClass(replies); got != scanning.IPIDBrokenIncrement {
		t.Fatalf("got %v, want BrokenIncrement", got)
	}
}

func TestIPIDClassUnknownWithoutEnoughSamples(t *testing.T) {
	if got := ipidClass(nil); got != scanning.IPIDUnknown {
		t.Fatalf("got %v, want Unknown", got)
	}
}

func TestFlagByteEncodesSetBits(t *testing.T) {
	b := flagByte(engine.ParsedReply{SYN: true, ACK: true})
	if b != 0b0011 {
		t.Fatalf("got %b, want 0b0011", b)
	}
}
