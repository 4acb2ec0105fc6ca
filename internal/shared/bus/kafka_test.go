package bus

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func fetched(partition int, offset int64) kafka.Message {
	return kafka.Message{Partition: partition, Offset: offset}
}

func TestAckFrontierHoldsCommitBehindUnackedDelivery(t *testing.T) {
	f := newAckFrontier()
	for off := int64(0); off < 3; off++ {
		f.observe(fetched(0, off))
	}

	// Offsets 1 and 2 are acked while 0 is still outstanding, as happens
	// when the first message of a batch fails its handler and the rest
	// succeed. Committing either would silently drop offset 0.
	if _, ok := f.ack(fetched(0, 1)); ok {
		t.Fatalf("commit must be held while offset 0 is unacked")
	}
	if _, ok := f.ack(fetched(0, 2)); ok {
		t.Fatalf("commit must be held while offset 0 is unacked")
	}

	commit, ok := f.ack(fetched(0, 0))
	if !ok {
		t.Fatalf("acking the gap must release the commit")
	}
	if commit.Offset != 2 {
		t.Fatalf("expected commit of the whole contiguous run (offset 2), got %d", commit.Offset)
	}
}

func TestAckFrontierCommitsContiguousAcksImmediately(t *testing.T) {
	f := newAckFrontier()
	f.observe(fetched(0, 10))
	f.observe(fetched(0, 11))

	commit, ok := f.ack(fetched(0, 10))
	if !ok || commit.Offset != 10 {
		t.Fatalf("expected immediate commit of offset 10, got %d (ok=%v)", commit.Offset, ok)
	}
	commit, ok = f.ack(fetched(0, 11))
	if !ok || commit.Offset != 11 {
		t.Fatalf("expected immediate commit of offset 11, got %d (ok=%v)", commit.Offset, ok)
	}
}

func TestAckFrontierPartitionsAreIndependent(t *testing.T) {
	f := newAckFrontier()
	f.observe(fetched(0, 0))
	f.observe(fetched(1, 5))

	commit, ok := f.ack(fetched(1, 5))
	if !ok || commit.Partition != 1 || commit.Offset != 5 {
		t.Fatalf("partition 1 must commit regardless of partition 0, got %+v (ok=%v)", commit, ok)
	}
	if _, ok := f.ack(fetched(1, 5)); ok {
		t.Fatalf("re-acking a committed offset must not commit again")
	}
}

func TestAckFrontierIgnoresOffsetsBelowCheckpoint(t *testing.T) {
	f := newAckFrontier()
	f.observe(fetched(0, 0))
	f.observe(fetched(0, 1))

	if commit, ok := f.ack(fetched(0, 0)); !ok || commit.Offset != 0 {
		t.Fatalf("expected commit of offset 0")
	}
	// A duplicate ack below the checkpoint is a no-op.
	if _, ok := f.ack(fetched(0, 0)); ok {
		t.Fatalf("offset below the checkpoint must not commit")
	}
	if commit, ok := f.ack(fetched(0, 1)); !ok || commit.Offset != 1 {
		t.Fatalf("expected commit of offset 1")
	}
}
