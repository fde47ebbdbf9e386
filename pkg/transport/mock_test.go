package transport

import (
	"context"
	"fmt"
	"testing"

	"github.com/achxy/serialwarp/pkg/errors"
)

func TestMockPairCommunication(t *testing.T) {
	t1, t2 := NewMockPair()
	ctx := context.Background()

	data := []byte("hello world")
	if err := t1.Send(ctx, data); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	received, err := t2.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if string(received) != string(data) {
		t.Errorf("received = %q, want %q", received, data)
	}
}

func TestMockBidirectional(t *testing.T) {
	t1, t2 := NewMockPair()
	ctx := context.Background()

	if err := t1.Send(ctx, []byte("from 1")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	received, err := t2.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if string(received) != "from 1" {
		t.Errorf("received = %q, want %q", received, "from 1")
	}

	if err := t2.Send(ctx, []byte("from 2")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	received, err = t1.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if string(received) != "from 2" {
		t.Errorf("received = %q, want %q", received, "from 2")
	}
}

func TestMockClose(t *testing.T) {
	t1, t2 := NewMockPair()
	ctx := context.Background()

	if !t1.IsConnected() || !t2.IsConnected() {
		t.Fatal("expected both ends connected initially")
	}

	if err := t1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if t1.IsConnected() || t2.IsConnected() {
		t.Fatal("expected both ends disconnected after Close (shared flag)")
	}

	err := t1.Send(ctx, []byte("test"))
	if !errors.IsErrorCode(err, errors.ErrCodeDisconnected) {
		t.Fatalf("expected Disconnected error, got %v", err)
	}
}

func TestMockMultipleMessages(t *testing.T) {
	t1, t2 := NewMockPair()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := t1.Send(ctx, []byte(fmt.Sprintf("message %d", i))); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	for i := 0; i < 10; i++ {
		received, err := t2.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv %d failed: %v", i, err)
		}
		want := fmt.Sprintf("message %d", i)
		if string(received) != want {
			t.Errorf("message %d = %q, want %q", i, received, want)
		}
	}
}

func TestMockStatsTrackTraffic(t *testing.T) {
	t1, t2 := NewMockPair()
	ctx := context.Background()

	data := []byte("twelve bytes")
	if err := t1.Send(ctx, data); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if _, err := t2.Recv(ctx); err != nil {
		t.Fatalf("Recv failed: %v", err)
	}

	if t1.Stats().BytesSent() != uint64(len(data)) {
		t.Errorf("BytesSent() = %d, want %d", t1.Stats().BytesSent(), len(data))
	}
	if t2.Stats().BytesReceived() != uint64(len(data)) {
		t.Errorf("BytesReceived() = %d, want %d", t2.Stats().BytesReceived(), len(data))
	}
}
