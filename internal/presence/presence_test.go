package presence

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestTracker(t *testing.T, maxConn int) *Tracker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewTracker(client, maxConn, zerolog.Nop())
}

const walletDID = "eip155:0xF0030495802f8f90Ace6d869aBd653f2062fD1De"

func TestConnectDisconnectLifecycle(t *testing.T) {
	tr := newTestTracker(t, 5)
	ctx := context.Background()

	norm, wentOnline, err := tr.Connect(ctx, walletDID, "conn-1")
	if err != nil {
		t.Fatal(err)
	}
	if !wentOnline {
		t.Fatal("first connection should flip the DID online")
	}
	if norm != walletDID {
		t.Fatalf("normalized to %q", norm)
	}

	if _, wentOnline, _ := tr.Connect(ctx, walletDID, "conn-2"); wentOnline {
		t.Fatal("second connection reported as coming online")
	}

	if online, _ := tr.IsOnline(ctx, walletDID); !online {
		t.Fatal("DID with live connections reported offline")
	}

	if _, wentOffline, _ := tr.Disconnect(ctx, "conn-1"); wentOffline {
		t.Fatal("went offline with a connection remaining")
	}
	didStr, wentOffline, err := tr.Disconnect(ctx, "conn-2")
	if err != nil {
		t.Fatal(err)
	}
	if !wentOffline || didStr != walletDID {
		t.Fatalf("last disconnect: did=%q offline=%v", didStr, wentOffline)
	}
	if online, _ := tr.IsOnline(ctx, walletDID); online {
		t.Fatal("DID with no connections reported online")
	}
}

func TestConnectionCap(t *testing.T) {
	tr := newTestTracker(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, _, err := tr.Connect(ctx, walletDID, fmt.Sprintf("conn-%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := tr.Connect(ctx, walletDID, "conn-over"); !errors.Is(err, ErrTooManyConnections) {
		t.Fatalf("over-cap connect = %v, want ErrTooManyConnections", err)
	}
}

func TestNFTEpochNormalization(t *testing.T) {
	tr := newTestTracker(t, 5)
	ctx := context.Background()

	withEpoch := "nft:eip155:1:0xF0030495802f8f90Ace6d869aBd653f2062fD1De:42:1690000000"
	withoutEpoch := "nft:eip155:1:0xF0030495802f8f90Ace6d869aBd653f2062fD1De:42"

	if _, _, err := tr.Connect(ctx, withEpoch, "conn-1"); err != nil {
		t.Fatal(err)
	}
	online, err := tr.IsOnline(ctx, withoutEpoch)
	if err != nil {
		t.Fatal(err)
	}
	if !online {
		t.Fatal("epochless lookup missed the epoch-suffixed registration")
	}
}

func TestDisconnectUnknownConn(t *testing.T) {
	tr := newTestTracker(t, 5)
	didStr, wentOffline, err := tr.Disconnect(context.Background(), "never-registered")
	if err != nil || didStr != "" || wentOffline {
		t.Fatalf("unknown disconnect: %q %v %v", didStr, wentOffline, err)
	}
}

func TestOnlineOf(t *testing.T) {
	tr := newTestTracker(t, 5)
	ctx := context.Background()

	other := "eip155:0xDAB141eFC7Df3f3d1a97C06568140b2859F9BaC0"
	if _, _, err := tr.Connect(ctx, walletDID, "conn-1"); err != nil {
		t.Fatal(err)
	}
	online, err := tr.OnlineOf(ctx, []string{walletDID, other})
	if err != nil {
		t.Fatal(err)
	}
	if len(online) != 1 || online[0] != walletDID {
		t.Fatalf("OnlineOf = %v", online)
	}
}
