package core

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func offerFrom(t *testing.T, nodeID string, contract *Contract) *Offer {
	t.Helper()
	return NewOffer(Contact{NodeID: nodeID, Address: "127.0.0.1", Port: 4000}, contract)
}

func TestOfferStreamRejectsDuplicateFarmer(t *testing.T) {
	renter, farmer := testKeyRing(t), testKeyRing(t)
	contract := completeContract(t, renter, farmer, []byte("offer shard"))
	stream := NewOfferStream(contract, OfferStreamOptions{MaxOffers: 1}, nil)

	first := offerFrom(t, "farmer-a", contract)
	if err := stream.Enqueue(first); err != nil {
		t.Fatalf("first offer rejected: %v", err)
	}

	dup := offerFrom(t, "farmer-a", contract)
	err := stream.Enqueue(dup)
	if !errors.Is(err, ErrOfferRejected) {
		t.Fatalf("expected ErrOfferRejected, got %v", err)
	}
	if err.Error() != "Storage offer rejected" {
		t.Fatalf("rejection message %q", err.Error())
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := dup.Wait(ctx); !errors.Is(err, ErrOfferRejected) {
		t.Fatalf("callback should carry the rejection, got %v", err)
	}

	// Queue is full: a different farmer is rejected too.
	other := offerFrom(t, "farmer-b", contract)
	if err := stream.Enqueue(other); !errors.Is(err, ErrOfferRejected) {
		t.Fatalf("expected ErrOfferRejected for full queue, got %v", err)
	}
}

func TestOfferStreamBoundAndOrder(t *testing.T) {
	renter, farmer := testKeyRing(t), testKeyRing(t)
	contract := completeContract(t, renter, farmer, []byte("ordered shard"))
	stream := NewOfferStream(contract, OfferStreamOptions{MaxOffers: 3}, nil)

	ids := []string{"farmer-1", "farmer-2", "farmer-3"}
	for _, id := range ids {
		if err := stream.Enqueue(offerFrom(t, id, contract)); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, want := range ids {
		offer, err := stream.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if offer.Contact.NodeID != want {
			t.Fatalf("delivery order broken: got %s want %s", offer.Contact.NodeID, want)
		}
	}

	// All offers processed: the stream ends.
	if _, err := stream.Next(ctx); err != io.EOF {
		t.Fatalf("expected EOF after max offers processed, got %v", err)
	}
	if err := stream.Enqueue(offerFrom(t, "farmer-4", contract)); !errors.Is(err, ErrOfferRejected) {
		t.Fatalf("post-completion enqueue should reject, got %v", err)
	}
}

func TestOfferStreamRejectsIncompleteContract(t *testing.T) {
	renter := testKeyRing(t)
	incomplete := testDescriptor(t, renter, []byte("incomplete"))
	stream := NewOfferStream(incomplete, OfferStreamOptions{MaxOffers: 2}, nil)

	err := stream.Enqueue(offerFrom(t, "farmer-a", incomplete))
	if !errors.Is(err, ErrIncompleteContract) {
		t.Fatalf("expected ErrIncompleteContract, got %v", err)
	}
}

func TestOfferStreamBlacklist(t *testing.T) {
	renter, farmer := testKeyRing(t), testKeyRing(t)
	contract := completeContract(t, renter, farmer, []byte("blacklist shard"))
	stream := NewOfferStream(contract, OfferStreamOptions{
		MaxOffers:       2,
		FarmerBlacklist: []string{"banned"},
	}, nil)

	if err := stream.Enqueue(offerFrom(t, "banned", contract)); !errors.Is(err, ErrOfferRejected) {
		t.Fatalf("blacklisted farmer should be rejected, got %v", err)
	}
}

func TestOfferStreamDestroy(t *testing.T) {
	renter, farmer := testKeyRing(t), testKeyRing(t)
	contract := completeContract(t, renter, farmer, []byte("destroy shard"))
	stream := NewOfferStream(contract, OfferStreamOptions{MaxOffers: 4}, nil)

	queued := offerFrom(t, "farmer-a", contract)
	if err := stream.Enqueue(queued); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	stream.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := queued.Wait(ctx); !errors.Is(err, ErrStreamDestroyed) {
		t.Fatalf("queued offer should be drained with an error, got %v", err)
	}
	if _, err := stream.Next(ctx); err != io.EOF {
		t.Fatalf("pending readers should receive end, got %v", err)
	}
	if err := stream.Enqueue(offerFrom(t, "farmer-b", contract)); !errors.Is(err, ErrOfferRejected) {
		t.Fatalf("destroyed stream should reject offers, got %v", err)
	}
}

func TestOfferRegistryUnhandledHook(t *testing.T) {
	registry := NewOfferRegistry()
	notified := make(chan Contact, 1)
	registry.SetUnhandledOfferHook(func(contact Contact, _ *Contract) {
		notified <- contact
	})
	registry.notifyUnhandled(Contact{NodeID: "lost-farmer"}, nil)
	select {
	case c := <-notified:
		if c.NodeID != "lost-farmer" {
			t.Fatalf("unexpected contact %s", c.NodeID)
		}
	case <-time.After(time.Second):
		t.Fatal("unhandled offer hook never fired")
	}
}
